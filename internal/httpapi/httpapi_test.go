package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/prompt-battle/internal/battle"
	"github.com/park285/prompt-battle/internal/battlews"
	"github.com/park285/prompt-battle/internal/content"
	"github.com/park285/prompt-battle/internal/store"
)

type downGen struct{}

func (downGen) GenerateTopic(context.Context) (string, error) { return "", errors.New("upstream down") }
func (downGen) GenerateImage(context.Context, string) (string, error) {
	return "", errors.New("upstream down")
}

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func newClient(t *testing.T, gen battle.Generator) *client {
	t.Helper()
	mgr := battle.NewManager(store.NewMemory(), gen)
	srv := httptest.NewServer(SetupRoutes(mgr, Options{GenerationTimeout: 5 * time.Second}))
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv}
}

func (c *client) do(method, path, who string, body any, out any) int {
	c.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(c.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rd)
	require.NoError(c.t, err)
	if who != "" {
		req.Header.Set(ParticipantHeader, who)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (c *client) create(settings battle.Settings) battle.Created {
	c.t.Helper()
	var created battle.Created
	status := c.do(http.MethodPost, "/battles", "H", map[string]any{"name": "Lunch battle", "hostName": "Hana", "settings": settings}, &created)
	require.Equal(c.t, http.StatusCreated, status)
	return created
}

func (c *client) join(code, who, role string) {
	c.t.Helper()
	status := c.do(http.MethodPost, "/battles/join", who, map[string]string{"code": code, "displayName": who, "role": role}, nil)
	require.Equal(c.t, http.StatusOK, status)
}

func placard() *content.Placard {
	return content.NewPlacard(content.WithTopics([]string{"Cats in space"}), content.WithSize(64))
}

func TestHealthz(t *testing.T) {
	c := newClient(t, placard())
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", "", nil, nil))
}

func TestFullRoundOverHTTP(t *testing.T) {
	c := newClient(t, placard())
	created := c.create(battle.Settings{})
	c.join(strings.ToLower(created.BattleCode), "A", "contestant")
	c.join(created.BattleCode, "B", "contestant")
	c.join(created.BattleCode, "S", "spectator")

	var resolved map[string]string
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/battles/by-code/"+created.BattleCode, "", nil, &resolved))
	require.Equal(t, created.BattleID, resolved["battleId"])

	base := "/battles/" + created.BattleID
	var rd battle.Round
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, base+"/rounds", "H", nil, &rd))
	require.Equal(t, 1, rd.RoundNumber)
	require.Equal(t, "Cats in space", rd.Topic)

	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, base+"/rounds/1/submissions", "A", map[string]string{"prompt": "cat astronaut"}, nil))
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, base+"/rounds/1/submissions", "B", map[string]string{"prompt": "moon kitten"}, nil))

	var sub battle.Submission
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, base+"/rounds/1/submissions/A/generate", "H", nil, &sub))
	require.Equal(t, battle.GenCompleted, sub.GenerationStatus)
	require.True(t, strings.HasPrefix(sub.ImageURL, "data:image/png;base64,"))

	require.Equal(t, http.StatusOK, c.do(http.MethodPost, base+"/rounds/1/voting", "H", nil, nil))
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, base+"/rounds/1/votes", "B", map[string]string{"votedFor": "A"}, nil))
	require.Equal(t, http.StatusForbidden, c.do(http.MethodPost, base+"/rounds/1/votes", "S", map[string]string{"votedFor": "A"}, nil))

	var res battle.RoundResults
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, base+"/rounds/1/winner", "H", map[string]string{"winnerId": "A"}, &res))
	require.Equal(t, "A", res.Winner)

	var v battle.View
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, base, "", nil, &v))
	require.Equal(t, battle.PhaseCompleted, v.Phase)
	require.Equal(t, 1, v.Battle.Participants["A"].Score)
	require.Equal(t, "A", v.Standings[0].ParticipantID)
}

func TestErrorMapping(t *testing.T) {
	c := newClient(t, placard())
	created := c.create(battle.Settings{})
	c.join(created.BattleCode, "A", "contestant")
	base := "/battles/" + created.BattleID

	cases := []struct {
		name   string
		method string
		path   string
		who    string
		body   any
		status int
		code   string
	}{
		{"unknown battle", http.MethodGet, "/battles/nope", "", nil, http.StatusNotFound, "not_found"},
		{"unknown code", http.MethodGet, "/battles/by-code/ZZZZZZ", "", nil, http.StatusNotFound, "not_found"},
		{"contestant starts round", http.MethodPost, base + "/rounds", "A", nil, http.StatusForbidden, "unauthorized"},
		{"missing round", http.MethodPost, base + "/rounds/3/voting", "H", nil, http.StatusNotFound, "not_found"},
		{"bad round", http.MethodPost, base + "/rounds/zero/voting", "H", nil, http.StatusBadRequest, "invalid_argument"},
		{"bad json", http.MethodPost, base + "/messages", "A", "{", http.StatusBadRequest, "invalid_argument"},
		{"empty body", http.MethodPost, base + "/messages", "A", "", http.StatusBadRequest, "invalid_argument"},
		{"unknown field", http.MethodPost, base + "/messages", "A", `{"text":"hi"}`, http.StatusBadRequest, "invalid_argument"},
		{"bad presence", http.MethodPut, base + "/presence", "A", `{"status":"asleep"}`, http.StatusBadRequest, "invalid_argument"},
		{"host role", http.MethodPost, "/battles/join", "X", map[string]string{"code": created.BattleCode, "role": "host"}, http.StatusForbidden, "unauthorized"},
		{"no host id", http.MethodPost, "/battles", "", map[string]string{"name": "x"}, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorBody
			require.Equal(t, tc.status, c.do(tc.method, tc.path, tc.who, tc.body, &body))
			require.Equal(t, tc.code, body.Error)
			require.NotEmpty(t, body.Message)
		})
	}
}

func TestPreconditionAndGenerationErrors(t *testing.T) {
	c := newClient(t, downGen{})
	created := c.create(battle.Settings{})
	base := "/battles/" + created.BattleID

	var body errorBody
	require.Equal(t, http.StatusBadGateway, c.do(http.MethodPost, base+"/rounds", "H", nil, &body))
	require.Equal(t, "generation_failed", body.Error)

	c2 := newClient(t, placard())
	created = c2.create(battle.Settings{})
	base = "/battles/" + created.BattleID
	require.Equal(t, http.StatusCreated, c2.do(http.MethodPost, base+"/rounds", "H", nil, nil))
	require.Equal(t, http.StatusConflict, c2.do(http.MethodPost, base+"/rounds", "H", nil, &body))
	require.Equal(t, "precondition_failed", body.Error)
}

func TestPresenceAndMessages(t *testing.T) {
	c := newClient(t, placard())
	created := c.create(battle.Settings{})
	c.join(created.BattleCode, "A", "contestant")
	base := "/battles/" + created.BattleID

	require.Equal(t, http.StatusNoContent, c.do(http.MethodPut, base+"/presence", "A", map[string]string{"status": "typing"}, nil))
	var out map[string]string
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, base+"/messages", "A", map[string]string{"content": "hello"}, &out))
	require.NotEmpty(t, out["messageId"])
	require.Equal(t, http.StatusForbidden, c.do(http.MethodPost, base+"/messages", "A", map[string]string{"content": "hear ye", "type": "announcement"}, nil))

	var v battle.View
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, base, "", nil, &v))
	require.Equal(t, battle.PresenceTyping, v.Battle.Participants["A"].Status)
	require.Equal(t, "hello", v.Battle.Messages[out["messageId"]].Content)
}

func TestStreamPushesViews(t *testing.T) {
	c := newClient(t, placard())
	created := c.create(battle.Settings{})
	base := "/battles/" + created.BattleID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(c.srv.URL, "http") + base + "/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first battlews.Frame
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	require.Equal(t, "view", first.Type)
	require.Equal(t, battle.PhaseIdle, first.View.Phase)

	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, base+"/rounds", "H", nil, nil))
	for {
		var msg battlews.Frame
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.View != nil && msg.View.Phase == battle.PhasePromptSubmission {
			require.Equal(t, "Cats in space", msg.View.Current.Topic)
			return
		}
	}
}

func TestStreamUnknownBattle(t *testing.T) {
	c := newClient(t, placard())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(c.srv.URL, "http") + "/battles/missing/stream"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
