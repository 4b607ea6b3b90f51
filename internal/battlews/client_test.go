package battlews_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/prompt-battle/internal/battle"
	"github.com/park285/prompt-battle/internal/battlews"
	"github.com/park285/prompt-battle/internal/content"
	"github.com/park285/prompt-battle/internal/httpapi"
	"github.com/park285/prompt-battle/internal/store"
)

func waitView(t *testing.T, ch <-chan *battle.View, ok func(*battle.View) bool) *battle.View {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case v := <-ch:
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for view")
			return nil
		}
	}
}

func TestStreamURL(t *testing.T) {
	cases := []struct {
		base, want string
		err        bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/battles/b1/stream", false},
		{"https://battle.example/api/", "wss://battle.example/api/battles/b1/stream", false},
		{"ws://10.0.0.1", "ws://10.0.0.1/battles/b1/stream", false},
		{"ftp://x", "", true},
	}
	for _, tc := range cases {
		got, err := battlews.StreamURL(tc.base, "b1")
		if tc.err {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
	_, err := battlews.StreamURL("http://x", " ")
	require.Error(t, err)
}

func TestClientFollowsBattle(t *testing.T) {
	mgr := battle.NewManager(store.NewMemory(), content.NewPlacard(content.WithTopics([]string{"Paper moons"})))
	srv := httptest.NewServer(httpapi.SetupRoutes(mgr, httpapi.Options{}))
	defer srv.Close()

	ctx := context.Background()
	created, err := mgr.CreateBattle(ctx, battle.CreateRequest{HostID: "H", Name: "ws"})
	require.NoError(t, err)

	url, err := battlews.StreamURL(srv.URL, created.BattleID)
	require.NoError(t, err)
	c := battlews.New(url, 0, 0)
	c.SetHeaderProvider(func() map[string]string { return map[string]string{httpapi.ParticipantHeader: "H"} })

	views := make(chan *battle.View, 16)
	c.OnView(func(v *battle.View) { views <- v })
	require.NoError(t, c.Connect(ctx))
	require.Equal(t, battlews.StateConnected, c.State())

	waitView(t, views, func(v *battle.View) bool { return v.Phase == battle.PhaseIdle })
	_, err = mgr.StartRound(ctx, created.BattleID, "H")
	require.NoError(t, err)
	v := waitView(t, views, func(v *battle.View) bool { return v.Phase == battle.PhasePromptSubmission })
	require.Equal(t, "Paper moons", v.Current.Topic)

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(closeCtx))
	require.Equal(t, battlews.StateDisconnected, c.State())
	require.ErrorIs(t, c.Connect(ctx), battlews.ErrClosed)
}

func TestClientReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		_ = wsjson.Write(r.Context(), conn, battlews.Frame{Type: battlews.FrameView, View: &battle.View{Phase: battle.Phase(fmt.Sprintf("conn%d", n))}})
		if n == 1 {
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		<-conn.CloseRead(r.Context()).Done()
	}))
	defer srv.Close()

	c := battlews.New("ws"+srv.URL[len("http"):], 3, 10*time.Millisecond)
	var mu sync.Mutex
	var states []battlews.State
	c.OnStateChange(func(s battlews.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	views := make(chan *battle.View, 16)
	c.OnView(func(v *battle.View) { views <- v })

	require.NoError(t, c.Connect(context.Background()))
	waitView(t, views, func(v *battle.View) bool { return v.Phase == "conn1" })
	waitView(t, views, func(v *battle.View) bool { return v.Phase == "conn2" })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, states, battlews.StateReconnecting)
	require.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestCallbacksCanBeRemoved(t *testing.T) {
	c := battlews.New("ws://127.0.0.1:1", 0, 0)
	calls := 0
	id := c.OnStateChange(func(battlews.State) { calls++ })
	c.RemoveStateCallback(id)
	vid := c.OnView(func(*battle.View) {})
	require.NotEqual(t, id, vid)
	c.RemoveViewCallback(vid)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, c.Connect(ctx))
	require.Zero(t, calls)
	require.Equal(t, battlews.StateFailed, c.State())
	require.NoError(t, c.Close(ctx))
}
