package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/prompt-battle/internal/battle"
	"github.com/park285/prompt-battle/internal/battlews"
	"github.com/park285/prompt-battle/internal/httpapi"
)

// battlecheck pings a running server and follows one battle's stream for a short window.
func main() {
	baseURL := strings.TrimRight(os.Getenv("BATTLE_BASE_URL"), "/")
	battleID := os.Getenv("BATTLE_ID")
	code := os.Getenv("BATTLE_CODE")
	participantID := os.Getenv("PARTICIPANT_ID")
	window := 10 * time.Second
	if v, err := strconv.Atoi(os.Getenv("OBSERVE_SECONDS")); err == nil && v > 0 {
		window = time.Duration(v) * time.Second
	}

	if baseURL == "" {
		log.Fatal("BATTLE_BASE_URL is required")
	}

	hc := &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}

	status, _, err := hc.GetTimeout(nil, baseURL+"/healthz", 5*time.Second)
	if err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	log.Printf("/healthz status=%d", status)

	if battleID == "" && code != "" {
		status, body, err := hc.GetTimeout(nil, baseURL+"/battles/by-code/"+battle.NormalizeCode(code), 5*time.Second)
		if err != nil || status != fasthttp.StatusOK {
			log.Fatalf("resolve code %s: status=%d err=%v body=%s", code, status, err, body)
		}
		var out struct {
			BattleID string `json:"battleId"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			log.Fatalf("resolve code decode: %v", err)
		}
		battleID = out.BattleID
		log.Printf("code %s -> battle %s", code, battleID)
	}
	if battleID == "" {
		log.Println("BATTLE_ID / BATTLE_CODE not set; skipping stream check")
		return
	}

	wsURL, err := battlews.StreamURL(baseURL, battleID)
	if err != nil {
		log.Fatalf("stream url: %v", err)
	}
	ws := battlews.New(wsURL, 5, time.Second)
	ws.SetHeaderProvider(func() map[string]string {
		return map[string]string{httpapi.ParticipantHeader: participantID}
	})
	ws.OnStateChange(func(state battlews.State) {
		log.Printf("WS state: %s", state)
	})
	ws.OnView(func(v *battle.View) {
		fmt.Println(summarize(v))
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	// Observe for a short window
	t := time.NewTimer(window)
	<-t.C

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ws.Close(closeCtx)
}

func summarize(v *battle.View) string {
	var b strings.Builder
	name := ""
	if v.Battle != nil {
		name = v.Battle.Metadata.Name
	}
	fmt.Fprintf(&b, "battle=%q phase=%s", name, v.Phase)
	if v.Current != nil {
		fmt.Fprintf(&b, " round=%d topic=%q submissions=%d votes=%d", v.Current.RoundNumber, v.Current.Topic, len(v.Current.Submissions), len(v.Current.Votes))
	}
	if len(v.Tallies) > 0 {
		ids := make([]string, 0, len(v.Tallies))
		for id := range v.Tallies {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, fmt.Sprintf("%s:%d", id, v.Tallies[id]))
		}
		fmt.Fprintf(&b, " tallies=[%s]", strings.Join(parts, " "))
	}
	for _, s := range v.Standings {
		fmt.Fprintf(&b, "\n  %-16s %d", s.DisplayName, s.Score)
	}
	return b.String()
}
