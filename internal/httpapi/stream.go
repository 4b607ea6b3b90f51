package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/prompt-battle/internal/battle"
	"github.com/park285/prompt-battle/internal/battlews"
	"github.com/park285/prompt-battle/internal/obslog"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// stream pushes the battle's view after every change until the client goes away.
// Views are coalesced: a slow client only ever receives the latest one.
func (a *api) stream(w http.ResponseWriter, r *http.Request) {
	battleID := chi.URLParam(r, "battleID")

	views := make(chan *battle.View, 1)
	unsub, err := a.mgr.Subscribe(r.Context(), battleID, func(v *battle.View) {
		select {
		case views <- v:
			return
		default:
		}
		select {
		case <-views:
		default:
		}
		select {
		case views <- v:
		default:
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer unsub()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  a.opts.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("stream_accept_error", zap.String("battle_id", battleID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	// clients only listen; CloseRead handles control frames and cancels ctx on close
	ctx := conn.CloseRead(r.Context())
	obslog.L().Info("stream_open", zap.String("battle_id", battleID), zap.String("participant_id", participant(r)))

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("stream_close", zap.String("battle_id", battleID))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case v := <-views:
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, battlews.Frame{Type: battlews.FrameView, View: v})
			cancel()
			if err != nil {
				obslog.L().Debug("stream_write_error", zap.String("battle_id", battleID), zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
