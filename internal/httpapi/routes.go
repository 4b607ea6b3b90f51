// Package httpapi exposes battle operations over HTTP and streams views over websockets.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/park285/prompt-battle/internal/battle"
)

// ParticipantHeader carries the caller's participant id on every mutating request.
const ParticipantHeader = "X-Participant-Id"

type Options struct {
	// AllowedOrigins are websocket origin patterns. Empty means same-origin only.
	AllowedOrigins []string
	// GenerationTimeout bounds topic and image generation per request.
	GenerationTimeout time.Duration
}

type api struct {
	mgr  *battle.Manager
	opts Options
}

func SetupRoutes(mgr *battle.Manager, opts Options) http.Handler {
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 60 * time.Second
	}
	a := &api{mgr: mgr, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", Healthz)

	r.Route("/battles", func(r chi.Router) {
		r.Post("/", a.createBattle)
		r.Post("/join", a.joinBattle)
		r.Get("/by-code/{code}", a.resolveCode)

		r.Route("/{battleID}", func(r chi.Router) {
			r.Get("/", a.getBattle)
			r.Get("/stream", a.stream)
			r.Post("/messages", a.sendMessage)
			r.Put("/presence", a.setPresence)
			r.Post("/rounds", a.startRound)

			r.Route("/rounds/{round}", func(r chi.Router) {
				r.Post("/submissions", a.submitPrompt)
				r.Post("/submissions/{owner}/generate", a.generate)
				r.Post("/voting", a.advanceToVoting)
				r.Post("/votes", a.submitVote)
				r.Post("/winner", a.declareWinner)
			})
		})
	})
	return r
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
