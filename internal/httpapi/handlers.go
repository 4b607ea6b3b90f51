package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/park285/prompt-battle/internal/battle"
)

func participant(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ParticipantHeader))
}

func roundParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil || n < 1 {
		return 0, badRequest("round must be a positive integer")
	}
	return n, nil
}

func (a *api) generationContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.opts.GenerationTimeout)
}

type createRequest struct {
	HostName    string          `json:"hostName"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Settings    battle.Settings `json:"settings"`
}

func (a *api) createBattle(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := a.mgr.CreateBattle(r.Context(), battle.CreateRequest{
		HostID:      participant(r),
		HostName:    req.HostName,
		Name:        req.Name,
		Description: req.Description,
		Settings:    req.Settings,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type joinRequest struct {
	Code        string      `json:"code"`
	DisplayName string      `json:"displayName"`
	Role        battle.Role `json:"role"`
}

func (a *api) joinBattle(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := a.mgr.JoinBattle(r.Context(), req.Code, participant(r), req.DisplayName, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"battleId": id})
}

func (a *api) resolveCode(w http.ResponseWriter, r *http.Request) {
	id, err := a.mgr.ResolveCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"battleId": id})
}

func (a *api) getBattle(w http.ResponseWriter, r *http.Request) {
	v, err := a.mgr.Get(r.Context(), chi.URLParam(r, "battleID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) startRound(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.generationContext(r)
	defer cancel()
	rd, err := a.mgr.StartRound(ctx, chi.URLParam(r, "battleID"), participant(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rd)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (a *api) submitPrompt(w http.ResponseWriter, r *http.Request) {
	n, err := roundParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req promptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := a.mgr.SubmitPrompt(r.Context(), chi.URLParam(r, "battleID"), n, participant(r), req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (a *api) generate(w http.ResponseWriter, r *http.Request) {
	n, err := roundParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := a.generationContext(r)
	defer cancel()
	sub, err := a.mgr.GenerateArtifact(ctx, chi.URLParam(r, "battleID"), n, participant(r), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *api) advanceToVoting(w http.ResponseWriter, r *http.Request) {
	n, err := roundParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rd, err := a.mgr.AdvanceToVoting(r.Context(), chi.URLParam(r, "battleID"), n, participant(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

type voteRequest struct {
	VotedFor string `json:"votedFor"`
}

func (a *api) submitVote(w http.ResponseWriter, r *http.Request) {
	n, err := roundParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req voteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := a.mgr.SubmitVote(r.Context(), chi.URLParam(r, "battleID"), n, participant(r), req.VotedFor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type winnerRequest struct {
	WinnerID string `json:"winnerId"`
}

func (a *api) declareWinner(w http.ResponseWriter, r *http.Request) {
	n, err := roundParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req winnerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := a.mgr.DeclareWinner(r.Context(), chi.URLParam(r, "battleID"), n, participant(r), req.WinnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type messageRequest struct {
	Content string             `json:"content"`
	Type    battle.MessageType `json:"type"`
}

func (a *api) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	key, err := a.mgr.SendMessage(r.Context(), chi.URLParam(r, "battleID"), participant(r), req.Content, req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"messageId": key})
}

type presenceRequest struct {
	Status battle.Presence `json:"status"`
}

func (a *api) setPresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.mgr.SetPresence(r.Context(), chi.URLParam(r, "battleID"), participant(r), req.Status); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
