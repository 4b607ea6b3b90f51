package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/prompt-battle/internal/battle"
	"github.com/park285/prompt-battle/internal/obslog"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const maxBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps a battle error kind to an HTTP status and a stable code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, battle.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, battle.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, battle.ErrPrecondition):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, battle.ErrGeneration):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, battle.ErrInvalidArgs), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_argument"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		obslog.L().Error("http_internal_error", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

type badRequest string

func (e badRequest) Error() string { return string(e) }
func (e badRequest) Is(target error) bool {
	return target == errBadRequest
}

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body required")
		}
		return badRequest("invalid json: " + err.Error())
	}
	return nil
}
