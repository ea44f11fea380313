// Package server exposes the rotation orchestrator over HTTP. A POST to
// /rotate carries the same JSON event the secret store sends to rotation
// handlers and runs exactly one phase.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
)

const maxBodyBytes = 1 << 20

// Deps holds what the router serves.
type Deps struct {
	Orchestrator *rotation.Orchestrator
	Logger       *logging.Logger
}

// ErrorResponse is the body of a failed invocation.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// NewRouter returns the HTTP routes.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	h := rotateHandler{orch: deps.Orchestrator, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/rotate", h.rotate)

	return r
}

type rotateHandler struct {
	orch   *rotation.Orchestrator
	logger *logging.Logger
}

func (h rotateHandler) rotate(w http.ResponseWriter, r *http.Request) {
	var req rotation.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json body: " + err.Error(), Kind: "invalid"})
		return
	}

	h.logger.Debug("rotate request %s for %s (request %s)", req.Step, req.SecretID, middleware.GetReqID(r.Context()))

	outcome, err := h.orch.Handle(r.Context(), req)
	if err != nil {
		kind := rotation.KindOf(err)
		writeJSON(w, StatusFor(err), ErrorResponse{Error: err.Error(), Kind: kind.String(), Retryable: kind.Retryable()})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// StatusFor maps a rotation error to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, rotation.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	switch rotation.KindOf(err) {
	case rotation.KindPrecondition:
		return http.StatusConflict
	case rotation.KindDownstream:
		return http.StatusBadGateway
	case rotation.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
