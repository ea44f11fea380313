package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/internal/secretstores/memstore"
	"github.com/systmms/rotator/internal/server"
	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/secretstore"
)

type stubStrategy struct {
	setErr error
}

func (s stubStrategy) Name() string { return "stub" }

func (s stubStrategy) GenerateSecret(context.Context, rotation.Target) (string, error) {
	return "generated", nil
}

func (s stubStrategy) SetSecret(context.Context, rotation.Target) error { return s.setErr }

func (s stubStrategy) TestSecret(context.Context, rotation.Target) error { return nil }

func newRouter(t *testing.T, strategy rotation.Strategy) (http.Handler, *memstore.Store) {
	t.Helper()

	store := memstore.New("test")
	store.CreateSecret("db/app", true)
	store.Seed("db/app", "v1", "old", secretstore.StageCurrent)
	store.BeginRotation("db/app", "v2")

	return server.NewRouter(server.Deps{Orchestrator: rotation.New(store, strategy)}), store
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/rotate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func event(step, token string) string {
	return fmt.Sprintf(`{"SecretId":"db/app","ClientRequestToken":%q,"Step":%q}`, token, step)
}

func TestRotate_Success(t *testing.T) {
	t.Parallel()

	h, store := newRouter(t, stubStrategy{})

	rec := post(t, h, event("createSecret", "v2"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var outcome rotation.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, rotation.ActionExecuted, outcome.Action)
	assert.Equal(t, rotation.StepCreate, outcome.Step)

	rec = post(t, h, event("createSecret", "v2"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, rotation.ActionSkipped, outcome.Action)
	assert.Equal(t, 1, store.Calls(memstore.OpPutSecretValue))
}

func TestRotate_StatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		strategy  stubStrategy
		body      string
		setup     func(*testing.T, *memstore.Store)
		wantCode  int
		wantKind  string
		retryable bool
	}{
		{
			name:     "malformed body",
			body:     `{"SecretId":`,
			wantCode: http.StatusBadRequest,
			wantKind: "invalid",
		},
		{
			name:     "missing token",
			body:     `{"SecretId":"db/app","Step":"createSecret"}`,
			wantCode: http.StatusBadRequest,
			wantKind: "precondition",
		},
		{
			name:     "not pending",
			body:     event("setSecret", "v9"),
			wantCode: http.StatusConflict,
			wantKind: "precondition",
		},
		{
			name:     "rotation disabled",
			body:     event("createSecret", "v2"),
			setup:    func(_ *testing.T, s *memstore.Store) { s.SetRotationEnabled("db/app", false) },
			wantCode: http.StatusConflict,
			wantKind: "precondition",
		},
		{
			name:      "downstream failure",
			strategy:  stubStrategy{setErr: errors.New("connection refused")},
			body:      event("setSecret", "v2"),
			wantCode:  http.StatusBadGateway,
			wantKind:  "downstream",
			retryable: true,
		},
		{
			name: "store unavailable",
			body: event("createSecret", "v2"),
			setup: func(_ *testing.T, s *memstore.Store) {
				s.FailNext(memstore.OpDescribeSecret, secretstore.StoreError{Store: "test", Op: "DescribeSecret", Err: errors.New("timeout")})
			},
			wantCode:  http.StatusServiceUnavailable,
			wantKind:  "transient",
			retryable: true,
		},
		{
			name: "inconsistent staging",
			body: event("finishSecret", "v2"),
			setup: func(t *testing.T, s *memstore.Store) {
				require.NoError(t, s.UpdateSecretVersionStage(context.Background(), "db/app", secretstore.StageCurrent, "", "v1"))
			},
			wantCode: http.StatusInternalServerError,
			wantKind: "state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, store := newRouter(t, tt.strategy)
			if tt.setup != nil {
				tt.setup(t, store)
			}

			rec := post(t, h, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			var resp server.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, tt.retryable, resp.Retryable)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestRouter_HealthAndMethods(t *testing.T) {
	t.Parallel()

	h, _ := newRouter(t, stubStrategy{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rotate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusBadRequest, server.StatusFor(rotation.ErrInvalidRequest))
	assert.Equal(t, http.StatusConflict, server.StatusFor(rotation.ErrUnknownStep))
	assert.Equal(t, http.StatusInternalServerError, server.StatusFor(rotation.ErrMultipleCurrentVersions))
	assert.Equal(t, http.StatusInternalServerError, server.StatusFor(errors.New("boom")))
}
