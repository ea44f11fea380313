package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/pkg/rotation"
)

func TestInitMetrics(t *testing.T) {
	// InitMetrics uses sync.Once; calling it again must not panic on
	// duplicate registration.
	InitMetrics()
	InitMetrics()

	assert.True(t, IsMetricsRegistered())
	assert.NotNil(t, GetStepStartedTotal())
	assert.NotNil(t, GetStepCompletedTotal())
	assert.NotNil(t, GetStepDuration())
}

func TestStepMetrics_Records(t *testing.T) {
	m := New()

	// A strategy name unique to this test keeps the global counters isolated.
	const strategy = "records-test"

	m.StepStarted(rotation.StepCreate, strategy)
	m.StepCompleted(rotation.StepCreate, strategy, rotation.ActionExecuted, nil, 120*time.Millisecond)
	m.StepStarted(rotation.StepCreate, strategy)
	m.StepCompleted(rotation.StepCreate, strategy, rotation.ActionSkipped, nil, time.Millisecond)
	m.StepStarted(rotation.StepSet, strategy)
	m.StepCompleted(rotation.StepSet, strategy, "", fmt.Errorf("wrapped: %w", rotation.ErrNotPending), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(GetStepStartedTotal().WithLabelValues("createSecret", strategy)))
	assert.Equal(t, 1.0, testutil.ToFloat64(GetStepCompletedTotal().WithLabelValues("createSecret", strategy, "executed", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(GetStepCompletedTotal().WithLabelValues("createSecret", strategy, "skipped", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(GetStepCompletedTotal().WithLabelValues("setSecret", strategy, "none", "precondition")))
}

func TestStepMetrics_UnknownStepLabel(t *testing.T) {
	m := New()
	const strategy = "unknown-step-test"

	m.StepStarted(rotation.Step("rollback"), strategy)
	m.StepCompleted(rotation.Step("rollback"), strategy, "", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(GetStepStartedTotal().WithLabelValues("unknown", strategy)))
	assert.Equal(t, 1.0, testutil.ToFloat64(GetStepCompletedTotal().WithLabelValues("unknown", strategy, "none", "unknown")))
}

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	config := DefaultServerConfig()
	assert.Equal(t, ":9090", config.Addr)
	assert.Equal(t, "/metrics", config.Path)
	assert.Equal(t, 5*time.Second, config.ReadTimeout)
}

func TestServer_Routes(t *testing.T) {
	server := NewServer(ServerConfig{}, nil)
	server.Handle("/extra", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	New().StepStarted(rotation.StepTest, "routes-test")

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `rotator_step_started_total{step="testSecret",strategy="routes-test"} 1`)

	resp, err = http.Get(ts.URL + "/extra")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestServer_ServeListenerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(ServerConfig{Addr: ln.Addr().String()}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
