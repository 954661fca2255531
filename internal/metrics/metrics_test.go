package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	// Vec collectors only appear once a label set is used.
	m.RecordAuth(OpLogin, OutcomeSuccess)
	m.RecordRequest(http.MethodPost, "/api/auth/login", http.StatusOK, 10*time.Millisecond)
	m.RecordRateLimited()

	families, err := reg.Gather()
	require.NoError(t, err)

	registered := make(map[string]bool)
	for _, f := range families {
		registered[f.GetName()] = true
	}

	for _, name := range []string{
		"authstarter_auth_attempts_total",
		"authstarter_http_request_duration_seconds",
		"authstarter_rate_limited_total",
	} {
		assert.True(t, registered[name], "metric %q should be registered", name)
	}
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestRecordAuth(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAuth(OpRegister, OutcomeSuccess)
	m.RecordAuth(OpRegister, OutcomeSuccess)
	m.RecordAuth(OpRegister, "conflict")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues(OpRegister, OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues(OpRegister, "conflict")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AuthAttempts.WithLabelValues(OpLogin, OutcomeSuccess)))
}

func TestRecordRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestHandler_ServesExposition(t *testing.T) {
	m := New(NewRegistry())
	m.RecordAuth(OpLogin, "unauthorized")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `authstarter_auth_attempts_total{operation="login",outcome="unauthorized"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
