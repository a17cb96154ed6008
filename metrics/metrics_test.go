package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.IncPoll("chzzk", "live")
	m.IncPoll("chzzk", "live")
	m.IncTransition("polling", "live")
	m.ObserveRecording("chzzk", "kept", 2048)
	m.IncRemux("ok")
	m.IncProcTerminate("SIGTERM", "sent")

	called := false
	body := scrape(t, m.Handler(func() {
		called = true
		m.SetActiveRecordings(3)
	}))

	assert.True(t, called)
	assert.Contains(t, body, `sticky_polls_total{platform="chzzk",result="live"} 2`)
	assert.Contains(t, body, `sticky_loop_transitions_total{from="polling",to="live"} 1`)
	assert.Contains(t, body, `sticky_recordings_total{outcome="kept",platform="chzzk"} 1`)
	assert.Contains(t, body, "sticky_captured_bytes_total 2048")
	assert.Contains(t, body, "sticky_active_recordings 3")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncPoll("x", "y")
		m.IncTransition("a", "b")
		m.IncClientRecreate("x")
		m.IncFatal("x")
		m.ObserveRecording("x", "kept", 1)
		m.SetActiveRecordings(1)
		m.IncRemux("ok")
		m.IncProcTerminate("SIGKILL", "sent")
	})
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	for _, p := range []string{"/ok", "/bad"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	body := scrape(t, m.Handler(nil))
	assert.Contains(t, body, "sticky_status_requests_total 2")
	assert.Contains(t, body, "sticky_status_errors_total 1")
}
