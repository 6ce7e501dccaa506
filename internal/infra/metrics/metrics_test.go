package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Command("add", "ok")
	m.Command("add", "invalid_track_object")
	m.Command("add", "ok")
	m.Event("play")
	m.Lookup(true)
	m.Lookup(false)
	m.Lookup(false)
	m.Evicted(1000)
	m.Evicted(500)
	m.Resident(4096)
	m.IOError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("add", "invalid_track_object")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("play")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.cacheEvicted))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.cacheResident))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheIOErrors))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Event("end")

	rec := httptest.NewRecorder()
	m.Handler(func() { m.SetSubscribers(3) }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `trackbridge_events_total{type="end"} 1`)
	assert.Contains(t, string(body), "trackbridge_event_subscribers 3")
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/healthz", "/missing", "/healthz"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal))
}
