package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserversAndEvictions(t *testing.T) {
	m := New()

	m.ObserversChanged(3)
	m.Delivered(3)
	m.Delivered(2)
	m.Evicted("queue_full")
	m.Evicted("queue_full")
	m.Evicted("write_failed")

	require.Equal(t, 3.0, testutil.ToFloat64(m.Observers))
	require.Equal(t, 5.0, testutil.ToFloat64(m.MessagesQueued))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ObserversEvicted.WithLabelValues("queue_full")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ObserversEvicted.WithLabelValues("write_failed")))
}

func TestSegmenterCounters(t *testing.T) {
	m := New()

	m.ObserveChunk(120)
	m.ObserveChunk(800)
	m.ObserveUtterance(1500 * time.Millisecond)
	m.ObserveDiscard()

	require.Equal(t, 2.0, testutil.ToFloat64(m.ChunksProcessed))
	require.Equal(t, 1.0, testutil.ToFloat64(m.UtterancesReady))
	require.Equal(t, 1.0, testutil.ToFloat64(m.UtterancesDiscarded))
	require.Equal(t, 1, testutil.CollectAndCount(m.UtteranceDuration))
}

func TestTransitionsTrackCurrentState(t *testing.T) {
	m := New()

	m.ObserveTransition("idle", "listening")
	m.ObserveTransition("listening", "recording")

	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("idle", "listening")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.SessionState.WithLabelValues("listening")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionState.WithLabelValues("recording")))
}

func TestRecognitionObservations(t *testing.T) {
	m := New()

	m.ObserveRecognition("grpc", "text", 200*time.Millisecond)
	m.ObserveRecognition("grpc", "error", time.Second)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Recognitions.WithLabelValues("grpc", "text")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Recognitions.WithLabelValues("grpc", "error")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserversChanged(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "livecap_observers 2")
	require.Contains(t, string(body), "go_goroutines")
}

func TestInstrumentRecordsStatus(t *testing.T) {
	m := New()
	handler := m.Instrument("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/health", "503")))
}
