package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.Inc(EnvelopeBroadcast)
	m.Add(EnvelopeForwarded, 3)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `callmesh_relay_events_total{event="envelope_forwarded"} 3`) {
		t.Fatalf("missing forwarded counter in:\n%s", body)
	}
	if !strings.Contains(body, `callmesh_relay_events_total{event="envelope_broadcast"} 1`) {
		t.Fatalf("missing broadcast counter in:\n%s", body)
	}
	if !strings.HasPrefix(body, "# HELP callmesh_relay_events_total") {
		t.Fatalf("missing HELP line in:\n%s", body)
	}
}

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := New()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				m.Inc(ParticipantJoined)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if got := m.Get(ParticipantJoined); got != 8000 {
		t.Fatalf("got %d, want 8000", got)
	}
}
