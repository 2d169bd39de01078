package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.AlertCreated("fire")
	m.Transition("created")
	m.Escalation("manual")
	m.RaceConflict("escalate")
	m.Acknowledged(time.Second)
	m.Resolved(time.Second)
	m.StoreRetry()
	m.PendingDeadlines(3)
	m.Poll(time.Millisecond)
	m.EscalationFailure()
	m.Subscribers(2)
	m.Delivered()
	m.Dropped()
	m.RelayError()
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.AlertCreated("cardiac_arrest")
	m.Escalation("deadline_elapsed")
	m.PendingDeadlines(4)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`medalert_alert_created_total{type="cardiac_arrest"} 1`,
		`medalert_alert_escalations_total{reason="deadline_elapsed"} 1`,
		`medalert_scheduler_pending_deadlines 4`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
