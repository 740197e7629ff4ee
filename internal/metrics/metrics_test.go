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

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObserveRun(OutcomePosted, false, 2*time.Second)
	ObserveRun(OutcomeSkipped, false, 0)
	ObserveRun(OutcomeFailed, true, time.Second)
	SetNextPost(time.Unix(1_700_000_000, 0))
	ObserveHealth(false, true)
	ObserveAlert(true)
	ObserveDroppedUpdate()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"quotebot_publisher_runs_total":                  false,
		"quotebot_publisher_run_duration_seconds":        false,
		"quotebot_publisher_next_post_timestamp_seconds": false,
		"quotebot_health_checks_total":                   false,
		"quotebot_health_recoveries_total":               false,
		"quotebot_alerts_sent_total":                     false,
		"quotebot_telegram_updates_dropped_total":        false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", mf.GetName())
			}
		}
		if mf.GetName() == "quotebot_publisher_runs_total" && len(mf.GetMetric()) != 3 {
			t.Fatalf("runs_total series = %d, want 3", len(mf.GetMetric()))
		}
	}
	for n, ok := range want {
		if !ok {
			t.Fatalf("expected metric %s", n)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	ObserveHealth(true, false)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "quotebot_health_checks_total") {
		t.Fatalf("metrics output missing health counter")
	}
}
