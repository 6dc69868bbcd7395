package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistered(t *testing.T) {
	// Vec metrics are not gathered until at least one label set exists.
	ActionsTotal.WithLabelValues("actions", "install", "succeeded")
	ActionDuration.WithLabelValues("actions", "install")
	ActionsQueued.WithLabelValues("actions")
	ActionsRunning.WithLabelValues("actions")
	ActionTimeouts.WithLabelValues("actions")
	CronScansTotal.WithLabelValues("lowlatency")
	InstallsTotal.WithLabelValues("plugin", "ok")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expected := map[string]bool{
		"sitesentinel_actions_total":               false,
		"sitesentinel_action_duration_seconds":     false,
		"sitesentinel_actions_queued":              false,
		"sitesentinel_actions_running":             false,
		"sitesentinel_action_timeouts_total":       false,
		"sitesentinel_cron_scans_total":            false,
		"sitesentinel_cron_scan_duration_seconds":  false,
		"sitesentinel_cron_events_scheduled_total": false,
		"sitesentinel_cron_events_coalesced_total": false,
		"sitesentinel_cron_events_tracked":         false,
		"sitesentinel_installs_total":              false,
	}
	for _, mf := range mfs {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	CronEventsScheduled.Inc()
	path := filepath.Join(t.TempDir(), "sitesentinel.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "sitesentinel_cron_events_scheduled_total") {
		t.Error("textfile missing sitesentinel_cron_events_scheduled_total")
	}
	if strings.Contains(out, "go_goroutines") {
		t.Error("textfile should only contain sitesentinel_ metrics")
	}
	if leftovers, _ := filepath.Glob(path + ".*.tmp"); len(leftovers) > 0 {
		t.Error("temporary file left behind")
	}
}
