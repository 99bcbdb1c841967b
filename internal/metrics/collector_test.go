package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/template"
)

type mockTemplateStats struct {
	stats *template.Stats
}

func (m *mockTemplateStats) Stats(ctx context.Context) (*template.Stats, error) {
	return m.stats, nil
}

func openTestDB(t *testing.T) (*bolt.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db, path
}

func sampleOutcome() *dispatch.Outcome {
	results := []notify.Result{
		{Target: "a", Provider: "netfun", Success: true},
		{Target: "b", Provider: "netfun", ErrorKind: errs.KindInvalidTarget},
		{Target: "c", ErrorKind: errs.KindUnsupportedDriver},
	}
	return &dispatch.Outcome{
		ID:      "d1",
		Channel: notify.ChannelSMS,
		Results: results,
		Summary: dispatch.Reduce(results),
	}
}

func TestCollector_OnDispatch(t *testing.T) {
	db, path := openTestDB(t)
	defer db.Close()

	m := New()
	c, err := NewCollector(db, m, nil, path, time.Second)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer c.Stop()

	c.OnDispatch(context.Background(), &dispatch.Request{}, sampleOutcome())
	c.OnDispatch(context.Background(), &dispatch.Request{}, &dispatch.Outcome{Channel: notify.ChannelSMS, Skipped: true})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"completed", counterValue(t, m.DispatchesTotal.WithLabelValues("sms", "completed")), 1},
		{"skipped", counterValue(t, m.DispatchesTotal.WithLabelValues("sms", "skipped")), 1},
		{"netfun sent", counterValue(t, m.DeliveriesTotal.WithLabelValues("sms", "netfun", "sent")), 1},
		{"netfun failed", counterValue(t, m.DeliveriesTotal.WithLabelValues("sms", "netfun", "failed")), 1},
		{"unknown failed", counterValue(t, m.DeliveriesTotal.WithLabelValues("sms", dispatch.UnknownProvider, "failed")), 1},
		{"invalid target", counterValue(t, m.DeliveryErrorsTotal.WithLabelValues("netfun", "invalid_target")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollectorPersistence(t *testing.T) {
	db, path := openTestDB(t)
	defer db.Close()

	m1 := New()
	c1, err := NewCollector(db, m1, nil, path, time.Second)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c1.OnDispatch(context.Background(), &dispatch.Request{}, sampleOutcome())
	c1.TrackAPIRequest("POST", "/api/v1/dispatch", "200")
	c1.TrackAPIError("bad_request")
	c1.TrackRateLimitExceeded("channel")
	if err := c1.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// a fresh registry starts from the persisted values
	m2 := New()
	c2, err := NewCollector(db, m2, nil, path, time.Second)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer c2.Stop()

	if v := counterValue(t, m2.DeliveriesTotal.WithLabelValues("sms", "netfun", "sent")); v != 1 {
		t.Errorf("restored deliveries = %v, want 1", v)
	}
	if v := counterValue(t, m2.DispatchesTotal.WithLabelValues("sms", "completed")); v != 1 {
		t.Errorf("restored dispatches = %v, want 1", v)
	}
	if v := counterValue(t, m2.APIRequestsTotal.WithLabelValues("POST", "/api/v1/dispatch", "200")); v != 1 {
		t.Errorf("restored api requests = %v, want 1", v)
	}
	if v := counterValue(t, m2.RateLimitExceededTotal.WithLabelValues("channel")); v != 1 {
		t.Errorf("restored rate limit = %v, want 1", v)
	}
}

func TestCollectSystemMetrics(t *testing.T) {
	db, path := openTestDB(t)
	defer db.Close()

	m := New()
	stats := &mockTemplateStats{stats: &template.Stats{Total: 5, Active: 3, Deleted: 2, Versions: 12}}
	c, err := NewCollector(db, m, stats, path, time.Second)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	defer c.Stop()

	c.collectSystemMetrics(context.Background())

	if v := gaugeValue(t, m.TemplatesActive); v != 3 {
		t.Errorf("templates active = %v, want 3", v)
	}
	if v := gaugeValue(t, m.TemplateVersions); v != 12 {
		t.Errorf("template versions = %v, want 12", v)
	}
	if v := gaugeValue(t, m.Goroutines); v <= 0 {
		t.Errorf("goroutines = %v, want > 0", v)
	}
	info, _ := os.Stat(path)
	if v := gaugeValue(t, m.StorageUsedBytes); v != float64(info.Size()) {
		t.Errorf("storage bytes = %v, want %d", v, info.Size())
	}
}

func TestLabelKeys(t *testing.T) {
	a, b := splitLabelKey(makeLabelKey("netfun", "invalid_target"))
	if a != "netfun" || b != "invalid_target" {
		t.Errorf("splitLabelKey() = %q, %q", a, b)
	}

	x, y, z := splitTripleLabelKey(makeTripleLabelKey("GET", "/api/v1/templates/{code}", "200"))
	if x != "GET" || y != "/api/v1/templates/{code}" || z != "200" {
		t.Errorf("splitTripleLabelKey() = %q, %q, %q", x, y, z)
	}

	x, y, z = splitTripleLabelKey("only")
	if x != "only" || y != "" || z != "" {
		t.Errorf("splitTripleLabelKey(only) = %q, %q, %q", x, y, z)
	}
}
