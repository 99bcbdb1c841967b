package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/template"
)

// TemplateStatsProvider provides template statistics for metrics
type TemplateStatsProvider interface {
	Stats(ctx context.Context) (*template.Stats, error)
}

var bucketMetrics = []byte("metrics")

// ShadowCounters stores counter values for persistence
type ShadowCounters struct {
	Dispatches        map[string]float64 `json:"dispatches"`
	Deliveries        map[string]float64 `json:"deliveries"`
	DeliveryErrors    map[string]float64 `json:"delivery_errors"`
	APIRequests       map[string]float64 `json:"api_requests"`
	APIErrors         map[string]float64 `json:"api_errors"`
	RateLimitExceeded map[string]float64 `json:"ratelimit_exceeded"`
}

// Collector handles metrics persistence and system gauge updates. It also
// observes dispatches.
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	templates     TemplateStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	shadow ShadowCounters
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, templates TemplateStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		templates:     templates,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		shadow: ShadowCounters{
			Dispatches:        make(map[string]float64),
			Deliveries:        make(map[string]float64),
			DeliveryErrors:    make(map[string]float64),
			APIRequests:       make(map[string]float64),
			APIErrors:         make(map[string]float64),
			RateLimitExceeded: make(map[string]float64),
		},
		stopCh: make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters restores persisted counter values from BoltDB
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte("counters"))
		if data == nil {
			return nil
		}

		var shadow ShadowCounters
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		for k, v := range shadow.Dispatches {
			channel, status := splitLabelKey(k)
			c.shadow.Dispatches[k] = v
			c.metrics.DispatchesTotal.WithLabelValues(channel, status).Add(v)
		}
		for k, v := range shadow.Deliveries {
			channel, provider, result := splitTripleLabelKey(k)
			c.shadow.Deliveries[k] = v
			c.metrics.DeliveriesTotal.WithLabelValues(channel, provider, result).Add(v)
		}
		for k, v := range shadow.DeliveryErrors {
			provider, kind := splitLabelKey(k)
			c.shadow.DeliveryErrors[k] = v
			c.metrics.DeliveryErrorsTotal.WithLabelValues(provider, kind).Add(v)
		}
		for k, v := range shadow.APIRequests {
			method, path, status := splitTripleLabelKey(k)
			c.shadow.APIRequests[k] = v
			c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Add(v)
		}
		for k, v := range shadow.APIErrors {
			c.shadow.APIErrors[k] = v
			c.metrics.APIErrorsTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.RateLimitExceeded {
			c.shadow.RateLimitExceeded[k] = v
			c.metrics.RateLimitExceededTotal.WithLabelValues(k).Add(v)
		}

		return nil
	})
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	data, err := json.Marshal(c.shadow)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put([]byte("counters"), data)
	})
}

func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics refreshes the gauges
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.templates != nil {
		stats, err := c.templates.Stats(ctx)
		if err == nil {
			c.metrics.TemplatesTotal.Set(float64(stats.Total))
			c.metrics.TemplatesActive.Set(float64(stats.Active))
			c.metrics.TemplateVersions.Set(float64(stats.Versions))
		}
	}
}

// OnDispatch records a dispatch outcome
func (c *Collector) OnDispatch(ctx context.Context, req *dispatch.Request, out *dispatch.Outcome) {
	channel := string(out.Channel)
	status := "completed"
	if out.Skipped {
		status = "skipped"
	}

	c.mu.Lock()
	c.shadow.Dispatches[makeLabelKey(channel, status)]++
	for _, r := range out.Results {
		provider := r.Provider
		if provider == "" {
			provider = dispatch.UnknownProvider
		}
		result := "sent"
		if !r.Success {
			result = "failed"
			c.shadow.DeliveryErrors[makeLabelKey(provider, string(r.ErrorKind))]++
		}
		c.shadow.Deliveries[makeTripleLabelKey(channel, provider, result)]++
	}
	c.mu.Unlock()

	c.metrics.DispatchesTotal.WithLabelValues(channel, status).Inc()
	if out.Skipped {
		return
	}
	c.metrics.DispatchTargets.WithLabelValues(channel).Observe(float64(len(out.Results)))
	for _, r := range out.Results {
		provider := r.Provider
		if provider == "" {
			provider = dispatch.UnknownProvider
		}
		if r.Success {
			c.metrics.DeliveriesTotal.WithLabelValues(channel, provider, "sent").Inc()
			continue
		}
		c.metrics.DeliveriesTotal.WithLabelValues(channel, provider, "failed").Inc()
		c.metrics.DeliveryErrorsTotal.WithLabelValues(provider, string(r.ErrorKind)).Inc()
	}
}

// TrackAPIRequest tracks an API request and updates shadow counter
func (c *Collector) TrackAPIRequest(method, path, status string) {
	key := makeTripleLabelKey(method, path, status)
	c.mu.Lock()
	c.shadow.APIRequests[key]++
	c.mu.Unlock()
	c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// TrackAPIError tracks an API error and updates shadow counter
func (c *Collector) TrackAPIError(errorType string) {
	c.mu.Lock()
	c.shadow.APIErrors[errorType]++
	c.mu.Unlock()
	c.metrics.APIErrorsTotal.WithLabelValues(errorType).Inc()
}

// TrackRateLimitExceeded tracks rate limit exceeded and updates shadow counter
func (c *Collector) TrackRateLimitExceeded(level string) {
	c.mu.Lock()
	c.shadow.RateLimitExceeded[level]++
	c.mu.Unlock()
	c.metrics.RateLimitExceededTotal.WithLabelValues(level).Inc()
}

// Helper functions for label key serialization
func makeLabelKey(a, b string) string {
	return a + "|" + b
}

func splitLabelKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func makeTripleLabelKey(a, b, c string) string {
	return a + "|" + b + "|" + c
}

func splitTripleLabelKey(key string) (string, string, string) {
	parts := strings.SplitN(key, "|", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2]
}
