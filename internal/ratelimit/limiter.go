// Package ratelimit caps how many messages callers may dispatch per hour
// and per day, with counters persisted in BoltDB.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Level represents the level of rate limiting
type Level string

const (
	LevelGlobal   Level = "global"
	LevelAPIKey   Level = "api_key"
	LevelChannel  Level = "channel"
	LevelDriver   Level = "driver"
	LevelTemplate Level = "template"
)

// Config contains rate limit configuration
type Config struct {
	Global *LimitConfig `yaml:"global,omitempty"`

	// Defaults for keys without a specific entry
	DefaultAPIKey   *LimitConfig `yaml:"default_api_key,omitempty"`
	DefaultChannel  *LimitConfig `yaml:"default_channel,omitempty"`
	DefaultDriver   *LimitConfig `yaml:"default_driver,omitempty"`
	DefaultTemplate *LimitConfig `yaml:"default_template,omitempty"`

	// Specific limits by channel or driver name
	Channels map[string]*LimitConfig `yaml:"channels,omitempty"`
	Drivers  map[string]*LimitConfig `yaml:"drivers,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains rate limit values. Zero means unlimited.
type LimitConfig struct {
	MessagesPerHour int `yaml:"messages_per_hour" json:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day" json:"messages_per_day"`
}

// Counter tracks rate limit counters
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter implements rate limiting with multiple levels
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter // key -> counter
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewLimiter creates a new rate limiter
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Request describes a dispatch about to happen
type Request struct {
	APIKey   string
	Channel  string
	Driver   string
	Template string
	// Count is the number of messages, one per target. Zero counts as one.
	Count int
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool          `json:"allowed"`
	DeniedBy   Level         `json:"denied_by,omitempty"`
	DeniedKey  string        `json:"denied_key,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Stats contains rate limit statistics
type Stats struct {
	Level       Level     `json:"level"`
	Key         string    `json:"key"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Allow checks every applicable limit and, when all pass, adds the
// request's messages to each counter. A request is denied as a whole.
func (l *Limiter) Allow(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := req.count()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		resetExpired(counter, now)
		if res := deny(check, counter.HourlyCount, counter.DailyCount, n, counter, now); res != nil {
			return res, nil
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount += n
		counter.DailyCount += n
	}

	return &Result{Allowed: true}, nil
}

// Check reports whether req would be allowed without counting it
func (l *Limiter) Check(ctx context.Context, req *Request) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	n := req.count()

	for _, check := range l.getChecks(req) {
		counter, exists := l.counters[check.key]
		if !exists {
			if res := deny(check, 0, 0, n, &Counter{HourStart: now, DayStart: now}, now); res != nil {
				return res, nil
			}
			continue
		}

		hourly, daily := counter.HourlyCount, counter.DailyCount
		if now.Sub(counter.HourStart) >= time.Hour {
			hourly = 0
		}
		if now.Sub(counter.DayStart) >= 24*time.Hour {
			daily = 0
		}
		if res := deny(check, hourly, daily, n, counter, now); res != nil {
			return res, nil
		}
	}

	return &Result{Allowed: true}, nil
}

// GetStats returns current rate limit statistics
func (l *Limiter) GetStats(ctx context.Context, level Level, key string) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counter, exists := l.counters[makeKey(level, key)]
	if !exists {
		return &Stats{Level: level, Key: key}, nil
	}
	return l.stats(level, key, counter), nil
}

// List returns statistics for every tracked counter, sorted by level and key
func (l *Limiter) List(ctx context.Context) []*Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Stats, 0, len(l.counters))
	for fullKey, counter := range l.counters {
		level, key, _ := strings.Cut(fullKey, ":")
		out = append(out, l.stats(Level(level), key, counter))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Reset clears one counter
func (l *Limiter) Reset(ctx context.Context, level Level, key string) error {
	fullKey := makeKey(level, key)

	l.mu.Lock()
	delete(l.counters, fullKey)
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRateLimits).Delete([]byte(fullKey))
	})
}

// Stop stops the rate limiter and persists counters
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return l.persistCounters()
}

func (l *Limiter) stats(level Level, key string, counter *Counter) *Stats {
	now := l.now()
	s := &Stats{
		Level:       level,
		Key:         key,
		HourlyCount: counter.HourlyCount,
		DailyCount:  counter.DailyCount,
		HourStart:   counter.HourStart,
		DayStart:    counter.DayStart,
	}
	if now.Sub(counter.HourStart) >= time.Hour {
		s.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		s.DailyCount = 0
	}
	return s
}

func (r *Request) count() int {
	if r.Count <= 0 {
		return 1
	}
	return r.Count
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func deny(check limitCheck, hourly, daily, n int, counter *Counter, now time.Time) *Result {
	if check.limit.MessagesPerHour > 0 && hourly+n > check.limit.MessagesPerHour {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
		}
	}
	if check.limit.MessagesPerDay > 0 && daily+n > check.limit.MessagesPerDay {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
		}
	}
	return nil
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck
	add := func(level Level, key string, limit *LimitConfig) {
		if limit != nil {
			checks = append(checks, limitCheck{level: level, key: makeKey(level, key), limit: limit})
		}
	}

	add(LevelGlobal, "global", l.config.Global)
	if req.APIKey != "" {
		add(LevelAPIKey, req.APIKey, l.config.DefaultAPIKey)
	}
	if req.Channel != "" {
		add(LevelChannel, req.Channel, pick(l.config.Channels, req.Channel, l.config.DefaultChannel))
	}
	if req.Driver != "" {
		add(LevelDriver, req.Driver, pick(l.config.Drivers, req.Driver, l.config.DefaultDriver))
	}
	if req.Template != "" {
		add(LevelTemplate, req.Template, l.config.DefaultTemplate)
	}
	return checks
}

func pick(specific map[string]*LimitConfig, key string, def *LimitConfig) *LimitConfig {
	if c, ok := specific[key]; ok {
		return c
	}
	return def
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{
			HourStart: now,
			DayStart:  now,
		}
		l.counters[key] = counter
	}
	return counter
}

func resetExpired(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
