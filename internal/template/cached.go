package template

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/herald/internal/cache"
)

// CachedStore serves Get from a cache and invalidates the entry on every
// mutation of the same code. Cache failures fall through to the store.
//
// Writes that bypass the CachedStore are invisible to it until the entry
// expires, so every writer of the database must go through one.
type CachedStore struct {
	Store
	cache  cache.Client
	ttl    time.Duration
	logger *slog.Logger

	// gen counts mutations per code; a miss only fills the cache when no
	// mutation happened between its store read and the write
	mu  sync.Mutex
	gen map[string]uint64
}

// NewCachedStore wraps store with a read-aside cache
func NewCachedStore(store Store, c cache.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{Store: store, cache: c, ttl: ttl, logger: logger, gen: make(map[string]uint64)}
}

func cacheKey(code string) string {
	return "template:" + code
}

// Get retrieves a live template by code
func (s *CachedStore) Get(ctx context.Context, code string) (*Template, error) {
	var tmpl Template
	err := s.cache.Get(ctx, cacheKey(code), &tmpl)
	if err == nil {
		return &tmpl, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("template cache read failed", "code", code, "error", err)
	}

	s.mu.Lock()
	gen := s.gen[code]
	s.mu.Unlock()

	found, err := s.Store.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[code] != gen {
		return found, nil
	}
	if err := s.cache.Set(ctx, cacheKey(code), found, s.ttl); err != nil {
		s.logger.Warn("template cache write failed", "code", code, "error", err)
	}
	return found, nil
}

func (s *CachedStore) Create(ctx context.Context, tmpl *Template, actor string) error {
	defer s.invalidate(ctx, tmpl.Code)
	return s.Store.Create(ctx, tmpl, actor)
}

func (s *CachedStore) Save(ctx context.Context, tmpl *Template, changeNotes, actor string) (*Template, *Version, error) {
	defer s.invalidate(ctx, tmpl.Code)
	return s.Store.Save(ctx, tmpl, changeNotes, actor)
}

func (s *CachedStore) Restore(ctx context.Context, versionID, actor string) (*Template, error) {
	tmpl, err := s.Store.Restore(ctx, versionID, actor)
	if tmpl != nil {
		s.invalidate(ctx, tmpl.Code)
	}
	return tmpl, err
}

func (s *CachedStore) Delete(ctx context.Context, code, actor string) error {
	defer s.invalidate(ctx, code)
	return s.Store.Delete(ctx, code, actor)
}

func (s *CachedStore) invalidate(ctx context.Context, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[code]++
	if err := s.cache.Del(context.WithoutCancel(ctx), cacheKey(code)); err != nil {
		s.logger.Warn("template cache invalidation failed", "code", code, "error", err)
	}
}
