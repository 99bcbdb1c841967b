package template

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/foxzi/herald/internal/cache"
	"github.com/foxzi/herald/internal/errs"
)

func newCachedStore(t *testing.T) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient(context.Background(), cache.Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewCachedStore(newTestStorage(t), client, time.Minute, nil), mr
}

func TestCachedStore_GetPopulatesCache(t *testing.T) {
	store, mr := newCachedStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, welcomeTemplate("hello"), ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if mr.Exists("template:welcome") {
		t.Fatal("create must not populate the cache")
	}

	first, err := store.Get(ctx, "welcome")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !mr.Exists("template:welcome") {
		t.Fatal("expected cache entry after Get")
	}

	cached, err := store.Get(ctx, "welcome")
	if err != nil {
		t.Fatalf("cached Get() error = %v", err)
	}
	if cached.ID != first.ID || cached.BodyText.Resolve("", "") != "hello" {
		t.Errorf("cached template differs: %+v", cached)
	}
}

func TestCachedStore_InvalidatesOnWrite(t *testing.T) {
	store, mr := newCachedStore(t)
	ctx := context.Background()

	store.Create(ctx, welcomeTemplate("one"), "")
	store.Get(ctx, "welcome")

	_, v1, err := store.Save(ctx, welcomeTemplate("two"), "", "")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if mr.Exists("template:welcome") {
		t.Error("save must invalidate the cache entry")
	}
	got, _ := store.Get(ctx, "welcome")
	if got.BodyText.Resolve("", "") != "two" {
		t.Errorf("stale template after save: %q", got.BodyText.Resolve("", ""))
	}

	if _, err := store.Restore(ctx, v1.ID, ""); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, _ = store.Get(ctx, "welcome")
	if got.BodyText.Resolve("", "") != "one" {
		t.Errorf("stale template after restore: %q", got.BodyText.Resolve("", ""))
	}

	if err := store.Delete(ctx, "welcome", ""); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "welcome"); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}

func TestCachedStore_FallsThroughWhenCacheDown(t *testing.T) {
	store, mr := newCachedStore(t)
	ctx := context.Background()

	store.Create(ctx, welcomeTemplate("hello"), "")
	mr.Close()

	got, err := store.Get(ctx, "welcome")
	if err != nil {
		t.Fatalf("Get() with cache down error = %v", err)
	}
	if got.Code != "welcome" {
		t.Errorf("unexpected template: %+v", got)
	}
}

// slowReadStore runs afterGet once the inner read returned, before the
// caller gets to fill the cache.
type slowReadStore struct {
	Store
	afterGet func()
}

func (s *slowReadStore) Get(ctx context.Context, code string) (*Template, error) {
	tmpl, err := s.Store.Get(ctx, code)
	if s.afterGet != nil {
		hook := s.afterGet
		s.afterGet = nil
		hook()
	}
	return tmpl, err
}

func TestCachedStore_MissDoesNotCacheStaleRow(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient(context.Background(), cache.Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	inner := &slowReadStore{Store: newTestStorage(t)}
	store := NewCachedStore(inner, client, time.Minute, nil)

	if err := store.Create(ctx, welcomeTemplate("one"), ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// a save commits while the miss is between its read and the cache fill
	inner.afterGet = func() {
		if _, _, err := store.Save(ctx, welcomeTemplate("two"), "", ""); err != nil {
			t.Errorf("Save() error = %v", err)
		}
	}
	got, err := store.Get(ctx, "welcome")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.BodyText.Resolve("", "") != "one" {
		t.Fatalf("racing read = %q, want the row it read", got.BodyText.Resolve("", ""))
	}
	if mr.Exists("template:welcome") {
		t.Fatal("stale row written to the cache after a concurrent save")
	}

	got, _ = store.Get(ctx, "welcome")
	if got.BodyText.Resolve("", "") != "two" {
		t.Errorf("Get() after save = %q, want two", got.BodyText.Resolve("", ""))
	}
}

func TestCachedStore_SharedCacheAcrossWriters(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	newClient := func() cache.Client {
		client, err := cache.NewRedisClient(ctx, cache.Options{Addr: mr.Addr()})
		if err != nil {
			t.Fatalf("NewRedisClient() error = %v", err)
		}
		t.Cleanup(func() { client.Close() })
		return client
	}

	storage := newTestStorage(t)
	server := NewCachedStore(storage, newClient(), time.Minute, nil)
	cli := NewCachedStore(storage, newClient(), time.Minute, nil)

	if err := server.Create(ctx, welcomeTemplate("hello"), ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := server.Get(ctx, "welcome"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// a direct write to the database is not seen through the cache
	if _, _, err := storage.Save(ctx, welcomeTemplate("direct"), "", ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got, _ := server.Get(ctx, "welcome"); got.BodyText.Resolve("", "") != "hello" {
		t.Fatalf("expected the cached row before invalidation, got %q", got.BodyText.Resolve("", ""))
	}

	// a second writer sharing the cache invalidates it
	if err := cli.Delete(ctx, "welcome", "cli"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := server.Get(ctx, "welcome"); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Get() after delete through the shared cache error = %v", err)
	}
}
