package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/foxzi/herald/internal/cache"
	"github.com/foxzi/herald/internal/config"
	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/storage"
	"github.com/foxzi/herald/internal/template"
)

const welcomeYAML = `name: Welcome
subject:
  en: Hello
  it: Ciao
body_text: "Hi {{name}}"
channels: [sms, email]
variables:
  - name: name
    required: true
`

func newTemplateStore(t *testing.T) *template.Storage {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "herald.db"), storage.Options{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := template.NewStorage(db)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return store
}

func TestReadTemplateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "welcome.yaml")
	if err := os.WriteFile(path, []byte(welcomeYAML), 0644); err != nil {
		t.Fatal(err)
	}

	doc, err := readTemplateFile(path)
	if err != nil {
		t.Fatalf("readTemplateFile() error = %v", err)
	}
	if doc.Code != "welcome" {
		t.Errorf("code = %q, want file name", doc.Code)
	}
	if !doc.IsActive {
		t.Error("is_active should default to true")
	}
	if doc.Subject["it"] != "Ciao" || doc.BodyText[""] != "Hi {{name}}" {
		t.Errorf("subject = %v, body = %v", doc.Subject, doc.BodyText)
	}
}

func TestImportTemplate(t *testing.T) {
	ctx := context.Background()
	store := newTemplateStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "welcome.yaml")
	if err := os.WriteFile(path, []byte(welcomeYAML), 0644); err != nil {
		t.Fatal(err)
	}

	doc, err := readTemplateFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tmpl, version, created, err := importTemplate(ctx, store, doc, "", "cli:test")
	if err != nil {
		t.Fatalf("first import error = %v", err)
	}
	if !created || version != nil || tmpl.Version != 1 {
		t.Errorf("first import = created %v, version %v, at %d", created, version, tmpl.Version)
	}

	// same content: no new version
	doc, _ = readTemplateFile(path)
	tmpl, version, created, err = importTemplate(ctx, store, doc, "", "cli:test")
	if err != nil {
		t.Fatalf("second import error = %v", err)
	}
	if created || version != nil || tmpl.Version != 1 {
		t.Errorf("unchanged import = created %v, version %v, at %d", created, version, tmpl.Version)
	}

	// changed content: snapshot of version 1
	doc, _ = readTemplateFile(path)
	doc.BodyText = template.Text("Hello {{name}}")
	tmpl, version, _, err = importTemplate(ctx, store, doc, "reworded", "cli:test")
	if err != nil {
		t.Fatalf("third import error = %v", err)
	}
	if tmpl.Version != 2 || version == nil || version.Version != 1 || version.ChangeNotes != "reworded" {
		t.Errorf("changed import = at %d, snapshot %+v", tmpl.Version, version)
	}

	// export and read back
	out, err := writeTemplateFile(dir, tmpl)
	if err != nil {
		t.Fatalf("writeTemplateFile() error = %v", err)
	}
	back, err := readTemplateFile(out)
	if err != nil {
		t.Fatalf("read exported file: %v", err)
	}
	if back.Code != "welcome" || back.BodyText[""] != "Hello {{name}}" || back.Subject["en"] != "Hello" || len(back.Channels) != 2 {
		t.Errorf("exported = %+v", back.Template)
	}
}

func TestWithTemplateCache_Disabled(t *testing.T) {
	raw := newTemplateStore(t)
	store, cleanup, err := withTemplateCache(context.Background(), config.CacheConfig{}, raw)
	if err != nil {
		t.Fatalf("withTemplateCache() error = %v", err)
	}
	defer cleanup()
	if store != template.Store(raw) {
		t.Error("store should be returned unwrapped when the cache is disabled")
	}
}

func TestWithTemplateCache_DeleteInvalidatesServerEntry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	raw := newTemplateStore(t)
	cfg := config.CacheConfig{Enabled: true, Addr: mr.Addr(), TTL: time.Minute}

	client, err := cache.NewRedisClient(ctx, cache.Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer client.Close()
	server := template.NewCachedStore(raw, client, time.Minute, nil)

	path := filepath.Join(t.TempDir(), "welcome.yaml")
	if err := os.WriteFile(path, []byte(welcomeYAML), 0644); err != nil {
		t.Fatal(err)
	}
	doc, err := readTemplateFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := importTemplate(ctx, raw, doc, "", "cli:test"); err != nil {
		t.Fatalf("importTemplate() error = %v", err)
	}
	if _, err := server.Get(ctx, "welcome"); err != nil {
		t.Fatalf("server Get() error = %v", err)
	}
	if !mr.Exists("template:welcome") {
		t.Fatal("expected the server to cache the template")
	}

	cli, cleanup, err := withTemplateCache(ctx, cfg, raw)
	if err != nil {
		t.Fatalf("withTemplateCache() error = %v", err)
	}
	defer cleanup()
	if err := cli.Delete(ctx, "welcome", "cli:test"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := server.Get(ctx, "welcome"); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("server Get() after CLI delete error = %v, want not found", err)
	}
}

func TestWithTemplateCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, _, err := withTemplateCache(context.Background(), config.CacheConfig{Enabled: true, Addr: addr}, newTemplateStore(t))
	if err == nil {
		t.Error("expected an error when the cache is enabled but unreachable")
	}
}
