package template

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

func setupTestDB(t *testing.T) (*bolt.DB, func()) {
	tmpfile, err := os.CreateTemp("", "template_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpfile.Close()

	db, err := bolt.Open(tmpfile.Name(), 0600, nil)
	if err != nil {
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to open db: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(tmpfile.Name())
	}

	return db, cleanup
}

func newTestStorage(t *testing.T) *Storage {
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)

	storage, err := NewStorage(db)
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	return storage
}

func welcomeTemplate(body string) *Template {
	return &Template{
		Code:     "welcome",
		Name:     "Welcome",
		Subject:  Text("Hello {{name}}"),
		BodyText: Text(body),
		Channels: []notify.Channel{notify.ChannelSMS, notify.ChannelEmail},
		IsActive: true,
	}
}

func TestStorage_Create(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	tmpl := welcomeTemplate("Hi {{name}}")
	if err := storage.Create(ctx, tmpl, "admin"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if tmpl.ID == "" {
		t.Error("Create() did not set ID")
	}
	if tmpl.Version != 1 {
		t.Errorf("Create() version = %d, want 1", tmpl.Version)
	}
	if tmpl.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}
	if tmpl.CreatedBy != "admin" {
		t.Errorf("Create() created_by = %q", tmpl.CreatedBy)
	}
	if tmpl.Channels[0] != notify.ChannelEmail {
		t.Errorf("channels not normalized: %v", tmpl.Channels)
	}
}

func TestStorage_CreateValidation(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	tests := []struct {
		name string
		tmpl *Template
	}{
		{"empty code", &Template{Channels: []notify.Channel{notify.ChannelSMS}}},
		{"bad code", &Template{Code: "Hello World", Channels: []notify.Channel{notify.ChannelSMS}}},
		{"no channels", &Template{Code: "x"}},
		{"unknown channel", &Template{Code: "x", Channels: []notify.Channel{"fax"}}},
		{"duplicate variable", &Template{Code: "x", Channels: []notify.Channel{notify.ChannelSMS},
			Variables: []VariableInfo{{Name: "a"}, {Name: "a"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.Create(ctx, tt.tmpl, "")
			if !errs.Is(err, errs.KindValidation) {
				t.Errorf("Create() error = %v, want validation error", err)
			}
		})
	}
}

func TestStorage_CreateDuplicateCode(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, welcomeTemplate("a"), ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := storage.Create(ctx, welcomeTemplate("b"), "")
	if !errs.Is(err, errs.KindConflict) {
		t.Errorf("Create() duplicate error = %v, want conflict", err)
	}
}

func TestStorage_GetNotFound(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.Get(context.Background(), "missing")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Get() error = %v, want not found", err)
	}
}

func TestStorage_SaveVersioning(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	tmpl := welcomeTemplate("v1 body")
	if err := storage.Create(ctx, tmpl, "alice"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 2; i <= 5; i++ {
		next := welcomeTemplate(fmt.Sprintf("v%d body", i))
		saved, version, err := storage.Save(ctx, next, fmt.Sprintf("edit %d", i), "bob")
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if saved.Version != i {
			t.Errorf("Save() version = %d, want %d", saved.Version, i)
		}
		if version == nil {
			t.Fatalf("Save() expected a version snapshot")
		}
		if version.Version != i-1 {
			t.Errorf("snapshot version = %d, want %d", version.Version, i-1)
		}
		if got := version.BodyText.Resolve("", ""); got != fmt.Sprintf("v%d body", i-1) {
			t.Errorf("snapshot holds %q, want previous content", got)
		}
		if saved.CreatedBy != "alice" || saved.UpdatedBy != "bob" {
			t.Errorf("unexpected audit fields: %s/%s", saved.CreatedBy, saved.UpdatedBy)
		}
	}

	versions, err := storage.ListVersions(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 4 {
		t.Fatalf("ListVersions() returned %d versions, want 4", len(versions))
	}
	for i, v := range versions {
		if v.Version != 4-i {
			t.Errorf("versions[%d].Version = %d, want %d (most recent first)", i, v.Version, 4-i)
		}
	}
}

func TestStorage_NoOpSave(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	tmpl := welcomeTemplate("same")
	if err := storage.Create(ctx, tmpl, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	same := welcomeTemplate("same")
	same.Name = "Renamed"
	same.IsActive = false
	saved, version, err := storage.Save(ctx, same, "metadata only", "")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if version != nil {
		t.Error("no-op save should not create a version")
	}
	if saved.Version != 1 {
		t.Errorf("no-op save changed version to %d", saved.Version)
	}

	got, err := storage.Get(ctx, "welcome")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Renamed" || got.IsActive {
		t.Errorf("metadata not persisted: %+v", got)
	}

	versions, _ := storage.ListVersions(ctx, tmpl.ID)
	if len(versions) != 0 {
		t.Errorf("expected empty history, got %d", len(versions))
	}
}

func TestStorage_SaveRestoreRoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	t1 := welcomeTemplate("first")
	t1.Conditions = map[string]any{"plan": "pro"}
	if err := storage.Create(ctx, t1, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t2 := welcomeTemplate("second")
	_, v1, err := storage.Save(ctx, t2, "second draft", "")
	if err != nil {
		t.Fatalf("Save(T2) error = %v", err)
	}

	t3 := welcomeTemplate("third")
	_, v2, err := storage.Save(ctx, t3, "third draft", "")
	if err != nil {
		t.Fatalf("Save(T3) error = %v", err)
	}

	restored, err := storage.Restore(ctx, v1.ID, "carol")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := restored.BodyText.Resolve("", ""); got != "first" {
		t.Errorf("restored body = %q, want first", got)
	}
	if restored.Conditions["plan"] != "pro" {
		t.Errorf("restored conditions = %v", restored.Conditions)
	}
	if restored.Version != 4 {
		t.Errorf("restored version = %d, want 4", restored.Version)
	}

	if _, err := storage.GetVersion(ctx, v2.ID); err != nil {
		t.Errorf("restore must not delete later versions: %v", err)
	}

	versions, err := storage.ListVersions(ctx, restored.ID)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	// the state overwritten by the restore is kept
	if got := versions[0].BodyText.Resolve("", ""); got != "third" {
		t.Errorf("pre-restore snapshot holds %q, want third", got)
	}
	if versions[0].ChangeNotes != "restore of version 1" {
		t.Errorf("unexpected change notes: %q", versions[0].ChangeNotes)
	}

	// restoring the pre-restore snapshot undoes the restore
	undone, err := storage.Restore(ctx, versions[0].ID, "")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := undone.BodyText.Resolve("", ""); got != "third" {
		t.Errorf("undo body = %q, want third", got)
	}
}

func TestStorage_RestoreIdenticalContent(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if err := storage.Create(ctx, welcomeTemplate("a"), ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, v1, _ := storage.Save(ctx, welcomeTemplate("b"), "", "")
	if _, _, err := storage.Save(ctx, welcomeTemplate("a"), "", ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	restored, err := storage.Restore(ctx, v1.ID, "")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Version != 3 {
		t.Errorf("restore of identical content bumped version to %d", restored.Version)
	}
}

func TestStorage_RestoreErrors(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	if _, err := storage.Restore(ctx, "nope", ""); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Restore(unknown) error = %v, want not found", err)
	}

	if err := storage.Create(ctx, welcomeTemplate("a"), ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, v1, _ := storage.Save(ctx, welcomeTemplate("b"), "", "")
	if err := storage.Delete(ctx, "welcome", ""); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := storage.Restore(ctx, v1.ID, ""); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Restore() after delete error = %v, want not found", err)
	}
}

func TestStorage_SoftDelete(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	tmpl := welcomeTemplate("a")
	if err := storage.Create(ctx, tmpl, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, _, err := storage.Save(ctx, welcomeTemplate("b"), "", ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := storage.Delete(ctx, "welcome", "admin"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := storage.Get(ctx, "welcome"); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
	if err := storage.Delete(ctx, "welcome", ""); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}
	if err := storage.Create(ctx, welcomeTemplate("c"), ""); !errs.Is(err, errs.KindConflict) {
		t.Errorf("code of deleted template must stay reserved, got %v", err)
	}

	versions, err := storage.ListVersions(ctx, tmpl.ID)
	if err != nil || len(versions) != 1 {
		t.Errorf("history of deleted template: %d versions, err %v", len(versions), err)
	}

	all, _ := storage.List(ctx, ListFilter{IncludeDeleted: true})
	if len(all) != 1 || !all[0].Deleted() {
		t.Errorf("expected deleted template in list with IncludeDeleted")
	}
	live, _ := storage.List(ctx, ListFilter{})
	if len(live) != 0 {
		t.Errorf("expected no live templates, got %d", len(live))
	}
}

func TestStorage_List(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	fixtures := []*Template{
		{Code: "order-shipped", Name: "Order shipped", Channels: []notify.Channel{notify.ChannelPush}, IsActive: true},
		{Code: "otp", Name: "One time password", Channels: []notify.Channel{notify.ChannelSMS}, IsActive: true},
		{Code: "welcome", Name: "Welcome", Description: "sent on signup", Channels: []notify.Channel{notify.ChannelEmail, notify.ChannelSMS}},
	}
	for _, f := range fixtures {
		if err := storage.Create(ctx, f, ""); err != nil {
			t.Fatalf("Create(%s) error = %v", f.Code, err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all", ListFilter{}, []string{"order-shipped", "otp", "welcome"}},
		{"limit", ListFilter{Limit: 2}, []string{"order-shipped", "otp"}},
		{"offset", ListFilter{Offset: 1, Limit: 1}, []string{"otp"}},
		{"search description", ListFilter{Search: "SIGNUP"}, []string{"welcome"}},
		{"channel", ListFilter{Channel: notify.ChannelSMS}, []string{"otp", "welcome"}},
		{"active only", ListFilter{ActiveOnly: true}, []string{"order-shipped", "otp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d templates, want %d", len(got), len(tt.want))
			}
			for i, code := range tt.want {
				if got[i].Code != code {
					t.Errorf("List()[%d] = %s, want %s", i, got[i].Code, code)
				}
			}
		})
	}
}

func TestStorage_ConcurrentSaves(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	tmpl := welcomeTemplate("start")
	if err := storage.Create(ctx, tmpl, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := storage.Save(ctx, welcomeTemplate(fmt.Sprintf("body %d", i)), "", "")
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent Save() error = %v", err)
		}
	}

	got, _ := storage.Get(ctx, "welcome")
	if got.Version != writers+1 {
		t.Errorf("final version = %d, want %d", got.Version, writers+1)
	}

	versions, _ := storage.ListVersions(ctx, tmpl.ID)
	seen := make(map[int]bool)
	for _, v := range versions {
		if seen[v.Version] {
			t.Errorf("duplicate version number %d", v.Version)
		}
		seen[v.Version] = true
	}
	if len(versions) != writers {
		t.Errorf("expected %d versions, got %d", writers, len(versions))
	}
}

func TestStorage_Stats(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	storage.Create(ctx, welcomeTemplate("a"), "")
	storage.Save(ctx, welcomeTemplate("b"), "", "")
	storage.Create(ctx, &Template{Code: "otp", Channels: []notify.Channel{notify.ChannelSMS}}, "")

	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 || stats.Active != 1 || stats.Versions != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
