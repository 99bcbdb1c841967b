package template

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/herald/internal/errs"
)

var (
	bucketTemplates  = []byte("templates")
	bucketCodes      = []byte("template_codes")
	bucketVersions   = []byte("template_versions")
	bucketVersionIDs = []byte("template_version_ids")
)

// Store is the template store contract
type Store interface {
	Create(ctx context.Context, tmpl *Template, actor string) error
	Get(ctx context.Context, code string) (*Template, error)
	GetByID(ctx context.Context, id string) (*Template, error)
	List(ctx context.Context, filter ListFilter) ([]*Template, error)
	Save(ctx context.Context, tmpl *Template, changeNotes, actor string) (*Template, *Version, error)
	Restore(ctx context.Context, versionID, actor string) (*Template, error)
	ListVersions(ctx context.Context, templateID string) ([]*Version, error)
	GetVersion(ctx context.Context, versionID string) (*Version, error)
	Delete(ctx context.Context, code, actor string) error
	Stats(ctx context.Context) (*Stats, error)
}

// Storage is a bbolt backed Store. Every mutation runs in a single
// read-modify-write transaction, and bbolt allows one writer at a time.
type Storage struct {
	db  *bolt.DB
	now func() time.Time
}

// NewStorage creates a new template storage
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTemplates, bucketCodes, bucketVersions, bucketVersionIDs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template buckets: %w", err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

// Create stores a new template with version 1
func (s *Storage) Create(ctx context.Context, tmpl *Template, actor string) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		codes := tx.Bucket(bucketCodes)
		if existing := codes.Get([]byte(tmpl.Code)); existing != nil {
			return errs.Conflict("template with code %q already exists", tmpl.Code)
		}

		tmpl.ID = uuid.New().String()
		tmpl.Version = 1
		tmpl.CreatedAt = s.now().UTC()
		tmpl.UpdatedAt = tmpl.CreatedAt
		tmpl.CreatedBy = actor
		tmpl.UpdatedBy = actor
		tmpl.DeletedAt = nil

		if err := putTemplate(tx, tmpl); err != nil {
			return err
		}
		return codes.Put([]byte(tmpl.Code), []byte(tmpl.ID))
	})
}

// Get retrieves a live template by code
func (s *Storage) Get(ctx context.Context, code string) (*Template, error) {
	var tmpl *Template
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		tmpl, err = templateByCode(tx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tmpl.Deleted() {
		return nil, errs.NotFound("template %q not found", code)
	}
	return tmpl, nil
}

// GetByID retrieves a live template by ID
func (s *Storage) GetByID(ctx context.Context, id string) (*Template, error) {
	var tmpl *Template
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		tmpl, err = templateByID(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if tmpl.Deleted() {
		return nil, errs.NotFound("template %s not found", id)
	}
	return tmpl, nil
}

// List returns templates ordered by code
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Template, error) {
	var templates []*Template

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTemplates)
		c := tx.Bucket(bucketCodes).Cursor()
		search := strings.ToLower(filter.Search)

		skipped := 0
		for k, id := c.First(); k != nil; k, id = c.Next() {
			data := bucket.Get(id)
			if data == nil {
				continue
			}
			var tmpl Template
			if err := json.Unmarshal(data, &tmpl); err != nil {
				continue
			}

			if tmpl.Deleted() && !filter.IncludeDeleted {
				continue
			}
			if filter.ActiveOnly && !tmpl.IsActive {
				continue
			}
			if filter.Channel != "" && !tmpl.HasChannel(filter.Channel) {
				continue
			}
			if search != "" &&
				!strings.Contains(tmpl.Code, search) &&
				!strings.Contains(strings.ToLower(tmpl.Name), search) &&
				!strings.Contains(strings.ToLower(tmpl.Description), search) {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			templates = append(templates, &tmpl)
			if filter.Limit > 0 && len(templates) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return templates, err
}

// Save persists tmpl, located by code. When content fields changed, the
// previous state is appended to the history under its old version number
// and the live version is bumped. Metadata-only changes create no version.
func (s *Storage) Save(ctx context.Context, tmpl *Template, changeNotes, actor string) (*Template, *Version, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, nil, err
	}

	var saved *Template
	var version *Version

	err := s.db.Update(func(tx *bolt.Tx) error {
		existing, err := templateByCode(tx, tmpl.Code)
		if err != nil {
			return err
		}
		if existing.Deleted() {
			return errs.NotFound("template %q not found", tmpl.Code)
		}
		if tmpl.ID != "" && tmpl.ID != existing.ID {
			return errs.Validation("template id %s does not match code %q", tmpl.ID, tmpl.Code)
		}

		now := s.now().UTC()
		next := *tmpl
		next.ID = existing.ID
		next.Version = existing.Version
		next.CreatedAt = existing.CreatedAt
		next.CreatedBy = existing.CreatedBy
		next.DeletedAt = nil
		next.UpdatedAt = now
		next.UpdatedBy = actor

		if !existing.content().equal(next.content()) {
			version = existing.snapshot(uuid.New().String(), changeNotes, actor, now)
			if err := putVersion(tx, version); err != nil {
				return err
			}
			next.Version = existing.Version + 1
		}

		if err := putTemplate(tx, &next); err != nil {
			return err
		}
		saved = &next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	*tmpl = *saved
	return saved, version, nil
}

// Restore copies a version's content back onto its template. The state
// being overwritten is first appended to the history, so a restore can be
// undone by restoring that entry.
func (s *Storage) Restore(ctx context.Context, versionID, actor string) (*Template, error) {
	var restored *Template

	err := s.db.Update(func(tx *bolt.Tx) error {
		v, err := versionByID(tx, versionID)
		if err != nil {
			return err
		}

		tmpl, err := templateByID(tx, v.TemplateID)
		if err != nil || tmpl.Deleted() {
			return errs.NotFound("template of version %s no longer exists", versionID)
		}

		if tmpl.content().equal(v.content()) {
			restored = tmpl
			return nil
		}

		now := s.now().UTC()
		snap := tmpl.snapshot(uuid.New().String(), fmt.Sprintf("restore of version %d", v.Version), actor, now)
		if err := putVersion(tx, snap); err != nil {
			return err
		}

		tmpl.apply(v)
		tmpl.Version++
		tmpl.UpdatedAt = now
		tmpl.UpdatedBy = actor
		if err := putTemplate(tx, tmpl); err != nil {
			return err
		}
		restored = tmpl
		return nil
	})

	return restored, err
}

// ListVersions returns the history of a template, most recent first
func (s *Storage) ListVersions(ctx context.Context, templateID string) ([]*Version, error) {
	var versions []*Version

	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := templateByID(tx, templateID); err != nil {
			return err
		}

		prefix := append([]byte(templateID), 0)
		c := tx.Bucket(bucketVersions).Cursor()
		for k, data := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, data = c.Next() {
			var v Version
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("failed to decode version %x: %w", k, err)
			}
			versions = append(versions, &v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
		versions[i], versions[j] = versions[j], versions[i]
	}
	return versions, nil
}

// GetVersion retrieves a version by ID
func (s *Storage) GetVersion(ctx context.Context, versionID string) (*Version, error) {
	var v *Version
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		v, err = versionByID(tx, versionID)
		return err
	})
	return v, err
}

// Delete soft-deletes a template. Its code stays reserved and its history
// remains readable.
func (s *Storage) Delete(ctx context.Context, code, actor string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tmpl, err := templateByCode(tx, code)
		if err != nil {
			return err
		}
		if tmpl.Deleted() {
			return errs.NotFound("template %q not found", code)
		}

		now := s.now().UTC()
		tmpl.DeletedAt = &now
		tmpl.IsActive = false
		tmpl.UpdatedAt = now
		tmpl.UpdatedBy = actor
		return putTemplate(tx, tmpl)
	})
}

// Stats returns template statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketTemplates).ForEach(func(k, v []byte) error {
			var tmpl Template
			if err := json.Unmarshal(v, &tmpl); err != nil {
				return nil
			}
			switch {
			case tmpl.Deleted():
				stats.Deleted++
			case tmpl.IsActive:
				stats.Total++
				stats.Active++
			default:
				stats.Total++
			}
			return nil
		})
		if err != nil {
			return err
		}
		stats.Versions = int64(tx.Bucket(bucketVersions).Stats().KeyN)
		return nil
	})

	return stats, err
}

func putTemplate(tx *bolt.Tx, tmpl *Template) error {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	return tx.Bucket(bucketTemplates).Put([]byte(tmpl.ID), data)
}

// putVersion appends a version; an existing (template, version) key is a
// conflict since history is append-only.
func putVersion(tx *bolt.Tx, v *Version) error {
	versions := tx.Bucket(bucketVersions)
	key := versionKey(v.TemplateID, v.Version)
	if versions.Get(key) != nil {
		return errs.Conflict("version %d of template %s already exists", v.Version, v.TemplateID)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}
	if err := versions.Put(key, data); err != nil {
		return err
	}
	return tx.Bucket(bucketVersionIDs).Put([]byte(v.ID), key)
}

func versionKey(templateID string, version int) []byte {
	key := make([]byte, 0, len(templateID)+9)
	key = append(key, templateID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, uint64(version))
}

func templateByCode(tx *bolt.Tx, code string) (*Template, error) {
	id := tx.Bucket(bucketCodes).Get([]byte(code))
	if id == nil {
		return nil, errs.NotFound("template %q not found", code)
	}
	return templateByID(tx, string(id))
}

func templateByID(tx *bolt.Tx, id string) (*Template, error) {
	data := tx.Bucket(bucketTemplates).Get([]byte(id))
	if data == nil {
		return nil, errs.NotFound("template %s not found", id)
	}
	tmpl := &Template{}
	if err := json.Unmarshal(data, tmpl); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}
	return tmpl, nil
}

func versionByID(tx *bolt.Tx, id string) (*Version, error) {
	key := tx.Bucket(bucketVersionIDs).Get([]byte(id))
	if key == nil {
		return nil, errs.NotFound("version %s not found", id)
	}
	data := tx.Bucket(bucketVersions).Get(key)
	if data == nil {
		return nil, errs.NotFound("version %s not found", id)
	}
	v := &Version{}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("failed to decode version: %w", err)
	}
	return v, nil
}
