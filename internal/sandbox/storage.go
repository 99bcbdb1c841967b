package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

var (
	bucketSandbox    = []byte("sandbox")
	bucketSandboxIDs = []byte("sandbox_ids")
)

// Message is a send captured instead of, or in addition to, delivery
type Message struct {
	ID             string         `json:"id"`
	Channel        notify.Channel `json:"channel"`
	Driver         string         `json:"driver"`
	Target         string         `json:"target"`
	OriginalTarget string         `json:"original_target,omitempty"` // before redirect
	Subject        string         `json:"subject,omitempty"`
	BodyText       string         `json:"body_text,omitempty"`
	BodyHTML       string         `json:"body_html,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Mode           Mode           `json:"mode"`
	CapturedAt     time.Time      `json:"captured_at"`
	SimulatedErr   string         `json:"simulated_error,omitempty"`
}

// Storage keeps captured messages in BoltDB, ordered by capture time
type Storage struct {
	db *bolt.DB
}

// NewStorage creates a new sandbox storage using the provided BoltDB instance
func NewStorage(db *bolt.DB) (*Storage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSandbox, bucketSandboxIDs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

// Save stores a message
func (s *Storage) Save(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		key := makeIndexKey(msg.CapturedAt, msg.ID)
		if err := tx.Bucket(bucketSandbox).Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketSandboxIDs).Put([]byte(msg.ID), key)
	})
}

// Get retrieves a message by ID
func (s *Storage) Get(ctx context.Context, id string) (*Message, error) {
	var msg Message

	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketSandboxIDs).Get([]byte(id))
		if key == nil {
			return errs.NotFound("sandbox message %q not found", id)
		}
		data := tx.Bucket(bucketSandbox).Get(key)
		if data == nil {
			return errs.NotFound("sandbox message %q not found", id)
		}
		return json.Unmarshal(data, &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListFilter contains filters for listing messages
type ListFilter struct {
	Channel notify.Channel
	Driver  string
	Mode    Mode
	Target  string
	Limit   int
	Offset  int
}

func (f ListFilter) match(msg *Message) bool {
	if f.Channel != "" && msg.Channel != f.Channel {
		return false
	}
	if f.Driver != "" && msg.Driver != f.Driver {
		return false
	}
	if f.Mode != "" && msg.Mode != f.Mode {
		return false
	}
	if f.Target != "" && msg.Target != f.Target && msg.OriginalTarget != f.Target {
		return false
	}
	return true
}

// List returns messages matching the filter, newest first. Bodies are
// omitted; use Get for the full message.
func (s *Storage) List(ctx context.Context, filter ListFilter) ([]*Message, error) {
	var messages []*Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSandbox).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			if !filter.match(&msg) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}

			msg.BodyText = ""
			msg.BodyHTML = ""
			msg.Data = nil
			messages = append(messages, &msg)

			if filter.Limit > 0 && len(messages) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return messages, err
}

// Delete removes a message by ID
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketSandboxIDs)
		key := ids.Get([]byte(id))
		if key == nil {
			return errs.NotFound("sandbox message %q not found", id)
		}
		if err := tx.Bucket(bucketSandbox).Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(id))
	})
}

// Clear removes messages, optionally only one channel's or those older
// than olderThan. It returns the number removed.
func (s *Storage) Clear(ctx context.Context, channel notify.Channel, olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSandbox)
		ids := tx.Bucket(bucketSandboxIDs)

		var keys, msgIDs [][]byte
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}
			if channel != "" && msg.Channel != channel {
				continue
			}
			if olderThan > 0 && msg.CapturedAt.After(cutoff) {
				continue
			}
			keys = append(keys, append([]byte(nil), k...))
			msgIDs = append(msgIDs, []byte(msg.ID))
		}

		for i, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			if err := ids.Delete(msgIDs[i]); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

// Stats contains sandbox statistics
type Stats struct {
	Total     int64            `json:"total"`
	ByChannel map[string]int64 `json:"by_channel"`
	ByDriver  map[string]int64 `json:"by_driver"`
	ByMode    map[string]int64 `json:"by_mode"`
	Failed    int64            `json:"simulated_failures"`
	OldestAt  time.Time        `json:"oldest_at,omitempty"`
	NewestAt  time.Time        `json:"newest_at,omitempty"`
	TotalSize int64            `json:"total_size"`
}

// Stats returns sandbox statistics
func (s *Storage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByChannel: make(map[string]int64),
		ByDriver:  make(map[string]int64),
		ByMode:    make(map[string]int64),
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSandbox).ForEach(func(k, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return nil
			}

			stats.Total++
			stats.TotalSize += int64(len(v))
			stats.ByChannel[string(msg.Channel)]++
			stats.ByDriver[msg.Driver]++
			stats.ByMode[string(msg.Mode)]++
			if msg.SimulatedErr != "" {
				stats.Failed++
			}

			if stats.OldestAt.IsZero() || msg.CapturedAt.Before(stats.OldestAt) {
				stats.OldestAt = msg.CapturedAt
			}
			if msg.CapturedAt.After(stats.NewestAt) {
				stats.NewestAt = msg.CapturedAt
			}
			return nil
		})
	})

	return stats, err
}

// makeIndexKey sorts by capture time; the fixed-width UTC layout keeps
// lexical and chronological order the same
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format("2006-01-02T15:04:05.000000000Z") + ":" + id)
}
