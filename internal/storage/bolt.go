// Package storage opens the shared bbolt database. Each component owns
// its buckets and creates them on construction.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Options controls how the database is opened
type Options struct {
	Timeout time.Duration // lock wait, default 5s
}

// Open creates the parent directory and opens the database file
func Open(path string, opts Options) (*bolt.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Size returns the database file size in bytes
func Size(db *bolt.DB) int64 {
	info, err := os.Stat(db.Path())
	if err != nil {
		return 0
	}
	return info.Size()
}
