package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/arrayforge/arrayforge/pkg/compiler"
)

// keyPrefix namespaces executable entries so future record kinds can share
// the database.
const keyPrefix = "exec:"

// Entry is one cached compilation result.
type Entry struct {
	// Executable is the compiled artifact and its metadata.
	Executable *compiler.Executable `json:"executable"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes cache contents.
type Stats struct {
	// Entries is the number of cached executables.
	Entries int `json:"entries"`

	// SizeBytes is the on-disk size of the database (LSM plus value log).
	SizeBytes int64 `json:"size_bytes"`
}

// Cache is a persistent compilation cache backed by Badger.
type Cache struct {
	db *badger.DB
}

// Open opens (creating if needed) the cache database at dir.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open compilation cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the entry for key. The second return is false when the key
// is not present.
func (c *Cache) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var out Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key.String()))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read for key %s: %w", key, err)
	}
	return &out, true, nil
}

// Put stores an entry under key, overwriting any existing one.
func (c *Cache) Put(ctx context.Context, key Key, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Executable == nil {
		return fmt.Errorf("cache entry has no executable")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key.String()), buf)
	})
	if err != nil {
		return fmt.Errorf("cache write for key %s: %w", key, err)
	}
	return nil
}

// Stats counts entries and reports on-disk size.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var count int
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsm, vlog := c.db.Size()
	return &Stats{Entries: count, SizeBytes: lsm + vlog}, nil
}

// GC runs value-log garbage collection until Badger reports nothing left
// to collect.
func (c *Cache) GC(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cache gc: %w", err)
		}
	}
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.db.DropAll(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
