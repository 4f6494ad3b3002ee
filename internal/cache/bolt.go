package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

const boltBucket = "content"

// BoltCache is the single-node fallback when no Redis is configured. Values
// carry their own expiry; expired entries are treated as misses and
// overwritten lazily.
type BoltCache struct {
	db     *bolt.DB
	logger *logging.Logger
	ttl    time.Duration
}

type boltEntry struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

// NewBoltCache opens (or creates) a bolt file under dir.
func NewBoltCache(dir string, defaultTTL time.Duration, logger *logging.Logger) (*BoltCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	path := filepath.Join(dir, "content-cache.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt cache at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	if defaultTTL <= 0 {
		defaultTTL = 6 * time.Hour
	}
	log := logger.With("cache")
	log.Info("cache.opened", "path", path, "default_ttl", defaultTTL.String())

	return &BoltCache{db: db, logger: log, ttl: defaultTTL}, nil
}

// Close releases the file lock.
func (c *BoltCache) Close() error {
	return c.db.Close()
}

// Get retrieves a value, treating expired entries as misses.
func (c *BoltCache) Get(_ context.Context, key string, target any) (bool, error) {
	var entry boltEntry
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal cache entry for key %s: %w", key, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !found || time.Now().After(entry.ExpiresAt) {
		c.logger.Debug("cache.miss", "key", key)
		return false, nil
	}
	if err := json.Unmarshal(entry.Payload, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}
	c.logger.Debug("cache.hit", "key", key)
	return true, nil
}

// Set stores a value with the default TTL.
func (c *BoltCache) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL.
func (c *BoltCache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	entry, err := json.Marshal(boltEntry{
		ExpiresAt: time.Now().Add(ttl),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry for key %s: %w", key, err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), entry)
	})
	if err != nil {
		return fmt.Errorf("bolt set failed for key %s: %w", key, err)
	}
	return nil
}

// Delete removes one key.
func (c *BoltCache) Delete(_ context.Context, key string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("bolt delete failed for key %s: %w", key, err)
	}
	return nil
}
