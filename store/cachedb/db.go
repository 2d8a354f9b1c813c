// Package cachedb provides a TTL'd key/value cache for remote metadata
// payloads, backed by bbolt. Entries are JSON envelopes carrying the payload,
// the fetch timestamp, and the TTL chosen by the caller for that resource
// kind. Expired or malformed entries are evicted on read, never served.
package cachedb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
)

const (
	// CompressionThreshold is the minimum payload size before compression
	// is considered. zstd overhead is not worth it for smaller payloads.
	CompressionThreshold = 2048

	// MaxDecompressedSize is the hard cap during decompression.
	MaxDecompressedSize = 10 * 1024 * 1024
)

var (
	bucketEntries  = []byte("entries")
	bucketSettings = []byte("settings")
)

// ErrNotFound is returned when an entry does not exist, has expired, or
// could not be decoded.
var ErrNotFound = errors.New("cachedb: not found")

// envelope wraps a cached payload with its freshness metadata.
type envelope struct {
	Payload    []byte        `json:"payload"`
	Compressed bool          `json:"compressed,omitempty"`
	FetchedAt  time.Time     `json:"fetched_at"`
	TTL        time.Duration `json:"ttl"`
}

// expired reports whether the envelope is stale at the given instant.
// A zero TTL means the entry never expires.
func (e *envelope) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.FetchedAt) >= e.TTL
}

// DB is a bbolt-backed cache store.
type DB struct {
	db      *bbolt.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *slog.Logger
	now     func() time.Time
	noSync  bool
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: risks data loss on crash. Use only for testing.
func WithNoSync(noSync bool) Option {
	return func(d *DB) {
		d.noSync = noSync
	}
}

// Open opens (or creates) the cache database at the given path.
func Open(path string, opts ...Option) (*DB, error) {
	d := &DB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  d.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	d.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	d.encoder = enc
	d.decoder = dec

	d.logger.Debug("opened cachedb", "path", path, "noSync", d.noSync)
	return d, nil
}

// Close closes the database and releases codec resources.
func (d *DB) Close() error {
	if d.encoder != nil {
		d.encoder.Close()
		d.encoder = nil
	}
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder = nil
	}
	if d.db == nil {
		return nil
	}
	d.logger.Debug("closing cachedb")
	return d.db.Close()
}

// makeKey builds the compound storage key for a resource kind and key.
// The NUL separator keeps kinds from colliding with key prefixes.
func makeKey(kind, key string) []byte {
	return append(append([]byte(kind), 0), key...)
}

// Get retrieves the payload stored under (kind, key). Expired entries and
// entries that fail to decode are evicted and reported as ErrNotFound, so a
// corrupt cache heals itself on the next fetch cycle.
func (d *DB) Get(_ context.Context, kind, key string) ([]byte, error) {
	k := makeKey(kind, key)

	var raw []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketEntries).Get(k)
		if val == nil {
			return ErrNotFound
		}
		raw = make([]byte, len(val))
		copy(raw, val)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.FetchedAt.IsZero() {
		d.logger.Warn("evicting malformed cache entry", "kind", kind, "key", key)
		d.evict(k)
		return nil, ErrNotFound
	}

	if env.expired(d.now()) {
		d.evict(k)
		return nil, ErrNotFound
	}

	payload := env.Payload
	if env.Compressed {
		payload, err = d.decoder.DecodeAll(env.Payload, nil)
		if err != nil {
			d.logger.Warn("evicting undecodable cache entry", "kind", kind, "key", key, "error", err)
			d.evict(k)
			return nil, ErrNotFound
		}
	}
	return payload, nil
}

// Put stores the payload under (kind, key) with the given TTL, overwriting
// any prior entry. Payloads above the compression threshold are stored
// zstd-compressed.
func (d *DB) Put(_ context.Context, kind, key string, payload []byte, ttl time.Duration) error {
	env := envelope{
		Payload:   payload,
		FetchedAt: d.now(),
		TTL:       ttl,
	}
	if len(payload) >= CompressionThreshold {
		compressed := d.encoder.EncodeAll(payload, nil)
		if len(compressed) < len(payload) {
			env.Payload = compressed
			env.Compressed = true
		}
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Put(makeKey(kind, key), data)
	})
}

// Delete removes the entry stored under (kind, key), if any.
func (d *DB) Delete(_ context.Context, kind, key string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete(makeKey(kind, key))
	})
}

// GetJSON retrieves and unmarshals the payload stored under (kind, key).
func (d *DB) GetJSON(ctx context.Context, kind, key string, out any) error {
	payload, err := d.Get(ctx, kind, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		// Payload decoded but does not match the expected shape; treat it
		// like any other malformed entry.
		d.evict(makeKey(kind, key))
		return ErrNotFound
	}
	return nil
}

// PutJSON marshals v and stores it under (kind, key) with the given TTL.
func (d *DB) PutJSON(ctx context.Context, kind, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return d.Put(ctx, kind, key, payload, ttl)
}

func (d *DB) evict(k []byte) {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete(k)
	})
	if err != nil {
		d.logger.Warn("failed to evict cache entry", "error", err)
	}
}

// Stats summarizes the entries currently stored.
type Stats struct {
	Entries int       `json:"entries"`
	Oldest  time.Time `json:"oldest_fetch"`
	Newest  time.Time `json:"newest_fetch"`
}

// GetStats returns aggregate statistics over all cache entries.
func (d *DB) GetStats(_ context.Context) (*Stats, error) {
	stats := &Stats{}
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return nil // counted by the reaper, not here
			}
			stats.Entries++
			if stats.Oldest.IsZero() || env.FetchedAt.Before(stats.Oldest) {
				stats.Oldest = env.FetchedAt
			}
			if env.FetchedAt.After(stats.Newest) {
				stats.Newest = env.FetchedAt
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
