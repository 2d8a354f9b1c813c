package cachedb

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/showcase-cache/telemetry"
)

// Reaper sweeps expired and malformed entries out of the cache on an
// interval. Expired entries are also evicted lazily on read; the reaper just
// keeps cold keys from accumulating between reads.
type Reaper struct {
	db       *DB
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewReaper creates a reaper for the given store.
func NewReaper(db *DB, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval == 0 {
		interval = 1 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		db:       db,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins background sweeps.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running || r.stopped {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.run(ctx)
}

// Stop stops background sweeps and waits for the current one to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running || r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// ReapResult contains the results of a single sweep.
type ReapResult struct {
	Expired   int
	Malformed int
	Errors    int
	Duration  time.Duration
}

// RunOnce performs a single sweep over all entries.
func (r *Reaper) RunOnce(ctx context.Context) *ReapResult {
	start := r.db.now()
	result := &ReapResult{}

	var doomed [][]byte
	err := r.db.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil || env.FetchedAt.IsZero() {
				result.Malformed++
			} else if !env.expired(r.db.now()) {
				return nil
			} else {
				result.Expired++
			}
			key := make([]byte, len(k))
			copy(key, k)
			doomed = append(doomed, key)
			return nil
		})
	})
	if err != nil {
		r.logger.Error("failed to scan cache entries", "error", err)
		result.Errors++
		return result
	}

	if len(doomed) > 0 {
		err = r.db.db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(bucketEntries)
			for _, k := range doomed {
				if err := bucket.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			r.logger.Warn("failed to delete swept entries", "error", err)
			result.Errors++
		}
	}

	result.Duration = r.db.now().Sub(start)
	telemetry.RecordReaperCycle(ctx, result.Expired+result.Malformed, result.Duration)

	if result.Expired > 0 || result.Malformed > 0 {
		r.logger.Info("cache sweep complete",
			"expired", result.Expired,
			"malformed", result.Malformed,
			"duration", result.Duration,
		)
	} else {
		r.logger.Debug("cache sweep complete, nothing to reap")
	}

	return result
}
