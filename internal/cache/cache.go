// Package cache provides the two-tier store for extraction results: a
// short-lived in-process map in front of a durable backing store.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
)

const (
	fastTTL         = 5 * time.Minute
	cleanupInterval = 10 * time.Minute
)

// ResultStore is the durable tier. Implementations return (nil, nil) for
// misses and never serve expired entries.
type ResultStore interface {
	GetResult(ctx context.Context, jobID uuid.UUID) (*pricelist.Result, error)
	PutResult(ctx context.Context, result *pricelist.Result) error
	DeleteResult(ctx context.Context, jobID uuid.UUID) error
	PurgeExpired(ctx context.Context) (int64, error)
}

type fastEntry struct {
	result  *pricelist.Result
	staleAt time.Time
}

// ResultCache satisfies pricelist.ResultCache. Reads hit the in-process
// tier first and fall through to the durable store, repopulating the fast
// tier on the way back. Writes go to both tiers.
type ResultCache struct {
	store  ResultStore
	logger *slog.Logger

	mu   sync.Mutex
	fast map[uuid.UUID]fastEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a cache and starts its sweep loop. store may be nil, which
// leaves only the in-process tier (the one-shot CLI runs that way).
func New(store ResultStore, logger *slog.Logger) *ResultCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ResultCache{
		store:  store,
		logger: logger,
		fast:   map[uuid.UUID]fastEntry{},
		stop:   make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached result for the job, or (nil, nil) when absent or
// expired.
func (c *ResultCache) Get(ctx context.Context, jobID uuid.UUID) (*pricelist.Result, error) {
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.fast[jobID]; ok {
		if now.Before(entry.staleAt) && !entry.result.Expired(now) {
			c.mu.Unlock()
			return entry.result, nil
		}
		delete(c.fast, jobID)
	}
	c.mu.Unlock()

	if c.store == nil {
		return nil, nil
	}
	result, err := c.store.GetResult(ctx, jobID)
	if err != nil || result == nil {
		return nil, err
	}
	if result.Expired(now) {
		if err := c.store.DeleteResult(ctx, jobID); err != nil {
			c.logger.Warn("cache.expire_delete_failed", "job_id", jobID, "err", err)
		}
		return nil, nil
	}

	c.mu.Lock()
	c.fast[jobID] = fastEntry{result: result, staleAt: now.Add(fastTTL)}
	c.mu.Unlock()
	return result, nil
}

// Set writes the result to both tiers.
func (c *ResultCache) Set(ctx context.Context, result *pricelist.Result) error {
	c.mu.Lock()
	c.fast[result.JobID] = fastEntry{result: result, staleAt: time.Now().Add(fastTTL)}
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.PutResult(ctx, result)
}

// Invalidate removes the result from both tiers.
func (c *ResultCache) Invalidate(ctx context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	delete(c.fast, jobID)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.DeleteResult(ctx, jobID)
}

// Close stops the sweep loop.
func (c *ResultCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *ResultCache) sweep() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.cleanup(now)
		}
	}
}

// cleanup drops expired fast-tier entries and purges expired rows from the
// durable tier.
func (c *ResultCache) cleanup(now time.Time) {
	c.mu.Lock()
	for id, entry := range c.fast {
		if !now.Before(entry.staleAt) || entry.result.Expired(now) {
			delete(c.fast, id)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	purged, err := c.store.PurgeExpired(ctx)
	if err != nil {
		c.logger.Warn("cache.purge_failed", "err", err)
		return
	}
	if purged > 0 {
		c.logger.Info("cache.purged_expired", "rows", purged)
	}
}
