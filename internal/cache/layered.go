package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sejmbot/detektor/internal/logging"
	"github.com/sejmbot/detektor/internal/model"
)

// EvaluationCache layers a memory cache over a persistent Store and tracks
// in-flight evaluations so that each fingerprint is evaluated at most once
// at a time.
type EvaluationCache struct {
	memory        *MemoryCache
	logger        logging.Logger
	flushEvery    int
	flushInterval time.Duration

	mu        sync.Mutex
	store     Store // nil once degraded or for the memory backend
	inflight  map[string]*Reservation
	pending   []model.CacheEntry
	lastFlush time.Time

	flushMu sync.Mutex

	stop     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
}

// Reservation is the in-flight marker for one fingerprint. The owner
// resolves it with Commit or Release; everyone else waits on it.
type Reservation struct {
	done   chan struct{}
	result *model.EvaluationResult
	err    error
}

// Options configures an EvaluationCache
type Options struct {
	FlushEvery    int           // Flush after this many commits; 0 disables
	FlushInterval time.Duration // Flush pending entries at least this often; 0 disables
	Logger        logging.Logger
}

// New loads the store and returns a ready cache. A store that cannot be
// read is logged and dropped; the cache then runs memory-only.
func New(ctx context.Context, store Store, opts Options) *EvaluationCache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	c := &EvaluationCache{
		memory:        NewMemoryCache(),
		logger:        logger,
		flushEvery:    opts.FlushEvery,
		flushInterval: opts.FlushInterval,
		inflight:      make(map[string]*Reservation),
		lastFlush:     time.Now(),
		stop:          make(chan struct{}),
	}

	if store == nil {
		return c
	}

	entries, err := store.Load(ctx)
	if err != nil {
		logger.Warn(ctx, "Evaluation cache unreadable, continuing in memory", logging.Error(err))
		_ = store.Close()
		return c
	}

	for _, e := range entries {
		c.memory.Set(e)
	}
	c.store = store
	logger.Debug(ctx, "Evaluation cache loaded", logging.Int("entries", len(entries)))

	if c.flushInterval > 0 {
		c.loopDone = make(chan struct{})
		go c.flushLoop(context.WithoutCancel(ctx))
	}
	return c
}

// flushLoop writes pending entries every flush interval until Close
func (c *EvaluationCache) flushLoop(ctx context.Context) {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			dirty := c.store != nil && len(c.pending) > 0
			c.mu.Unlock()
			if dirty {
				_ = c.Flush(ctx)
			}
		}
	}
}

// Lookup returns a cached result marked as a cache hit. It never blocks on
// in-flight evaluations.
func (c *EvaluationCache) Lookup(fingerprint string) (*model.EvaluationResult, bool) {
	entry, ok := c.memory.Get(fingerprint)
	if !ok {
		return nil, false
	}
	result := entry.Result
	result.Cached = true
	return &result, true
}

// Reserve registers interest in a fingerprint. The caller owns the
// returned reservation when owner is true and must resolve it with Commit
// or Release. Otherwise the reservation belongs to another caller (or is
// already resolved from the cache) and the caller should Wait on it.
func (c *EvaluationCache) Reserve(fingerprint string) (r *Reservation, owner bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result, ok := c.Lookup(fingerprint); ok {
		r := &Reservation{done: make(chan struct{}), result: result}
		close(r.done)
		return r, false
	}
	if r, ok := c.inflight[fingerprint]; ok {
		return r, false
	}

	r = &Reservation{done: make(chan struct{})}
	c.inflight[fingerprint] = r
	return r, true
}

// Commit stores the owner's result and wakes every waiter
func (c *EvaluationCache) Commit(ctx context.Context, fingerprint string, result model.EvaluationResult) {
	result.Cached = false
	entry := model.CacheEntry{
		Fingerprint: fingerprint,
		Result:      result,
		CreatedAt:   time.Now().UTC(),
	}

	c.mu.Lock()
	c.memory.Set(entry)
	r := c.inflight[fingerprint]
	delete(c.inflight, fingerprint)
	c.pending = append(c.pending, entry)
	due := c.flushDue()
	c.mu.Unlock()

	if r != nil {
		shared := result
		r.result = &shared
		close(r.done)
	}

	if due {
		_ = c.Flush(ctx)
	}
}

// Release gives up a reservation without a result. Waiters receive err.
func (c *EvaluationCache) Release(fingerprint string, err error) {
	c.mu.Lock()
	r := c.inflight[fingerprint]
	delete(c.inflight, fingerprint)
	c.mu.Unlock()

	if r != nil {
		r.err = err
		close(r.done)
	}
}

// Wait blocks until the reservation is resolved or ctx is done
func (r *Reservation) Wait(ctx context.Context) (*model.EvaluationResult, error) {
	select {
	case <-r.done:
		if r.err != nil {
			return nil, r.err
		}
		result := *r.result
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// must hold c.mu
func (c *EvaluationCache) flushDue() bool {
	if c.store == nil || len(c.pending) == 0 {
		return false
	}
	if c.flushEvery > 0 && len(c.pending) >= c.flushEvery {
		return true
	}
	return c.flushInterval > 0 && time.Since(c.lastFlush) >= c.flushInterval
}

// Flush writes pending entries to the store. On failure the cache logs,
// closes the store and keeps working memory-only; the error is returned
// for reporting.
func (c *EvaluationCache) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	store := c.store
	batch := c.pending
	c.pending = nil
	c.lastFlush = time.Now()
	c.mu.Unlock()

	if store == nil || len(batch) == 0 {
		return nil
	}

	if err := store.Save(ctx, batch); err != nil {
		c.logger.Warn(ctx, "Evaluation cache flush failed, continuing in memory",
			logging.Int("entries", len(batch)), logging.Error(err))
		c.degrade(store)
		return err
	}

	c.logger.Debug(ctx, "Evaluation cache flushed", logging.Int("entries", len(batch)))
	return nil
}

func (c *EvaluationCache) degrade(store Store) {
	c.mu.Lock()
	if c.store == store {
		c.store = nil
	}
	c.mu.Unlock()
	_ = store.Close()
}

// Persistent reports whether results still reach durable storage
func (c *EvaluationCache) Persistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store != nil
}

// Len returns the number of cached fingerprints
func (c *EvaluationCache) Len() int {
	return c.memory.Len()
}

// Clear drops every entry from memory and from the store
func (c *EvaluationCache) Clear(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	c.memory.Clear()
	c.pending = nil
	store := c.store
	c.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.Clear(ctx)
}

// Close stops the interval flush, flushes pending entries and closes the
// store
func (c *EvaluationCache) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.loopDone != nil {
		<-c.loopDone
	}

	err := c.Flush(ctx)

	c.mu.Lock()
	store := c.store
	c.store = nil
	c.mu.Unlock()

	if store != nil {
		if cerr := store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
