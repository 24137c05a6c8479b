package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ndenisov/scribeflow/internal/metrics"
)

// Cache keeps loaded models resident and collapses concurrent loads of
// the same model into a single fetch. Eviction frees RAM budget only;
// the weight file stays on disk so a later load or a restart skips the
// download.
type Cache struct {
	dir      string
	budgetMB int64
	fetcher  Fetcher
	log      *zap.Logger
	metrics  *metrics.Metrics

	group singleflight.Group

	mu     sync.Mutex
	loaded map[string]*entry
}

type entry struct {
	spec     Spec
	path     string
	refs     int
	lastUsed time.Time
}

// Handle pins a loaded model in the cache until released.
type Handle struct {
	Spec Spec
	Path string

	cache    *Cache
	released bool
	mu       sync.Mutex
}

// Release unpins the model. Safe to call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.cache == nil {
		return
	}
	h.released = true
	h.cache.release(h.Spec.Name)
}

func NewCache(dir string, budgetMB int64, fetcher Fetcher, log *zap.Logger, m *metrics.Metrics) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Cache{
		dir:      dir,
		budgetMB: budgetMB,
		fetcher:  fetcher,
		log:      log,
		metrics:  m,
		loaded:   make(map[string]*entry),
	}
}

// Acquire returns a pinned handle for the named model, loading it if
// necessary. Concurrent callers for the same model share one load; on
// failure every waiter gets the same error and the next Acquire retries
// from scratch.
func (c *Cache) Acquire(ctx context.Context, name string) (*Handle, error) {
	spec, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", name)
	}

	if h := c.tryPin(name); h != nil {
		return h, nil
	}

	ch := c.group.DoChan(name, func() (interface{}, error) {
		path, err := c.fetcher.Fetch(ctx, spec, c.dir)
		if err != nil {
			c.metrics.ModelLoads.WithLabelValues("failure").Inc()
			return nil, err
		}

		c.mu.Lock()
		c.loaded[name] = &entry{spec: spec, path: path, lastUsed: time.Now()}
		c.evictLocked(name)
		c.mu.Unlock()

		c.metrics.ModelLoads.WithLabelValues("success").Inc()
		c.log.Info("model loaded", zap.String("model", name), zap.Int64("ram_mb", spec.RAMWeightMB))
		return path, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.group.Forget(name)
			return nil, fmt.Errorf("load model %s: %w", name, res.Err)
		}
	}

	if h := c.tryPin(name); h != nil {
		return h, nil
	}
	// The entry was evicted between the load completing and this pin;
	// only possible under heavy churn, so just go again.
	return c.Acquire(ctx, name)
}

// tryPin pins an already-loaded model, or returns nil.
func (c *Cache) tryPin(name string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.loaded[name]
	if !ok {
		return nil
	}
	e.refs++
	e.lastUsed = time.Now()
	return &Handle{Spec: e.spec, Path: e.path, cache: c}
}

func (c *Cache) release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.loaded[name]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	e.lastUsed = time.Now()
	c.evictLocked("")
}

// evictLocked drops least-recently-used unpinned models until the RAM
// budget is met. The model named keep is never evicted, even unpinned.
// Pinned models can hold the cache over budget; that is logged, not
// forced.
func (c *Cache) evictLocked(keep string) {
	if c.budgetMB <= 0 {
		return
	}

	for c.residentLocked() > c.budgetMB {
		var victim string
		var oldest time.Time
		for name, e := range c.loaded {
			if e.refs > 0 || name == keep {
				continue
			}
			if victim == "" || e.lastUsed.Before(oldest) {
				victim = name
				oldest = e.lastUsed
			}
		}
		if victim == "" {
			c.log.Warn("model cache over budget with all models pinned",
				zap.Int64("resident_mb", c.residentLocked()),
				zap.Int64("budget_mb", c.budgetMB))
			return
		}

		delete(c.loaded, victim)
		c.metrics.ModelEvictions.Inc()
		c.log.Info("model evicted", zap.String("model", victim))
	}
}

func (c *Cache) residentLocked() int64 {
	var total int64
	for _, e := range c.loaded {
		total += e.spec.RAMWeightMB
	}
	return total
}

// Resident returns the names of models currently held in memory.
func (c *Cache) Resident() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.loaded))
	for name := range c.loaded {
		names = append(names, name)
	}
	return names
}
