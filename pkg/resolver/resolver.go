// Package resolver merges MRU history with the live tab set into the ordered
// candidate list a switch gesture walks through.
package resolver

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/perf"
	"github.com/b/tabflip/pkg/tabs"
	"pkt.systems/pslog"
)

// History is the part of the history store the resolver reads.
type History interface {
	Load(ctx context.Context) error
	Snapshot() []tabs.ID
}

// Resolver builds ordered snapshots. Resolve never caches; use a Cache for
// the lifetime of one gesture.
type Resolver struct {
	dir     tabs.Directory
	history History
	log     pslog.Logger
}

// New returns a resolver over dir and history.
func New(dir tabs.Directory, history History, logger pslog.Logger) *Resolver {
	return &Resolver{
		dir:     dir,
		history: history,
		log:     logx.Or(logger).With("component", "resolver"),
	}
}

// Resolve fetches the live tab set and orders it: tracked tabs in history
// order first, then every other tab in directory order.
func (r *Resolver) Resolve(ctx context.Context) ([]tabs.Tab, error) {
	timer := perf.Start(r.log, "resolve")
	if err := r.history.Load(ctx); err != nil {
		r.log.Debug("resolve with unloaded history", "err", err)
	}
	live, err := r.dir.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	ordered := Merge(r.history.Snapshot(), live)
	timer.Stop("tabs", len(ordered), "order", tabs.IDs(ordered))
	return ordered, nil
}

// Merge orders live tabs by history. History ids that are no longer open are
// skipped. The result always has len(live) entries.
func Merge(history []tabs.ID, live []tabs.Tab) []tabs.Tab {
	byID := make(map[tabs.ID]int, len(live))
	for i, t := range live {
		if _, dup := byID[t.ID]; !dup {
			byID[t.ID] = i
		}
	}
	seen := make(map[tabs.ID]bool, len(live))
	out := make([]tabs.Tab, 0, len(live))
	for _, id := range history {
		i, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, live[i])
	}
	for _, t := range live {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

type cacheState int

const (
	cacheEmpty cacheState = iota
	cachePending
	cacheResolved
)

func (s cacheState) String() string {
	switch s {
	case cachePending:
		return "pending"
	case cacheResolved:
		return "resolved"
	default:
		return "empty"
	}
}

// Cache holds one gesture's snapshot: empty, pending (a fetch in flight that
// every caller shares) or resolved. A failed fetch returns the cache to empty
// so the next caller retries.
type Cache struct {
	r     *Resolver
	group singleflight.Group

	mu    sync.Mutex
	state cacheState
	value []tabs.Tab
}

// NewCache returns an empty cache bound to r.
func (r *Resolver) NewCache() *Cache {
	return &Cache{r: r}
}

// Get returns the cached snapshot, joining or starting a fetch as needed.
func (c *Cache) Get(ctx context.Context) ([]tabs.Tab, error) {
	c.mu.Lock()
	if c.state == cacheResolved {
		out := clone(c.value)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	v, err, shared := c.group.Do("snapshot", func() (any, error) {
		c.mu.Lock()
		if c.state == cacheResolved {
			out := c.value
			c.mu.Unlock()
			return out, nil
		}
		c.state = cachePending
		c.mu.Unlock()

		ordered, err := c.r.Resolve(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.state = cacheEmpty
			c.value = nil
			return nil, err
		}
		c.state = cacheResolved
		c.value = ordered
		return ordered, nil
	})
	if err != nil {
		c.r.log.Debug("snapshot fetch failed", "err", err, "shared", shared)
		return nil, err
	}
	return clone(v.([]tabs.Tab)), nil
}

// Prime starts a fetch in the background without waiting for it.
func (c *Cache) Prime(ctx context.Context) {
	go func() {
		if _, err := c.Get(ctx); err != nil {
			c.r.log.Debug("snapshot prime failed", "err", err)
		}
	}()
}

// State reports empty, pending or resolved.
func (c *Cache) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

func clone(in []tabs.Tab) []tabs.Tab {
	if in == nil {
		return nil
	}
	out := make([]tabs.Tab, len(in))
	copy(out, in)
	return out
}
