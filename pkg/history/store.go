// Package history keeps the most-recently-used list of tab ids.
//
// Index 0 is the most recent tab. The list is capped, holds no duplicates and
// never contains internal pages. The in-memory list is authoritative; it is
// written to a storage.Store in the background after every mutation and read
// back once, lazily, on first use.
package history

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/perf"
	"github.com/b/tabflip/pkg/storage"
	"github.com/b/tabflip/pkg/tabs"
	"pkt.systems/pslog"
)

const (
	// StorageKey is the fixed key the list is persisted under.
	StorageKey = "tab_history"
	// DefaultMaxEntries caps the list when Options.MaxEntries is unset.
	DefaultMaxEntries = 10

	writeTimeout = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	MaxEntries int
	Filter     *tabs.SchemeFilter
	Logger     pslog.Logger
}

// Store is the MRU history. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	list []tabs.ID

	max     int
	filter  *tabs.SchemeFilter
	storage storage.Store
	log     pslog.Logger

	loadMu  sync.Mutex
	loaded  bool
	loading chan struct{}

	dirty     chan struct{}
	flush     chan chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New creates a store backed by st and starts its background writer. A nil
// st keeps history in memory only.
func New(st storage.Store, opts Options) *Store {
	limit := opts.MaxEntries
	if limit <= 0 {
		limit = DefaultMaxEntries
	}
	s := &Store{
		max:     limit,
		filter:  opts.Filter,
		storage: st,
		log:     logx.Or(opts.Logger).With("component", "history"),
		dirty:   make(chan struct{}, 1),
		flush:   make(chan chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// MaxEntries returns the capacity of the list.
func (s *Store) MaxEntries() int {
	return s.max
}

// Load reads the persisted list once per Store. Concurrent callers wait for
// the load in progress instead of starting another. A failed load leaves the
// list empty and is not retried.
func (s *Store) Load(ctx context.Context) error {
	s.loadMu.Lock()
	if s.loaded {
		s.loadMu.Unlock()
		return nil
	}
	if wait := s.loading; wait != nil {
		s.loadMu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	wait := make(chan struct{})
	s.loading = wait
	s.loadMu.Unlock()

	err := s.readPersisted(ctx)

	s.loadMu.Lock()
	s.loaded = true
	s.loading = nil
	s.loadMu.Unlock()
	close(wait)
	return err
}

func (s *Store) readPersisted(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	var stored []tabs.ID
	ok, err := s.storage.Get(ctx, StorageKey, &stored)
	if err != nil {
		s.log.Warn("history load failed", "err", err)
		return err
	}
	if !ok {
		s.log.Debug("history load miss")
		return nil
	}
	clean := make([]tabs.ID, 0, len(stored))
	for _, id := range stored {
		if id == "" || slices.Contains(clean, id) {
			continue
		}
		clean = append(clean, id)
		if len(clean) == s.max {
			break
		}
	}
	s.mu.Lock()
	s.list = clean
	s.mu.Unlock()
	s.log.Debug("history loaded", "entries", len(clean))
	return nil
}

func (s *Store) ensureLoaded(ctx context.Context) {
	if err := s.Load(ctx); err != nil {
		s.log.Debug("history continuing without persisted state", "err", err)
	}
}

// RecordActivation moves id to the front. Internal pages are ignored.
func (s *Store) RecordActivation(ctx context.Context, id tabs.ID, url string) {
	if id == "" {
		return
	}
	if s.filter.IsInternal(url) {
		logx.WithTab(s.log, id).Debug("history skip internal page", "url", url)
		return
	}
	s.ensureLoaded(ctx)
	s.mu.Lock()
	s.list = moveToFront(s.list, id, s.max)
	size := len(s.list)
	s.mu.Unlock()
	logx.WithTab(s.log, id).Debug("history activation", "entries", size)
	s.persist()
}

// RecordRemoval drops id. Removing an absent id is a no-op apart from the
// write.
func (s *Store) RecordRemoval(ctx context.Context, id tabs.ID) {
	s.ensureLoaded(ctx)
	s.mu.Lock()
	s.list = slices.DeleteFunc(s.list, func(v tabs.ID) bool { return v == id })
	size := len(s.list)
	s.mu.Unlock()
	logx.WithTab(s.log, id).Debug("history removal", "entries", size)
	s.persist()
}

// RecordNavigation removes id when it navigated into an internal page. In-place
// navigation never reorders history.
func (s *Store) RecordNavigation(ctx context.Context, id tabs.ID, url string) {
	if !s.filter.IsInternal(url) {
		return
	}
	s.RecordRemoval(ctx, id)
}

// InitializeFromCurrentWindow seeds an empty history with the active tab of
// the current window, unless that tab is an internal page.
func (s *Store) InitializeFromCurrentWindow(ctx context.Context, dir tabs.Directory) error {
	s.ensureLoaded(ctx)
	s.mu.Lock()
	empty := len(s.list) == 0
	s.mu.Unlock()
	if !empty {
		return nil
	}
	active, err := dir.Active(ctx)
	if err != nil {
		return fmt.Errorf("history init: %w", err)
	}
	if s.filter.IsInternal(active.URL) {
		logx.WithTab(s.log, active.ID).Debug("history init skipped internal page")
		return nil
	}
	s.mu.Lock()
	// An activation may have landed while the directory was queried.
	if len(s.list) == 0 {
		s.list = []tabs.ID{active.ID}
	}
	s.mu.Unlock()
	logx.WithTab(s.log, active.ID).Info("history initialized")
	s.persist()
	return nil
}

// Clear empties the list.
func (s *Store) Clear(ctx context.Context) {
	s.ensureLoaded(ctx)
	s.mu.Lock()
	s.list = nil
	s.mu.Unlock()
	s.log.Info("history cleared")
	s.persist()
}

// Snapshot returns a copy of the list, most recent first.
func (s *Store) Snapshot() []tabs.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.list)
}

func moveToFront(list []tabs.ID, id tabs.ID, limit int) []tabs.ID {
	out := make([]tabs.ID, 0, len(list)+1)
	out = append(out, id)
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) persist() {
	if s.storage == nil {
		return
	}
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// writeLoop serializes writes so the last write always carries the latest list.
func (s *Store) writeLoop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.dirty:
			s.write()
		case reply := <-s.flush:
			select {
			case <-s.dirty:
				s.write()
			default:
			}
			close(reply)
		case <-s.done:
			select {
			case <-s.dirty:
				s.write()
			default:
			}
			return
		}
	}
}

func (s *Store) write() {
	snapshot := s.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	var err error
	perf.Track(s.log, "history.persist", func() {
		err = s.storage.Set(ctx, StorageKey, snapshot)
	})
	if err != nil {
		s.log.Warn("history persist failed", "err", err, "entries", len(snapshot))
		return
	}
	s.log.Trace("history persisted", "entries", len(snapshot))
}

// Flush waits until any pending write has been attempted.
func (s *Store) Flush(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case s.flush <- reply:
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the pending write and stops the writer.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
}
