package history

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/b/tabflip/pkg/storage"
	"github.com/b/tabflip/pkg/tabs"
)

func newTestStore(t *testing.T, st storage.Store, limit int) *Store {
	t.Helper()
	s := New(st, Options{MaxEntries: limit})
	t.Cleanup(s.Close)
	return s
}

func TestRecordActivationMovesToFront(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, 0)

	s.RecordActivation(ctx, "1", "https://a")
	s.RecordActivation(ctx, "2", "https://b")
	s.RecordActivation(ctx, "3", "https://c")
	s.RecordActivation(ctx, "1", "https://a")

	want := []tabs.ID{"1", "3", "2"}
	if got := s.Snapshot(); !slices.Equal(got, want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
}

func TestHistoryBoundedAndUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, 0)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		id := tabs.ID(fmt.Sprintf("%d", rng.Intn(25)))
		switch rng.Intn(4) {
		case 0:
			s.RecordRemoval(ctx, id)
		case 1:
			s.RecordNavigation(ctx, id, "chrome://newtab")
		default:
			s.RecordActivation(ctx, id, "https://example.com/"+string(id))
		}
		got := s.Snapshot()
		if len(got) > DefaultMaxEntries {
			t.Fatalf("step %d: length %d exceeds max", i, len(got))
		}
		seen := map[tabs.ID]bool{}
		for _, v := range got {
			if seen[v] {
				t.Fatalf("step %d: duplicate %s in %v", i, v, got)
			}
			seen[v] = true
		}
	}
}

func TestInternalActivationNeverInserted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, 0)
	s.RecordActivation(ctx, "1", "https://a")
	for _, url := range tabs.DefaultInternalSchemes {
		s.RecordActivation(ctx, "9", url+"x")
	}
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"1"}) {
		t.Fatalf("internal activation leaked into history: %v", got)
	}
}

func TestNavigationIntoInternalPageRemoves(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, 0)
	s.RecordActivation(ctx, "1", "https://a")
	s.RecordActivation(ctx, "2", "https://b")

	s.RecordNavigation(ctx, "1", "https://a/other")
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"2", "1"}) {
		t.Fatalf("regular navigation must not reorder, got %v", got)
	}
	s.RecordNavigation(ctx, "1", "about:blank")
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"2"}) {
		t.Fatalf("expected tab 1 removed, got %v", got)
	}
}

func TestRecordRemovalIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, 0)
	s.RecordActivation(ctx, "1", "https://a")
	s.RecordRemoval(ctx, "7")
	s.RecordRemoval(ctx, "1")
	s.RecordRemoval(ctx, "1")
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty history, got %v", got)
	}
}

func TestCustomMaxEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, 3)
	for i := 0; i < 6; i++ {
		s.RecordActivation(ctx, tabs.ID(fmt.Sprint(i)), "https://x")
	}
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"5", "4", "3"}) {
		t.Fatalf("Snapshot() = %v", got)
	}
}

func TestPersistAndReload(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	s := New(st, Options{})
	s.RecordActivation(ctx, "5", "https://five")
	s.RecordActivation(ctx, "3", "https://three")
	s.Close()

	reloaded := newTestStore(t, st, 0)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := reloaded.Snapshot(); !slices.Equal(got, []tabs.ID{"3", "5"}) {
		t.Fatalf("reloaded = %v", got)
	}
}

func TestLoadDropsDuplicatesAndTruncates(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	if err := st.Set(ctx, StorageKey, []tabs.ID{"1", "1", "", "2", "3", "4"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := newTestStore(t, st, 2)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"1", "2"}) {
		t.Fatalf("Snapshot() = %v", got)
	}
}

type countingStorage struct {
	*storage.Memory
	mu   sync.Mutex
	gets int
	gate chan struct{}
}

func (c *countingStorage) Get(ctx context.Context, key string, v any) (bool, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	if c.gate != nil {
		<-c.gate
	}
	return c.Memory.Get(ctx, key, v)
}

func TestLoadIsMemoized(t *testing.T) {
	ctx := context.Background()
	st := &countingStorage{Memory: storage.NewMemory(), gate: make(chan struct{})}
	s := newTestStore(t, st, 0)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Load(ctx)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(st.gate)
	wg.Wait()
	_ = s.Load(ctx)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gets != 1 {
		t.Fatalf("expected a single storage read, got %d", st.gets)
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	st.SetErr = errors.New("quota exceeded")
	s := newTestStore(t, st, 0)

	s.RecordActivation(ctx, "1", "https://a")
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"1"}) {
		t.Fatalf("in-memory state lost: %v", got)
	}
	if st.Sets() != 0 {
		t.Fatalf("expected no successful writes")
	}
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	st.GetErr = errors.New("corrupt")
	s := newTestStore(t, st, 0)
	if err := s.Load(ctx); err == nil {
		t.Fatalf("expected load error")
	}
	s.RecordActivation(ctx, "1", "https://a")
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"1"}) {
		t.Fatalf("Snapshot() = %v", got)
	}
}

func TestInitializeFromCurrentWindow(t *testing.T) {
	ctx := context.Background()
	dir := tabs.NewMemoryDirectory(
		tabs.Tab{ID: "1", WindowID: "w1", URL: "https://a"},
		tabs.Tab{ID: "2", WindowID: "w1", URL: "https://b", Active: true},
	)
	s := newTestStore(t, nil, 0)
	if err := s.InitializeFromCurrentWindow(ctx, dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"2"}) {
		t.Fatalf("Snapshot() = %v", got)
	}

	// A non-empty history is left alone.
	_ = dir.Activate(ctx, "1")
	if err := s.InitializeFromCurrentWindow(ctx, dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := s.Snapshot(); !slices.Equal(got, []tabs.ID{"2"}) {
		t.Fatalf("Snapshot() = %v", got)
	}
}

func TestInitializeSkipsInternalActiveTab(t *testing.T) {
	ctx := context.Background()
	dir := tabs.NewMemoryDirectory(tabs.Tab{ID: "1", WindowID: "w1", URL: "chrome://newtab", Active: true})
	s := newTestStore(t, nil, 0)
	if err := s.InitializeFromCurrentWindow(ctx, dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty history, got %v", got)
	}
}

func TestInitializeReportsMissingActiveTab(t *testing.T) {
	s := newTestStore(t, nil, 0)
	err := s.InitializeFromCurrentWindow(context.Background(), tabs.NewMemoryDirectory())
	if !errors.Is(err, tabs.ErrNoActiveTab) {
		t.Fatalf("expected ErrNoActiveTab, got %v", err)
	}
	if got := s.Snapshot(); len(got) != 0 {
		t.Fatalf("expected empty history, got %v", got)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	s := newTestStore(t, st, 0)
	s.RecordActivation(ctx, "1", "https://a")
	s.Clear(ctx)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	var stored []tabs.ID
	if _, err := st.Get(ctx, StorageKey, &stored); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored) != 0 || len(s.Snapshot()) != 0 {
		t.Fatalf("expected cleared history, stored=%v", stored)
	}
}
