package tabs

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDirectory is an in-process Directory. The daemon uses it for the
// "memory" backend and tests use it as a deterministic fake.
type MemoryDirectory struct {
	mu        sync.Mutex
	tabs      []Tab
	groups    []Group
	current   WindowID
	subs      map[chan Event]struct{}
	listCalls int

	// ListErr, when set, is returned by List.
	ListErr error
	// BeforeList runs (without the lock held) at the start of every List call.
	BeforeList func()

	activations []ID
	focused     []WindowID
}

// NewMemoryDirectory returns a directory holding tabs in the given order. The
// first window seen becomes the current window.
func NewMemoryDirectory(tabs ...Tab) *MemoryDirectory {
	d := &MemoryDirectory{subs: make(map[chan Event]struct{})}
	for _, t := range tabs {
		d.tabs = append(d.tabs, t)
		if d.current == "" {
			d.current = t.WindowID
		}
	}
	d.reindexLocked()
	return d
}

func (d *MemoryDirectory) reindexLocked() {
	for i := range d.tabs {
		d.tabs[i].Index = i
	}
}

func (d *MemoryDirectory) indexLocked(id ID) int {
	for i, t := range d.tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// List implements Directory.
func (d *MemoryDirectory) List(ctx context.Context) ([]Tab, error) {
	if hook := d.BeforeList; hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	out := make([]Tab, len(d.tabs))
	copy(out, d.tabs)
	return out, nil
}

// Get implements Directory.
func (d *MemoryDirectory) Get(_ context.Context, id ID) (Tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexLocked(id); i >= 0 {
		return d.tabs[i], nil
	}
	return Tab{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
}

// Active implements Directory.
func (d *MemoryDirectory) Active(_ context.Context) (Tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tabs {
		if t.Active && t.WindowID == d.current {
			return t, nil
		}
	}
	return Tab{}, ErrNoActiveTab
}

// CurrentWindow implements Directory.
func (d *MemoryDirectory) CurrentWindow(_ context.Context) (WindowID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

// Activate implements Directory. It emits EventActivated like a real backend.
func (d *MemoryDirectory) Activate(_ context.Context, id ID) error {
	d.mu.Lock()
	i := d.indexLocked(id)
	if i < 0 {
		d.mu.Unlock()
		return fmt.Errorf("activate %s: %w", id, ErrNotFound)
	}
	win := d.tabs[i].WindowID
	for j := range d.tabs {
		if d.tabs[j].WindowID == win {
			d.tabs[j].Active = j == i
		}
	}
	d.activations = append(d.activations, id)
	ev := Event{Kind: EventActivated, TabID: id, URL: d.tabs[i].URL}
	d.mu.Unlock()
	d.publish(ev)
	return nil
}

// FocusWindow implements Directory.
func (d *MemoryDirectory) FocusWindow(_ context.Context, id WindowID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = id
	d.focused = append(d.focused, id)
	return nil
}

// Groups implements Directory.
func (d *MemoryDirectory) Groups(_ context.Context) ([]Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Group, len(d.groups))
	copy(out, d.groups)
	return out, nil
}

// Events implements EventSource.
func (d *MemoryDirectory) Events(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()
	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.subs, ch)
		d.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (d *MemoryDirectory) publish(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Open appends a tab and emits nothing; call Activate to focus it.
func (d *MemoryDirectory) Open(t Tab) {
	d.mu.Lock()
	d.tabs = append(d.tabs, t)
	if d.current == "" {
		d.current = t.WindowID
	}
	d.reindexLocked()
	d.mu.Unlock()
}

// Close removes a tab and emits EventRemoved.
func (d *MemoryDirectory) Close(id ID) {
	d.mu.Lock()
	i := d.indexLocked(id)
	if i < 0 {
		d.mu.Unlock()
		return
	}
	d.tabs = append(d.tabs[:i], d.tabs[i+1:]...)
	d.reindexLocked()
	d.mu.Unlock()
	d.publish(Event{Kind: EventRemoved, TabID: id})
}

// Navigate changes a tab's URL and emits EventUpdated.
func (d *MemoryDirectory) Navigate(id ID, url string) {
	d.mu.Lock()
	i := d.indexLocked(id)
	if i < 0 {
		d.mu.Unlock()
		return
	}
	d.tabs[i].URL = url
	d.mu.Unlock()
	d.publish(Event{Kind: EventUpdated, TabID: id, URL: url})
}

// SetGroups replaces the group list.
func (d *MemoryDirectory) SetGroups(groups []Group) {
	d.mu.Lock()
	d.groups = append([]Group(nil), groups...)
	d.mu.Unlock()
}

// ListCalls returns how many times List reached the tab set.
func (d *MemoryDirectory) ListCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listCalls
}

// Activations returns every id passed to a successful Activate, in order.
func (d *MemoryDirectory) Activations() []ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ID(nil), d.activations...)
}

// FocusedWindows returns every window passed to FocusWindow, in order.
func (d *MemoryDirectory) FocusedWindows() []WindowID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]WindowID(nil), d.focused...)
}
