// Package tabs defines the tab directory the switcher reads from: tab records,
// groups, directory events and the Directory interface implemented by the
// tmux, Chrome and in-memory backends.
package tabs

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound      = errors.New("tab not found")
	ErrNoActiveTab   = errors.New("no active tab")
	ErrDirectoryGone = errors.New("tab directory unavailable")
)

// ID identifies an open tab. Backends choose the format (tmux window ids,
// DevTools target ids, ...); the switcher treats it as opaque.
type ID string

// WindowID identifies the window (tmux session, browser window) owning a tab.
type WindowID string

// Tab is a read-only view of an open tab.
type Tab struct {
	ID         ID       `json:"id"`
	Index      int      `json:"index"`
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	FavIconURL string   `json:"fav_icon_url,omitempty"`
	WindowID   WindowID `json:"window_id"`
	GroupID    string   `json:"group_id,omitempty"` // Empty when the tab is not grouped
	Active     bool     `json:"active"`
}

// Group is a tab group shown as a section header by the overlay.
type Group struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Color     string `json:"color,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
	// Optional badge overrides from config; empty means derived from Color.
	TextColor       string `json:"text_color,omitempty"`
	ActiveColor     string `json:"active_color,omitempty"`
	ActiveTextColor string `json:"active_text_color,omitempty"`
	Icon            string `json:"icon,omitempty"`
}

// Directory is the tab/window query and activation service.
type Directory interface {
	// List returns every open tab in the directory's native order.
	List(ctx context.Context) ([]Tab, error)
	// Get returns a single tab or ErrNotFound.
	Get(ctx context.Context, id ID) (Tab, error)
	// Active returns the active tab of the current window or ErrNoActiveTab.
	Active(ctx context.Context) (Tab, error)
	// CurrentWindow returns the focused window.
	CurrentWindow(ctx context.Context) (WindowID, error)
	// Activate makes the tab the active one in its window.
	Activate(ctx context.Context, id ID) error
	// FocusWindow raises the window.
	FocusWindow(ctx context.Context, id WindowID) error
	// Groups returns the known tab groups.
	Groups(ctx context.Context) ([]Group, error)
}

// EventKind classifies a directory event.
type EventKind string

const (
	EventActivated EventKind = "activated"
	EventRemoved   EventKind = "removed"
	EventUpdated   EventKind = "updated"
)

// Event is a change notification from a directory. URL is empty when the
// backend does not know it; consumers look the tab up in that case.
type Event struct {
	Kind  EventKind `json:"kind"`
	TabID ID        `json:"tab_id"`
	URL   string    `json:"url,omitempty"`
}

// EventSource is implemented by directories that can push events themselves.
// Events are delivered in arrival order until ctx is done.
type EventSource interface {
	Events(ctx context.Context) (<-chan Event, error)
}

// DefaultInternalSchemes are browser-privileged URL prefixes that never enter
// history and are never switched to blindly.
var DefaultInternalSchemes = []string{
	"chrome://",
	"chrome-devtools://",
	"chrome-extension://",
	"edge://",
	"about:",
}

// SchemeFilter decides whether a URL belongs to an internal page.
type SchemeFilter struct {
	prefixes []string
}

// NewSchemeFilter builds a filter from URL prefixes. An empty list falls back
// to DefaultInternalSchemes.
func NewSchemeFilter(prefixes []string) *SchemeFilter {
	if len(prefixes) == 0 {
		prefixes = DefaultInternalSchemes
	}
	clean := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			clean = append(clean, p)
		}
	}
	return &SchemeFilter{prefixes: clean}
}

// IsInternal reports whether url starts with one of the filter's prefixes.
// A nil filter uses DefaultInternalSchemes.
func (f *SchemeFilter) IsInternal(url string) bool {
	prefixes := DefaultInternalSchemes
	if f != nil {
		prefixes = f.prefixes
	}
	lower := strings.ToLower(url)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// IDs returns the ids of tabs in order.
func IDs(list []Tab) []ID {
	ids := make([]ID, len(list))
	for i, t := range list {
		ids[i] = t.ID
	}
	return ids
}
