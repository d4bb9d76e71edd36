// Package session owns the switch gesture: press to start, press again to
// cycle, release to confirm, or cancel/pick from the overlay.
//
// The Coordinator is the single writer of the Session. It never holds its lock
// across directory, storage or overlay calls; transitions that wait on one of
// those re-check the session generation when they resume.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/b/tabflip/pkg/tabs"
)

var (
	// ErrInternalPage is returned by DebugOpen when the active tab is an
	// internal page.
	ErrInternalPage = errors.New("active tab is an internal page")
	// ErrNoTarget is returned by Pick without a tab id.
	ErrNoTarget = errors.New("no target tab")
)

// Session is the mutable state of one gesture. The zero value is Idle.
type Session struct {
	Active         bool      `json:"active"`
	OriginTabID    tabs.ID   `json:"origin_tab_id,omitempty"`
	TargetIndex    int       `json:"target_index"`
	OverlayVisible bool      `json:"overlay_visible"`
	DebugMode      bool      `json:"debug_mode"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	Generation     uint64    `json:"generation"`
	Snapshot       string    `json:"snapshot,omitempty"` // empty, pending or resolved
}

// Panel is the show_panel payload.
type Panel struct {
	Tabs          []tabs.Tab   `json:"tabs"`
	Groups        []tabs.Group `json:"groups"`
	SelectedTabID tabs.ID      `json:"selected_tab_id"`
	OriginTabID   tabs.ID      `json:"origin_tab_id"`
	Shortcut      string       `json:"shortcut"`
	LauncherMode  bool         `json:"launcher_mode,omitempty"`
	Debug         bool         `json:"debug,omitempty"`
}

// Port is the one-way boundary to the overlay. Calls are best-effort; an
// error means the overlay did not get the message.
type Port interface {
	ShowPanel(ctx context.Context, panel Panel) error
	UpdateSelection(ctx context.Context, selected tabs.ID) error
	HidePanel(ctx context.Context) error
}

// Injector (re)creates the overlay for a tab after ShowPanel failed.
type Injector interface {
	Inject(ctx context.Context, origin tabs.ID) error
}

// PanelOptions are the overlay timing settings; they can change at runtime
// when the config file is reloaded.
type PanelOptions struct {
	// ShowDelay postpones show_panel so a quick press-release never flashes
	// the overlay. Zero shows it at once.
	ShowDelay time.Duration
	// QuickSwitchThreshold separates a quick release from a hold in
	// launcher mode.
	QuickSwitchThreshold time.Duration
	// LauncherMode keeps the overlay open after a held release so the user
	// can search and pick.
	LauncherMode bool
}

// wrapIndex reduces i into [0, n) by repeated subtraction; n must be > 0.
// Indexes only grow by small steps past n, so the loop stays short.
func wrapIndex(i, n int) int {
	if n <= 0 {
		return -1
	}
	for i >= n {
		i -= n
	}
	for i < 0 {
		i += n
	}
	return i
}
