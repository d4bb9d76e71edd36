package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/resolver"
	"github.com/b/tabflip/pkg/tabs"
	"pkt.systems/pslog"
)

// Timer is the part of *time.Timer the coordinator uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It matches time.AfterFunc and is replaceable
// in tests.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configure a Coordinator.
type Options struct {
	Directory tabs.Directory
	Resolver  *resolver.Resolver
	Port      Port
	// Injector is optional; without it a failed show is not retried.
	Injector Injector
	// Filter defaults to the built-in internal schemes.
	Filter *tabs.SchemeFilter
	Panel  PanelOptions
	// Shortcut returns the display form of the trigger key.
	Shortcut func() string
	// LogBufferSize defaults to DefaultLogBufferSize.
	LogBufferSize int
	Logger        pslog.Logger
	Now           func() time.Time
	AfterFunc     AfterFunc
}

// Coordinator runs the switch gesture state machine.
type Coordinator struct {
	dir      tabs.Directory
	resolver *resolver.Resolver
	port     Port
	injector Injector
	filter   *tabs.SchemeFilter
	shortcut func() string
	log      pslog.Logger
	logs     *LogBuffer
	now      func() time.Time
	after    AfterFunc

	mu    sync.Mutex
	panel PanelOptions
	sess  Session
	gen   uint64
	cache *resolver.Cache
	timer Timer
}

// NewCoordinator returns an idle coordinator.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		dir:      opts.Directory,
		resolver: opts.Resolver,
		port:     opts.Port,
		injector: opts.Injector,
		filter:   opts.Filter,
		shortcut: opts.Shortcut,
		panel:    opts.Panel,
		log:      logx.Or(opts.Logger).With("component", "session"),
		logs:     NewLogBuffer(opts.LogBufferSize),
		now:      opts.Now,
		after:    opts.AfterFunc,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.after == nil {
		c.after = realAfterFunc
	}
	if c.shortcut == nil {
		c.shortcut = func() string { return "" }
	}
	return c
}

// SetPanelOptions replaces the overlay timing settings. A gesture in flight
// keeps its armed timer.
func (c *Coordinator) SetPanelOptions(p PanelOptions) {
	c.mu.Lock()
	c.panel = p
	c.mu.Unlock()
	c.record("panel options updated", "show_delay", p.ShowDelay, "quick_switch_threshold", p.QuickSwitchThreshold, "launcher_mode", p.LauncherMode)
}

// State returns a copy of the current session.
func (c *Coordinator) State() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	if c.cache != nil {
		s.Snapshot = c.cache.State()
	}
	return s
}

// Logs drains the diagnostic buffer.
func (c *Coordinator) Logs() []LogEntry {
	return c.logs.Drain()
}

// Shortcut returns the display form of the trigger key.
func (c *Coordinator) Shortcut() string {
	return c.shortcut()
}

// record writes to the process log and the diagnostic buffer.
func (c *Coordinator) record(event string, keyvals ...any) {
	c.log.Debug(event, keyvals...)
	c.logs.Add(c.now(), event, keyvals...)
}

// Cycle starts a gesture when idle and advances the selection otherwise.
func (c *Coordinator) Cycle(ctx context.Context) error {
	if c.advance(ctx) {
		return nil
	}
	return c.start(ctx)
}

// advance moves the selection of an active gesture. It reports false when
// the coordinator is idle.
func (c *Coordinator) advance(ctx context.Context) bool {
	c.mu.Lock()
	if !c.sess.Active {
		c.mu.Unlock()
		return false
	}
	c.sess.TargetIndex++
	idx := c.sess.TargetIndex
	visible := c.sess.OverlayVisible
	gen := c.sess.Generation
	c.mu.Unlock()

	c.record("cycle", "target_index", idx, "overlay_visible", visible)
	if visible {
		c.sendSelection(ctx, gen)
	}
	return true
}

func (c *Coordinator) start(ctx context.Context) error {
	active, err := c.dir.Active(ctx)
	if err != nil {
		c.record("start rejected", "err", err)
		return fmt.Errorf("start gesture: %w", err)
	}
	if c.filter.IsInternal(active.URL) {
		c.record("blind switch", "origin", active.ID, "url", active.URL)
		return c.blindSwitch(ctx)
	}

	c.mu.Lock()
	if c.sess.Active {
		// Another press started a gesture while the active tab was queried.
		c.mu.Unlock()
		c.advance(ctx)
		return nil
	}
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.sess = Session{
		Active:      true,
		OriginTabID: active.ID,
		TargetIndex: 1,
		StartedAt:   c.now(),
		Generation:  gen,
	}
	cache := c.resolver.NewCache()
	c.cache = cache
	delay := c.panel.ShowDelay
	bg := logx.ContextWithGesture(context.WithoutCancel(ctx), gen)
	c.timer = c.after(delay, func() { c.showDelayed(bg, gen) })
	c.mu.Unlock()

	cache.Prime(bg)
	c.record("gesture started", "origin", active.ID, "gesture", gen, "show_delay", delay)
	return nil
}

// blindSwitch activates the second entry of a fresh snapshot without any
// overlay. Internal pages cannot host the overlay.
func (c *Coordinator) blindSwitch(ctx context.Context) error {
	ordered, err := c.resolver.Resolve(ctx)
	if err != nil {
		c.record("blind switch failed", "err", err)
		return fmt.Errorf("blind switch: %w", err)
	}
	if len(ordered) < 2 {
		c.record("blind switch skipped", "tabs", len(ordered))
		return nil
	}
	return c.activate(ctx, ordered[1].ID)
}

func (c *Coordinator) showDelayed(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	if err := c.show(ctx, gen); err != nil {
		c.record("overlay unavailable", "err", err)
	}
}

// show sends show_panel for gesture gen, re-injecting the overlay once when
// the first attempt fails.
func (c *Coordinator) show(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	cache := c.cache
	c.mu.Unlock()
	if cache == nil {
		return nil
	}
	ordered, err := cache.Get(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	groups, err := c.dir.Groups(ctx)
	if err != nil {
		c.record("groups unavailable", "err", err)
	}

	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		return nil
	}
	panel := Panel{
		Tabs:         ordered,
		Groups:       groups,
		OriginTabID:  c.sess.OriginTabID,
		Shortcut:     c.shortcut(),
		LauncherMode: c.panel.LauncherMode,
		Debug:        c.sess.DebugMode,
	}
	sentIndex := c.sess.TargetIndex
	if idx := wrapIndex(sentIndex, len(ordered)); idx >= 0 {
		panel.SelectedTabID = ordered[idx].ID
	}
	c.mu.Unlock()

	err = c.port.ShowPanel(ctx, panel)
	if err != nil && c.injector != nil {
		c.record("show failed, injecting overlay", "err", err)
		if ierr := c.injector.Inject(ctx, panel.OriginTabID); ierr != nil {
			c.record("inject failed", "err", ierr)
		} else {
			err = c.port.ShowPanel(ctx, panel)
		}
	}
	if err != nil {
		return fmt.Errorf("show panel: %w", err)
	}

	c.mu.Lock()
	if !c.currentLocked(gen) {
		// The gesture ended while the overlay was coming up.
		c.mu.Unlock()
		c.hide(ctx)
		return nil
	}
	c.sess.OverlayVisible = true
	moved := c.sess.TargetIndex != sentIndex
	c.mu.Unlock()

	c.record("overlay shown", "tabs", len(ordered), "selected", panel.SelectedTabID)
	if moved {
		c.sendSelection(ctx, gen)
	}
	return nil
}

func (c *Coordinator) sendSelection(ctx context.Context, gen uint64) {
	c.mu.Lock()
	cache := c.cache
	c.mu.Unlock()
	if cache == nil {
		return
	}
	ordered, err := cache.Get(ctx)
	if err != nil {
		c.record("selection skipped", "err", err)
		return
	}
	c.mu.Lock()
	if !c.currentLocked(gen) || !c.sess.OverlayVisible || len(ordered) == 0 {
		c.mu.Unlock()
		return
	}
	selected := ordered[wrapIndex(c.sess.TargetIndex, len(ordered))].ID
	c.mu.Unlock()
	if err := c.port.UpdateSelection(ctx, selected); err != nil {
		c.record("update selection failed", "err", err)
	}
}

// Release confirms the gesture: the tab at the wrapped target index is
// activated. at is when the trigger modifier was released.
func (c *Coordinator) Release(ctx context.Context, at time.Time) error {
	if at.IsZero() {
		at = c.now()
	}
	c.mu.Lock()
	if !c.sess.Active {
		c.mu.Unlock()
		c.record("release ignored", "reason", "idle")
		return nil
	}
	if c.sess.DebugMode {
		c.mu.Unlock()
		c.record("release ignored", "reason", "debug")
		return nil
	}
	if held := at.Sub(c.sess.StartedAt); c.panel.LauncherMode && c.sess.OverlayVisible && held >= c.panel.QuickSwitchThreshold {
		c.mu.Unlock()
		c.record("release kept overlay open", "held", held)
		return nil
	}
	c.stopTimerLocked()
	gen := c.sess.Generation
	cache := c.cache
	c.mu.Unlock()

	ordered, err := cache.Get(ctx)

	c.mu.Lock()
	if !c.currentLocked(gen) {
		c.mu.Unlock()
		c.record("release superseded", "gesture", gen)
		return nil
	}
	visible := c.sess.OverlayVisible
	if err != nil || len(ordered) == 0 {
		c.resetLocked()
		c.mu.Unlock()
		c.record("release aborted", "err", err, "tabs", len(ordered))
		if visible {
			c.hide(ctx)
		}
		return nil
	}
	idx := wrapIndex(c.sess.TargetIndex, len(ordered))
	target := ordered[idx]
	c.resetLocked()
	c.mu.Unlock()

	c.record("release", "index", idx, "target", target.ID)
	if visible {
		c.hide(ctx)
	}
	return c.activate(ctx, target.ID)
}

// Cancel ends the gesture without activating anything.
func (c *Coordinator) Cancel(ctx context.Context) {
	c.mu.Lock()
	if !c.sess.Active {
		c.mu.Unlock()
		c.record("cancel ignored", "reason", "idle")
		return
	}
	visible := c.sess.OverlayVisible
	c.resetLocked()
	c.mu.Unlock()
	c.record("cancel")
	if visible {
		c.hide(ctx)
	}
}

// Pick activates a tab chosen in the overlay. The session is reset before the
// activation so the activation event finds the coordinator idle. A pick with
// no gesture in flight is stale (a second click, an old overlay) and ignored.
func (c *Coordinator) Pick(ctx context.Context, id tabs.ID) error {
	if id == "" {
		return ErrNoTarget
	}
	c.mu.Lock()
	if !c.sess.Active {
		c.mu.Unlock()
		c.record("pick ignored", "reason", "idle", "target", id)
		return nil
	}
	visible := c.sess.OverlayVisible
	c.resetLocked()
	c.mu.Unlock()
	c.record("pick", "target", id)
	if visible {
		c.hide(ctx)
	}
	return c.activate(ctx, id)
}

// Goto activates id outside the gesture protocol. A gesture in flight is
// cancelled first.
func (c *Coordinator) Goto(ctx context.Context, id tabs.ID) error {
	if id == "" {
		return ErrNoTarget
	}
	c.mu.Lock()
	visible := c.sess.Active && c.sess.OverlayVisible
	c.resetLocked()
	c.mu.Unlock()
	c.record("goto", "target", id)
	if visible {
		c.hide(ctx)
	}
	return c.activate(ctx, id)
}

// DebugOpen shows the overlay at once and keeps it open across releases.
func (c *Coordinator) DebugOpen(ctx context.Context) error {
	active, err := c.dir.Active(ctx)
	if err != nil {
		c.record("debug open rejected", "err", err)
		return fmt.Errorf("debug open: %w", err)
	}
	if c.filter.IsInternal(active.URL) {
		c.record("debug open rejected", "url", active.URL)
		return ErrInternalPage
	}

	c.mu.Lock()
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.sess = Session{
		Active:         true,
		OriginTabID:    active.ID,
		TargetIndex:    1,
		OverlayVisible: true,
		DebugMode:      true,
		StartedAt:      c.now(),
		Generation:     gen,
	}
	c.cache = c.resolver.NewCache()
	c.mu.Unlock()
	c.record("debug open", "origin", active.ID, "gesture", gen)

	if err := c.show(logx.ContextWithGesture(ctx, gen), gen); err != nil {
		c.mu.Lock()
		if c.currentLocked(gen) {
			c.resetLocked()
		}
		c.mu.Unlock()
		c.record("debug open failed", "err", err)
		return err
	}
	return nil
}

// activate switches to id, focusing its window first when it is not the
// current one.
func (c *Coordinator) activate(ctx context.Context, id tabs.ID) error {
	log := logx.WithTab(c.log, id)
	tab, err := c.dir.Get(ctx, id)
	if err != nil {
		c.record("activate failed", "target", id, "err", err)
		return fmt.Errorf("activate %s: %w", id, err)
	}
	if tab.WindowID != "" {
		current, err := c.dir.CurrentWindow(ctx)
		switch {
		case err != nil:
			log.Debug("current window unknown", "err", err)
		case current != tab.WindowID:
			if err := c.dir.FocusWindow(ctx, tab.WindowID); err != nil {
				c.record("focus window failed", "window", tab.WindowID, "err", err)
			}
		}
	}
	if err := c.dir.Activate(ctx, id); err != nil {
		c.record("activate failed", "target", id, "err", err)
		return err
	}
	c.record("activated", "target", id, "window", tab.WindowID)
	return nil
}

func (c *Coordinator) hide(ctx context.Context) {
	if err := c.port.HidePanel(ctx); err != nil {
		c.record("hide failed", "err", err)
	}
}

func (c *Coordinator) currentLocked(gen uint64) bool {
	return c.sess.Active && c.sess.Generation == gen
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// resetLocked returns the session to Idle. The log buffer is kept.
func (c *Coordinator) resetLocked() {
	c.stopTimerLocked()
	c.sess = Session{}
	c.cache = nil
}
