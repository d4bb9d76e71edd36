// Package cdp implements tabs.Directory for a Chromium browser reachable over
// the DevTools protocol (chrome --remote-debugging-port).
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/tabs"
	"github.com/chromedp/cdproto/browser"
	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"pkt.systems/pslog"
)

// DefaultPollInterval is how often the focused page is sampled. DevTools has
// no focus event, so activations made outside the switcher are detected by
// polling.
const DefaultPollInterval = 500 * time.Millisecond

// pageType is the target type of a regular tab.
const pageType = "page"

// Directory is a DevTools-backed tab directory.
type Directory struct {
	ctx    context.Context // chromedp context bound to the browser
	cancel context.CancelFunc
	exec   cdproto.Executor
	log    pslog.Logger

	mu         sync.Mutex
	subs       map[chan tabs.Event]struct{}
	lastActive tabs.ID
}

// Options configures Connect.
type Options struct {
	// URL is the DevTools endpoint, e.g. http://127.0.0.1:9222.
	URL          string
	PollInterval time.Duration
	Logger       pslog.Logger
}

// Connect attaches to a running browser without opening a tab. Close releases
// the connection.
func Connect(ctx context.Context, opts Options) (*Directory, error) {
	if opts.URL == "" {
		return nil, errors.New("cdp: devtools url is required")
	}
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, opts.URL)
	bctx, cancelCtx := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelCtx()
		cancelAlloc()
	}
	// Targets allocates the browser connection without creating a target.
	if _, err := chromedp.Targets(bctx); err != nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", opts.URL, err)
	}
	c := chromedp.FromContext(bctx)
	if c == nil || c.Browser == nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", opts.URL, tabs.ErrDirectoryGone)
	}
	d := &Directory{
		ctx:    bctx,
		cancel: cancel,
		exec:   c.Browser,
		log:    logx.Or(opts.Logger).With("backend", "chrome"),
		subs:   make(map[chan tabs.Event]struct{}),
	}
	if err := target.SetDiscoverTargets(true).Do(d.with(ctx)); err != nil {
		cancel()
		return nil, fmt.Errorf("discover targets: %w", err)
	}
	chromedp.ListenBrowser(bctx, d.onEvent)

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	go d.poll(interval)
	d.log.Info("devtools connected", "url", opts.URL)
	return d, nil
}

// Close disconnects from the browser.
func (d *Directory) Close() {
	d.cancel()
}

// with binds the browser executor to ctx.
func (d *Directory) with(ctx context.Context) context.Context {
	return cdproto.WithExecutor(ctx, d.exec)
}

func (d *Directory) pages(ctx context.Context) ([]*target.Info, error) {
	if err := d.ctx.Err(); err != nil {
		return nil, tabs.ErrDirectoryGone
	}
	infos, err := target.GetTargets().Do(d.with(ctx))
	if err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	return pageInfos(infos), nil
}

func (d *Directory) windowOf(ctx context.Context, id target.ID) tabs.WindowID {
	win, _, err := browser.GetWindowForTarget().WithTargetID(id).Do(d.with(ctx))
	if err != nil {
		d.log.Debug("window lookup failed", "tab", id, "err", err)
		return ""
	}
	return windowID(win)
}

// List implements tabs.Directory. Tabs are returned in the browser's target
// order, which lists the most recently focused page first.
func (d *Directory) List(ctx context.Context) ([]tabs.Tab, error) {
	infos, err := d.pages(ctx)
	if err != nil {
		return nil, err
	}
	windows := make(map[target.ID]tabs.WindowID, len(infos))
	for _, info := range infos {
		windows[info.TargetID] = d.windowOf(ctx, info.TargetID)
	}
	return toTabs(infos, windows), nil
}

// Get implements tabs.Directory.
func (d *Directory) Get(ctx context.Context, id tabs.ID) (tabs.Tab, error) {
	list, err := d.List(ctx)
	if err != nil {
		return tabs.Tab{}, err
	}
	for _, t := range list {
		if t.ID == id {
			return t, nil
		}
	}
	return tabs.Tab{}, fmt.Errorf("tab %s: %w", id, tabs.ErrNotFound)
}

// Active implements tabs.Directory with the most recently focused page.
func (d *Directory) Active(ctx context.Context) (tabs.Tab, error) {
	infos, err := d.pages(ctx)
	if err != nil {
		return tabs.Tab{}, fmt.Errorf("%w: %v", tabs.ErrNoActiveTab, err)
	}
	if len(infos) == 0 {
		return tabs.Tab{}, tabs.ErrNoActiveTab
	}
	first := infos[0]
	windows := map[target.ID]tabs.WindowID{first.TargetID: d.windowOf(ctx, first.TargetID)}
	return toTabs(infos[:1], windows)[0], nil
}

// CurrentWindow implements tabs.Directory.
func (d *Directory) CurrentWindow(ctx context.Context) (tabs.WindowID, error) {
	active, err := d.Active(ctx)
	if err != nil {
		return "", err
	}
	return active.WindowID, nil
}

// Activate implements tabs.Directory.
func (d *Directory) Activate(ctx context.Context, id tabs.ID) error {
	if err := target.ActivateTarget(target.ID(id)).Do(d.with(ctx)); err != nil {
		if strings.Contains(err.Error(), "No target with given id") {
			return fmt.Errorf("activate %s: %w", id, tabs.ErrNotFound)
		}
		return fmt.Errorf("activate %s: %w", id, err)
	}
	d.noteActive(id, "")
	return nil
}

// FocusWindow implements tabs.Directory by restoring a minimized window.
// ActivateTarget raises the window itself.
func (d *Directory) FocusWindow(ctx context.Context, id tabs.WindowID) error {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return fmt.Errorf("window %q: %w", id, tabs.ErrNotFound)
	}
	win := browser.WindowID(n)
	bounds, err := browser.GetWindowBounds(win).Do(d.with(ctx))
	if err != nil {
		return fmt.Errorf("window %s bounds: %w", id, err)
	}
	if bounds.WindowState != browser.WindowStateMinimized {
		return nil
	}
	return browser.SetWindowBounds(win, &browser.Bounds{WindowState: browser.WindowStateNormal}).Do(d.with(ctx))
}

// Groups implements tabs.Directory. DevTools does not expose tab groups;
// configured groups are added by the grouping decorator.
func (d *Directory) Groups(context.Context) ([]tabs.Group, error) {
	return nil, nil
}

// Events implements tabs.EventSource.
func (d *Directory) Events(ctx context.Context) (<-chan tabs.Event, error) {
	ch := make(chan tabs.Event, 64)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
		case <-d.ctx.Done():
		}
		d.mu.Lock()
		delete(d.subs, ch)
		d.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (d *Directory) publish(ev tabs.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.log.Warn("tab event dropped", "kind", ev.Kind, "tab", ev.TabID)
		}
	}
}

// onEvent runs on the chromedp event loop and must not block.
func (d *Directory) onEvent(ev any) {
	if out, ok := translate(ev); ok {
		d.publish(out)
	}
}

func (d *Directory) noteActive(id tabs.ID, url string) {
	d.mu.Lock()
	changed := d.lastActive != id
	d.lastActive = id
	d.mu.Unlock()
	if changed {
		d.publish(tabs.Event{Kind: tabs.EventActivated, TabID: id, URL: url})
	}
}

func (d *Directory) poll(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(d.ctx, interval)
		infos, err := d.pages(ctx)
		cancel()
		if err != nil {
			d.log.Debug("focus poll failed", "err", err)
			continue
		}
		if len(infos) > 0 {
			d.noteActive(tabs.ID(infos[0].TargetID), infos[0].URL)
		}
	}
}

// translate maps DevTools target events onto tab events.
func translate(ev any) (tabs.Event, bool) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo == nil || e.TargetInfo.Type != pageType {
			return tabs.Event{}, false
		}
		return tabs.Event{Kind: tabs.EventUpdated, TabID: tabs.ID(e.TargetInfo.TargetID), URL: e.TargetInfo.URL}, true
	case *target.EventTargetInfoChanged:
		if e.TargetInfo == nil || e.TargetInfo.Type != pageType {
			return tabs.Event{}, false
		}
		return tabs.Event{Kind: tabs.EventUpdated, TabID: tabs.ID(e.TargetInfo.TargetID), URL: e.TargetInfo.URL}, true
	case *target.EventTargetDestroyed:
		return tabs.Event{Kind: tabs.EventRemoved, TabID: tabs.ID(e.TargetID)}, true
	}
	return tabs.Event{}, false
}

func pageInfos(infos []*target.Info) []*target.Info {
	out := make([]*target.Info, 0, len(infos))
	for _, info := range infos {
		if info != nil && info.Type == pageType {
			out = append(out, info)
		}
	}
	return out
}

// toTabs converts page targets. The first page is the focused one.
func toTabs(infos []*target.Info, windows map[target.ID]tabs.WindowID) []tabs.Tab {
	out := make([]tabs.Tab, 0, len(infos))
	for i, info := range infos {
		out = append(out, tabs.Tab{
			ID:       tabs.ID(info.TargetID),
			Index:    i,
			URL:      info.URL,
			Title:    info.Title,
			WindowID: windows[info.TargetID],
			Active:   i == 0,
		})
	}
	return out
}

func windowID(id browser.WindowID) tabs.WindowID {
	return tabs.WindowID(strconv.FormatInt(int64(id), 10))
}
