// Package grouping assigns tabs to the groups configured in config.yaml and
// decorates a tabs.Directory with them.
package grouping

import (
	"context"
	"regexp"
	"sync"

	"github.com/b/tabflip/pkg/colors"
	"github.com/b/tabflip/pkg/config"
	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/tabs"
	"pkt.systems/pslog"
)

// DefaultGroupName receives tabs that match no other pattern.
const DefaultGroupName = "Default"

type matcher struct {
	group config.Group
	re    *regexp.Regexp
}

// Grouper matches tabs against configured group patterns. Patterns are
// tried in config order against the title, then the URL.
type Grouper struct {
	matchers []matcher
	byName   map[string]config.Group
}

// New compiles groups. Groups with an invalid pattern only match tabs that
// name them explicitly.
func New(groups []config.Group, logger pslog.Logger) *Grouper {
	log := logx.Or(logger)
	g := &Grouper{byName: make(map[string]config.Group, len(groups))}
	for _, group := range groups {
		g.byName[group.Name] = group
		if group.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(group.Pattern)
		if err != nil {
			log.Warn("group pattern ignored", "group", group.Name, "pattern", group.Pattern, "err", err)
			continue
		}
		g.matchers = append(g.matchers, matcher{group: group, re: re})
	}
	return g
}

// GroupFor returns the configured group name for t, or "" when t belongs to
// no configured group. An explicit GroupID naming a configured group wins;
// an unknown one falls back to pattern matching.
func (g *Grouper) GroupFor(t tabs.Tab) string {
	if t.GroupID != "" {
		if _, ok := g.byName[t.GroupID]; ok {
			return t.GroupID
		}
	}
	for _, m := range g.matchers {
		if m.re.MatchString(t.Title) || m.re.MatchString(t.URL) {
			return m.group.Name
		}
	}
	if _, ok := g.byName[DefaultGroupName]; ok {
		return DefaultGroupName
	}
	return ""
}

// Assign sets GroupID on tabs without a native group.
func (g *Grouper) Assign(list []tabs.Tab, native map[string]bool) []tabs.Tab {
	out := make([]tabs.Tab, len(list))
	for i, t := range list {
		if t.GroupID == "" || !native[t.GroupID] {
			t.GroupID = g.GroupFor(t)
		}
		out[i] = t
	}
	return out
}

// Groups returns the configured groups as tab groups, in config order.
func (g *Grouper) Groups(order []config.Group) []tabs.Group {
	out := make([]tabs.Group, 0, len(order))
	for i, group := range order {
		color := group.Theme.Bg
		if color == "" {
			color = colors.GroupColor(i)
		}
		out = append(out, tabs.Group{
			ID:              group.Name,
			Title:           group.Name,
			Color:           color,
			TextColor:       group.Theme.Fg,
			ActiveColor:     group.Theme.ActiveBg,
			ActiveTextColor: group.Theme.ActiveFg,
			Icon:            group.Theme.Icon,
		})
	}
	return out
}

// Directory decorates a tabs.Directory with configured groups. Native groups
// reported by the inner directory (Chrome tab groups) are kept.
type Directory struct {
	tabs.Directory
	log pslog.Logger

	mu      sync.RWMutex
	grouper *Grouper
	groups  []config.Group
}

// NewDirectory wraps inner.
func NewDirectory(inner tabs.Directory, groups []config.Group, logger pslog.Logger) *Directory {
	d := &Directory{Directory: inner, log: logx.Or(logger).With("component", "grouping")}
	d.SetGroups(groups)
	return d
}

// SetGroups replaces the configured groups, e.g. after a config reload.
func (d *Directory) SetGroups(groups []config.Group) {
	grouper := New(groups, d.log)
	d.mu.Lock()
	d.grouper = grouper
	d.groups = append([]config.Group(nil), groups...)
	d.mu.Unlock()
}

func (d *Directory) current() (*Grouper, []config.Group) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.grouper, d.groups
}

func (d *Directory) native(ctx context.Context) map[string]bool {
	groups, err := d.Directory.Groups(ctx)
	if err != nil {
		d.log.Debug("native groups unavailable", "err", err)
	}
	out := make(map[string]bool, len(groups))
	for _, g := range groups {
		out[g.ID] = true
	}
	return out
}

// List implements tabs.Directory.
func (d *Directory) List(ctx context.Context) ([]tabs.Tab, error) {
	list, err := d.Directory.List(ctx)
	if err != nil {
		return nil, err
	}
	grouper, _ := d.current()
	return grouper.Assign(list, d.native(ctx)), nil
}

// Get implements tabs.Directory.
func (d *Directory) Get(ctx context.Context, id tabs.ID) (tabs.Tab, error) {
	t, err := d.Directory.Get(ctx, id)
	if err != nil {
		return t, err
	}
	grouper, _ := d.current()
	return grouper.Assign([]tabs.Tab{t}, d.native(ctx))[0], nil
}

// Groups implements tabs.Directory: native groups first, then configured
// ones.
func (d *Directory) Groups(ctx context.Context) ([]tabs.Group, error) {
	native, err := d.Directory.Groups(ctx)
	if err != nil {
		d.log.Debug("native groups unavailable", "err", err)
	}
	grouper, groups := d.current()
	return append(native, grouper.Groups(groups)...), nil
}
