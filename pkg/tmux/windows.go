// Package tmux exposes tmux windows as switchable tabs. A tab is a window
// ("@3"); its window in tabs terms is the tmux session ("$1").
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/b/tabflip/pkg/tabs"
)

// ansiEscapeRegex matches ANSI escape sequences
var ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\].*?(?:\x07|\x1b\\)`)

// stripANSI removes ANSI escape sequences from a string
func stripANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

// GroupOption is the window user option holding an explicit group name.
const GroupOption = "@tabflip_group"

const windowFormat = "#{window_id}\x1f#{window_index}\x1f#{window_name}\x1f#{window_active}\x1f#{session_id}\x1f#{session_name}\x1f#{session_attached}\x1f#{" + GroupOption + "}\x1f#{pane_current_path}"

// Runner runs one tmux command and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// ExecRunner runs the tmux binary.
func ExecRunner(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return out, nil
}

// Directory implements tabs.Directory over every window of the tmux server.
type Directory struct {
	run Runner
}

// NewDirectory returns a directory using run, or the tmux binary when nil.
func NewDirectory(run Runner) *Directory {
	if run == nil {
		run = ExecRunner
	}
	return &Directory{run: run}
}

// URL returns the pseudo URL of a window.
func URL(sessionName string, index int) string {
	return fmt.Sprintf("tmux://%s/%d", sessionName, index)
}

func parseWindows(out []byte) []tabs.Tab {
	var list []tabs.Tab
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\x1f")
		if len(parts) < 9 {
			continue
		}
		index, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		title := stripANSI(parts[2])
		if path := parts[8]; path != "" {
			title = fmt.Sprintf("%s (%s)", title, path)
		}
		list = append(list, tabs.Tab{
			ID:       tabs.ID(parts[0]),
			Index:    index,
			Title:    title,
			URL:      URL(parts[5], index),
			WindowID: tabs.WindowID(parts[4]),
			GroupID:  strings.TrimSpace(parts[7]),
			// A window is active when it is the current window of an attached
			// session.
			Active: parts[3] == "1" && parts[6] != "0",
		})
	}
	return list
}

// List implements tabs.Directory.
func (d *Directory) List(ctx context.Context) ([]tabs.Tab, error) {
	out, err := d.run(ctx, "list-windows", "-a", "-F", windowFormat)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return parseWindows(out), nil
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
	return tabs.Tab{}, fmt.Errorf("window %s: %w", id, tabs.ErrNotFound)
}

// Active implements tabs.Directory: the current window of the current
// client's session.
func (d *Directory) Active(ctx context.Context) (tabs.Tab, error) {
	out, err := d.run(ctx, "display-message", "-p", windowFormat)
	if err != nil {
		return tabs.Tab{}, fmt.Errorf("%w: %v", tabs.ErrNoActiveTab, err)
	}
	list := parseWindows(out)
	if len(list) == 0 {
		return tabs.Tab{}, tabs.ErrNoActiveTab
	}
	t := list[0]
	t.Active = true
	return t, nil
}

// CurrentWindow implements tabs.Directory.
func (d *Directory) CurrentWindow(ctx context.Context) (tabs.WindowID, error) {
	out, err := d.run(ctx, "display-message", "-p", "#{session_id}")
	if err != nil {
		return "", fmt.Errorf("current session: %w", err)
	}
	return tabs.WindowID(strings.TrimSpace(string(out))), nil
}

// Activate implements tabs.Directory.
func (d *Directory) Activate(ctx context.Context, id tabs.ID) error {
	if _, err := d.run(ctx, "select-window", "-t", string(id)); err != nil {
		if strings.Contains(err.Error(), "can't find window") {
			return fmt.Errorf("select window %s: %w", id, tabs.ErrNotFound)
		}
		return fmt.Errorf("select window %s: %w", id, err)
	}
	return nil
}

// FocusWindow implements tabs.Directory by switching the client to the
// session.
func (d *Directory) FocusWindow(ctx context.Context, id tabs.WindowID) error {
	if _, err := d.run(ctx, "switch-client", "-t", string(id)); err != nil {
		return fmt.Errorf("switch client to %s: %w", id, err)
	}
	return nil
}

// Groups implements tabs.Directory. tmux has no native groups; see the
// grouping package for configured ones.
func (d *Directory) Groups(context.Context) ([]tabs.Group, error) {
	return nil, nil
}

var _ tabs.Directory = (*Directory)(nil)
