package tmux

import (
	"context"
	"fmt"
)

// Hook maps a tmux hook to the tab event it reports.
type Hook struct {
	Name  string
	Event string // argument of "tabflip notify"
}

// Hooks are the global hooks that feed the history store.
var Hooks = []Hook{
	{Name: "session-window-changed", Event: "activated"},
	{Name: "client-session-changed", Event: "activated"},
	{Name: "window-unlinked", Event: "removed"},
	{Name: "window-renamed", Event: "updated"},
}

// hookIndex keeps tabflip's hooks apart from hooks the user set.
const hookIndex = 77

// InstallHooks registers tmux hooks that run "<cli> notify <event> <window>"
// in the background.
func InstallHooks(ctx context.Context, run Runner, cli string) error {
	if run == nil {
		run = ExecRunner
	}
	for _, h := range Hooks {
		cmd := fmt.Sprintf("run-shell -b \"'%s' notify %s '#{hook_window}'\"", cli, h.Event)
		if h.Event == "activated" {
			cmd = fmt.Sprintf("run-shell -b \"'%s' notify %s '#{window_id}'\"", cli, h.Event)
		}
		if _, err := run(ctx, "set-hook", "-g", fmt.Sprintf("%s[%d]", h.Name, hookIndex), cmd); err != nil {
			return fmt.Errorf("install %s hook: %w", h.Name, err)
		}
	}
	return nil
}

// RemoveHooks unregisters the hooks set by InstallHooks.
func RemoveHooks(ctx context.Context, run Runner) error {
	if run == nil {
		run = ExecRunner
	}
	var firstErr error
	for _, h := range Hooks {
		if _, err := run(ctx, "set-hook", "-gu", fmt.Sprintf("%s[%d]", h.Name, hookIndex)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s hook: %w", h.Name, err)
		}
	}
	return firstErr
}
