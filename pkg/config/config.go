// Package config loads the tabflip YAML configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/b/tabflip/pkg/tabs"
)

// Backends a daemon can drive.
const (
	BackendTmux   = "tmux"
	BackendChrome = "chrome"
	BackendMemory = "memory"
)

var ErrUnsupportedBackend = errors.New("unsupported backend")

type Config struct {
	Backend         string   `mapstructure:"backend" yaml:"backend"`
	History         History  `mapstructure:"history" yaml:"history"`
	InternalSchemes []string `mapstructure:"internal_schemes" yaml:"internal_schemes"`
	Trigger         Trigger  `mapstructure:"trigger" yaml:"trigger"`
	Panel           Panel    `mapstructure:"panel" yaml:"panel"`
	Session         Session  `mapstructure:"session" yaml:"session"`
	Chrome          Chrome   `mapstructure:"chrome" yaml:"chrome"`
	Overlay         Overlay  `mapstructure:"overlay" yaml:"overlay"`
	Groups          []Group  `mapstructure:"groups" yaml:"groups"`
}

type History struct {
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
}

// Trigger describes the key that drives the gesture. It is display-only;
// the binding itself lives in tmux or the browser.
type Trigger struct {
	Command  string `mapstructure:"command" yaml:"command"`
	Shortcut string `mapstructure:"shortcut" yaml:"shortcut"`
}

type Panel struct {
	ShowDelay            time.Duration `mapstructure:"show_delay" yaml:"show_delay"`
	QuickSwitchThreshold time.Duration `mapstructure:"quick_switch_threshold" yaml:"quick_switch_threshold"`
	LauncherMode         bool          `mapstructure:"launcher_mode" yaml:"launcher_mode"`
}

type Session struct {
	LogBuffer int `mapstructure:"log_buffer" yaml:"log_buffer"`
}

type Chrome struct {
	// URL is the DevTools endpoint, e.g. ws://127.0.0.1:9222/devtools/browser/<id>
	// or http://127.0.0.1:9222.
	URL string `mapstructure:"url" yaml:"url"`
}

type Overlay struct {
	// Command overrides the overlay binary; empty means tabflip-overlay next
	// to the daemon executable.
	Command string `mapstructure:"command" yaml:"command"`
	Popup   bool   `mapstructure:"popup" yaml:"popup"`   // tmux display-popup instead of a split
	Width   string `mapstructure:"width" yaml:"width"`   // popup width, e.g. "60%"
	Height  string `mapstructure:"height" yaml:"height"` // popup height
}

type Group struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Theme   Theme  `mapstructure:"theme" yaml:"theme"`
}

type Theme struct {
	Bg       string `mapstructure:"bg" yaml:"bg"`
	Fg       string `mapstructure:"fg" yaml:"fg"`
	ActiveBg string `mapstructure:"active_bg" yaml:"active_bg"`
	ActiveFg string `mapstructure:"active_fg" yaml:"active_fg"`
	Icon     string `mapstructure:"icon" yaml:"icon"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendTmux,
		History:         History{MaxEntries: 10},
		InternalSchemes: append([]string(nil), tabs.DefaultInternalSchemes...),
		Trigger:         Trigger{Command: "switch-recent-tabs", Shortcut: "Alt+Q"},
		Panel: Panel{
			ShowDelay:            200 * time.Millisecond,
			QuickSwitchThreshold: 300 * time.Millisecond,
		},
		Session: Session{LogBuffer: 100},
		Chrome:  Chrome{URL: "http://127.0.0.1:9222"},
		Overlay: Overlay{Popup: true, Width: "60%", Height: "50%"},
		Groups:  []Group{DefaultGroup("Default")},
	}
}

// DefaultGroup returns a catch-all group with default theme colors
func DefaultGroup(name string) Group {
	return Group{
		Name:    name,
		Pattern: ".*",
		Theme: Theme{
			Bg:       "#3498db",
			Fg:       "#ecf0f1",
			ActiveBg: "#2980b9",
			ActiveFg: "#ffffff",
		},
	}
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendTmux, BackendChrome, BackendMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedBackend, c.Backend)
	}
	if c.History.MaxEntries <= 0 {
		return fmt.Errorf("history.max_entries must be positive, got %d", c.History.MaxEntries)
	}
	if c.Panel.ShowDelay < 0 || c.Panel.QuickSwitchThreshold < 0 {
		return errors.New("panel delays must not be negative")
	}
	if c.Backend == BackendChrome && c.Chrome.URL == "" {
		return errors.New("chrome.url is required for the chrome backend")
	}
	return nil
}
