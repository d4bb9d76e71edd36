// Package paths resolves where tabflip keeps its config, state and sockets.
//
// Layout (XDG-style):
//
//	Config:  ~/.config/tabflip/config.yaml   (override: TABFLIP_CONFIG_DIR)
//	State:   ~/.local/state/tabflip/         (override: TABFLIP_STATE_DIR)
//	Runtime: $TMPDIR/tabflip-*               (override: TABFLIP_RUNTIME_DIR)
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const appName = "tabflip"

var (
	configDirOnce   sync.Once
	configDirCached string

	stateDirOnce   sync.Once
	stateDirCached string

	runtimeDirOnce   sync.Once
	runtimeDirCached string
)

// homeDirOr resolves env, then ~/<rel...>/tabflip, then ".".
func homeDirOr(env string, rel ...string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	parts := append([]string{home}, rel...)
	return filepath.Join(append(parts, appName)...)
}

// ConfigDir resolves the config directory.
// Priority: TABFLIP_CONFIG_DIR env > ~/.config/tabflip/
func ConfigDir() string {
	configDirOnce.Do(func() {
		configDirCached = homeDirOr("TABFLIP_CONFIG_DIR", ".config")
	})
	return configDirCached
}

// StateDir resolves the state directory.
// Priority: TABFLIP_STATE_DIR env > ~/.local/state/tabflip/
func StateDir() string {
	stateDirOnce.Do(func() {
		stateDirCached = homeDirOr("TABFLIP_STATE_DIR", ".local", "state")
	})
	return stateDirCached
}

// RuntimeDir resolves the directory for sockets and pidfiles.
// Priority: TABFLIP_RUNTIME_DIR env > os.TempDir()
func RuntimeDir() string {
	runtimeDirOnce.Do(func() {
		if env := os.Getenv("TABFLIP_RUNTIME_DIR"); env != "" {
			runtimeDirCached = env
		} else {
			runtimeDirCached = os.TempDir()
		}
	})
	return runtimeDirCached
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StatePath returns the full path to a state file (e.g. "tab_history.json").
func StatePath(filename string) string {
	return filepath.Join(StateDir(), filename)
}

// RuntimePath returns tabflip-<name> inside the runtime directory.
func RuntimePath(name string) string {
	return filepath.Join(RuntimeDir(), fmt.Sprintf("%s-%s", appName, name))
}

// EnsureConfigDir creates the config directory if it doesn't exist and returns its path.
func EnsureConfigDir() (string, error) {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return dir, nil
}

// EnsureStateDir creates the state directory if it doesn't exist and returns its path.
func EnsureStateDir() (string, error) {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return dir, nil
}

// ResetForTest clears cached values so tests can re-run resolution logic.
// Only use in tests.
func ResetForTest() {
	configDirOnce = sync.Once{}
	configDirCached = ""
	stateDirOnce = sync.Once{}
	stateDirCached = ""
	runtimeDirOnce = sync.Once{}
	runtimeDirCached = ""
}
