package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/paths"
	"pkt.systems/pslog"
)

// Load reads configuration from path. If path is empty, uses
// paths.ConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = paths.ConfigPath()
	}
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("history.max_entries", cfg.History.MaxEntries)
	v.SetDefault("internal_schemes", cfg.InternalSchemes)
	v.SetDefault("trigger.command", cfg.Trigger.Command)
	v.SetDefault("trigger.shortcut", cfg.Trigger.Shortcut)
	v.SetDefault("panel.show_delay", cfg.Panel.ShowDelay)
	v.SetDefault("panel.quick_switch_threshold", cfg.Panel.QuickSwitchThreshold)
	v.SetDefault("panel.launcher_mode", cfg.Panel.LauncherMode)
	v.SetDefault("session.log_buffer", cfg.Session.LogBuffer)
	v.SetDefault("chrome.url", cfg.Chrome.URL)
	v.SetDefault("overlay.command", cfg.Overlay.Command)
	v.SetDefault("overlay.popup", cfg.Overlay.Popup)
	v.SetDefault("overlay.width", cfg.Overlay.Width)
	v.SetDefault("overlay.height", cfg.Overlay.Height)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	// Slices decode element-wise into existing ones; start them empty so a
	// shorter list from the file does not keep default entries.
	cfg.Groups = nil
	cfg.InternalSchemes = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if len(cfg.Groups) == 0 {
		cfg.Groups = []Group{DefaultGroup("Default")}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating its directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// WatchDebounce is how long Watch waits after the last change before
// reloading. Editors often write a file in several steps.
const WatchDebounce = 150 * time.Millisecond

// Watch reloads the config whenever its file changes and passes every
// successfully loaded version to onChange. The directory is watched so
// editors that replace the file by rename are seen. Bursts of events within
// WatchDebounce cause one reload. Watch returns when ctx is done.
func Watch(ctx context.Context, path string, logger pslog.Logger, onChange func(Config)) error {
	if path == "" {
		path = paths.ConfigPath()
	}
	watcher, err := openWatcher(path)
	if err != nil {
		return err
	}
	defer watcher.Close()
	return watchLoop(ctx, watcher, path, logx.Or(logger).With("component", "config"), WatchDebounce, onChange)
}

func openWatcher(path string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return watcher, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, log pslog.Logger, debounce time.Duration, onChange func(Config)) error {
	name := filepath.Clean(path)
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload failed", "err", err)
				continue
			}
			log.Info("config reloaded", "path", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "err", err)
		}
	}
}
