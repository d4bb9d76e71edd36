package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/b/tabflip/pkg/cdp"
	"github.com/b/tabflip/pkg/config"
	"github.com/b/tabflip/pkg/daemon"
	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
	"github.com/b/tabflip/pkg/tmux"
	"pkt.systems/pslog"
)

// memoryWindow owns every tab of the memory backend.
const memoryWindow tabs.WindowID = "memory"

type backend struct {
	name string
	dir  tabs.Directory
	// mem is set for the memory backend, which learns tabs from tab events.
	mem   *tabs.MemoryDirectory
	close func()
}

func openBackend(ctx context.Context, cfg config.Config, logger pslog.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendTmux:
		return &backend{name: cfg.Backend, dir: tmux.NewDirectory(nil), close: func() {}}, nil
	case config.BackendChrome:
		dir, err := cdp.Connect(ctx, cdp.Options{URL: cfg.Chrome.URL, Logger: logger})
		if err != nil {
			return nil, err
		}
		return &backend{name: cfg.Backend, dir: dir, close: dir.Close}, nil
	case config.BackendMemory:
		mem := tabs.NewMemoryDirectory()
		return &backend{name: cfg.Backend, dir: mem, mem: mem, close: func() {}}, nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnsupportedBackend, cfg.Backend)
}

// mirror applies a reported tab event to the memory directory. The directory
// republishes it, so the history store sees it exactly once.
func mirror(ctx context.Context, mem *tabs.MemoryDirectory, ev tabs.Event) error {
	if ev.Kind == tabs.EventRemoved {
		mem.Close(ev.TabID)
		return nil
	}
	if _, err := mem.Get(ctx, ev.TabID); errors.Is(err, tabs.ErrNotFound) {
		mem.Open(tabs.Tab{ID: ev.TabID, URL: ev.URL, Title: ev.URL, WindowID: memoryWindow})
	}
	switch ev.Kind {
	case tabs.EventActivated:
		return mem.Activate(ctx, ev.TabID)
	case tabs.EventUpdated:
		if ev.URL != "" {
			mem.Navigate(ev.TabID, ev.URL)
		}
	}
	return nil
}

// sibling returns the path of a tabflip binary installed next to this one,
// or the bare name when the executable cannot be located.
func sibling(name string) string {
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	path := filepath.Join(filepath.Dir(exe), name)
	if _, err := os.Stat(path); err != nil {
		return name
	}
	return path
}

func overlayCommand(cfg config.Config, sessionName string) string {
	if cmd := strings.TrimSpace(cfg.Overlay.Command); cmd != "" {
		return cmd
	}
	return fmt.Sprintf("'%s' --session '%s' --popup", sibling("tabflip-overlay"), sessionName)
}

// newInjector returns the overlay injector, or nil when the daemon cannot
// open tmux popups.
func newInjector(cfg config.Config, sessionName string, server *daemon.Server, logger pslog.Logger) session.Injector {
	if cfg.Backend != config.BackendTmux && os.Getenv("TMUX") == "" {
		return nil
	}
	return &tmux.Popup{
		Command:       overlayCommand(cfg, sessionName),
		Width:         cfg.Overlay.Width,
		Height:        cfg.Overlay.Height,
		Split:         !cfg.Overlay.Popup,
		WaitForClient: server.WaitForClient,
		Logger:        logger,
	}
}

func panelOptions(cfg config.Config) session.PanelOptions {
	return session.PanelOptions{
		ShowDelay:            cfg.Panel.ShowDelay,
		QuickSwitchThreshold: cfg.Panel.QuickSwitchThreshold,
		LauncherMode:         cfg.Panel.LauncherMode,
	}
}
