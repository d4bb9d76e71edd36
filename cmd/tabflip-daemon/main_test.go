package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/b/tabflip/pkg/config"
	"github.com/b/tabflip/pkg/daemon"
	"github.com/b/tabflip/pkg/tabs"
	"github.com/b/tabflip/pkg/tmux"
)

func TestMirrorFeedsMemoryBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := tabs.NewMemoryDirectory()
	events, err := mem.Events(ctx)
	if err != nil {
		t.Fatalf("events: %v", err)
	}

	steps := []tabs.Event{
		{Kind: tabs.EventActivated, TabID: "a", URL: "https://a"},
		{Kind: tabs.EventUpdated, TabID: "a", URL: "https://a/2"},
		{Kind: tabs.EventUpdated, TabID: "b"},
		{Kind: tabs.EventRemoved, TabID: "a"},
	}
	for _, ev := range steps {
		if err := mirror(ctx, mem, ev); err != nil {
			t.Fatalf("mirror %+v: %v", ev, err)
		}
	}

	want := []tabs.EventKind{tabs.EventActivated, tabs.EventUpdated, tabs.EventRemoved}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind || ev.TabID != "a" {
				t.Fatalf("event %d = %+v, want %s of a", i, ev, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	list, _ := mem.List(ctx)
	if len(list) != 1 || list[0].ID != "b" || list[0].WindowID != memoryWindow {
		t.Fatalf("memory tabs = %+v", list)
	}
}

func TestPumpReportedForwardsWithoutMemoryBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan tabs.Event, 1)
	out := make(chan tabs.Event, 1)
	go pumpReported(ctx, in, out, nil, nil)

	in <- tabs.Event{Kind: tabs.EventActivated, TabID: "@3"}
	select {
	case ev := <-out:
		if ev.TabID != "@3" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not forwarded")
	}
}

func TestOpenBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendMemory
	be, err := openBackend(context.Background(), cfg, nil)
	if err != nil || be.mem == nil {
		t.Fatalf("memory backend: %+v %v", be, err)
	}

	cfg.Backend = config.BackendTmux
	be, err = openBackend(context.Background(), cfg, nil)
	if err != nil || be.mem != nil {
		t.Fatalf("tmux backend: %+v %v", be, err)
	}

	cfg.Backend = "firefox"
	if _, err := openBackend(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func TestInjectorForTmux(t *testing.T) {
	t.Setenv("TMUX", "")
	cfg := config.DefaultConfig()
	server := daemon.NewServerAt(t.TempDir()+"/d.sock", t.TempDir()+"/d.pid", nil)

	inj, ok := newInjector(cfg, "work", server, nil).(*tmux.Popup)
	if !ok {
		t.Fatalf("tmux backend should inject a popup")
	}
	if inj.Split || !strings.Contains(inj.Command, "--session 'work' --popup") {
		t.Fatalf("popup = %+v", inj)
	}

	cfg.Overlay.Command = "my-overlay"
	cfg.Overlay.Popup = false
	inj = newInjector(cfg, "work", server, nil).(*tmux.Popup)
	if inj.Command != "my-overlay" || !inj.Split {
		t.Fatalf("popup = %+v", inj)
	}

	cfg.Backend = config.BackendChrome
	if newInjector(cfg, "work", server, nil) != nil {
		t.Fatalf("chrome outside tmux has no injector")
	}
}

func TestPanelOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Panel.LauncherMode = true
	got := panelOptions(cfg)
	if got.ShowDelay != 200*time.Millisecond || got.QuickSwitchThreshold != 300*time.Millisecond || !got.LauncherMode {
		t.Fatalf("panel options = %+v", got)
	}
}
