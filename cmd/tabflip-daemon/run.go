package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/b/tabflip/pkg/config"
	"github.com/b/tabflip/pkg/daemon"
	"github.com/b/tabflip/pkg/grouping"
	"github.com/b/tabflip/pkg/history"
	"github.com/b/tabflip/pkg/paths"
	"github.com/b/tabflip/pkg/resolver"
	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/storage"
	"github.com/b/tabflip/pkg/tabs"
	"github.com/b/tabflip/pkg/tmux"
	"pkt.systems/pslog"
)

const shutdownTimeout = 2 * time.Second

type runOptions struct {
	session    string
	configPath string
	backend    string
	noHooks    bool
}

func run(ctx context.Context, opts runOptions) error {
	log := pslog.Ctx(ctx)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer be.close()
	dir := grouping.NewDirectory(be.dir, cfg.Groups, log)
	filter := tabs.NewSchemeFilter(cfg.InternalSchemes)

	stateDir, err := paths.EnsureStateDir()
	if err != nil {
		return err
	}
	st, err := storage.NewFile(stateDir, log)
	if err != nil {
		return err
	}
	hist := history.New(st, history.Options{
		MaxEntries: cfg.History.MaxEntries,
		Filter:     filter,
		Logger:     log,
	})
	defer hist.Close()
	if err := hist.Load(ctx); err != nil {
		log.Warn("starting with empty history", "err", err)
	}
	if err := hist.InitializeFromCurrentWindow(ctx, dir); err != nil {
		log.Warn("history not seeded", "err", err)
	}

	var trigger atomic.Pointer[string]
	trigger.Store(&cfg.Trigger.Shortcut)

	server := daemon.NewServer(opts.session, log)
	coord := session.NewCoordinator(session.Options{
		Directory:     dir,
		Resolver:      resolver.New(dir, hist, log),
		Port:          server,
		Injector:      newInjector(cfg, opts.session, server, log),
		Filter:        filter,
		Panel:         panelOptions(cfg),
		Shortcut:      func() string { return *trigger.Load() },
		LogBufferSize: cfg.Session.LogBuffer,
		Logger:        log,
	})

	events := make(chan tabs.Event, 256)
	reported := make(chan tabs.Event, 256)
	dispatcher := daemon.NewDispatcher(coord, hist, reported, server.ClientCount, log)
	server.OnRequest = dispatcher.Handle
	server.OnSubscribe = func(clientID string, info daemon.SubscribePayload) {
		log.Info("overlay subscribed", "client", clientID, "origin", info.Origin, "color_profile", info.ColorProfile)
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Stop()

	if src, ok := be.dir.(tabs.EventSource); ok {
		ch, err := src.Events(ctx)
		if err != nil {
			return fmt.Errorf("subscribe to %s events: %w", be.name, err)
		}
		go forward(ctx, ch, events)
	}
	go pumpReported(ctx, reported, events, be.mem, log)
	go hist.Follow(ctx, events, dir)

	if cfg.Backend == config.BackendTmux && !opts.noHooks {
		cli := sibling("tabflip")
		if err := tmux.InstallHooks(ctx, nil, cli); err != nil {
			log.Warn("tmux hooks not installed", "err", err)
		} else {
			defer func() {
				cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := tmux.RemoveHooks(cleanup, nil); err != nil {
					log.Warn("tmux hooks not removed", "err", err)
				}
			}()
		}
	}

	go func() {
		err := config.Watch(ctx, opts.configPath, log, func(next config.Config) {
			coord.SetPanelOptions(panelOptions(next))
			dir.SetGroups(next.Groups)
			shortcut := next.Trigger.Shortcut
			trigger.Store(&shortcut)
			if next.Backend != cfg.Backend {
				log.Warn("backend change takes effect after restart", "backend", next.Backend)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watch stopped", "err", err)
		}
	}()

	log.Info("daemon ready", "session", opts.session, "backend", cfg.Backend, "socket", server.SocketPath())
	<-ctx.Done()
	log.Info("daemon stopping")

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := hist.Flush(flushCtx); err != nil {
		log.Warn("history flush failed", "err", err)
	}
	return nil
}

// forward copies directory events into the history feed.
func forward(ctx context.Context, in <-chan tabs.Event, out chan<- tabs.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// pumpReported handles tab events reported over the socket (tmux hooks,
// "tabflip notify"). The memory backend absorbs them into its directory;
// other backends pass them straight to the history feed.
func pumpReported(ctx context.Context, in <-chan tabs.Event, out chan<- tabs.Event, mem *tabs.MemoryDirectory, log pslog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in:
			if mem != nil {
				if err := mirror(ctx, mem, ev); err != nil {
					log.Debug("memory backend event failed", "kind", ev.Kind, "tab", ev.TabID, "err", err)
				}
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
