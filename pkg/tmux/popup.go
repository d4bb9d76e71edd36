package tmux

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/tabs"
	"pkt.systems/pslog"
)

// DefaultInjectTimeout bounds how long Inject waits for the overlay to
// connect back to the daemon.
const DefaultInjectTimeout = 2 * time.Second

// Popup starts the overlay in a tmux popup (or a split when Split is set)
// and waits for it to subscribe.
type Popup struct {
	Run     Runner
	Command string // overlay command line; --origin <tab> is appended
	Width   string
	Height  string
	Split   bool
	// WaitForClient blocks until an overlay is subscribed.
	WaitForClient func(ctx context.Context) error
	Timeout       time.Duration
	Logger        pslog.Logger
}

func (p *Popup) args(origin tabs.ID) []string {
	cmd := fmt.Sprintf("%s --origin '%s'", p.Command, strings.ReplaceAll(string(origin), "'", ""))
	if p.Split {
		return []string{"split-window", "-v", "-l", orDefault(p.Height, "30%"), cmd}
	}
	return []string{"display-popup", "-E", "-w", orDefault(p.Width, "60%"), "-h", orDefault(p.Height, "50%"), cmd}
}

// Inject implements session.Injector.
func (p *Popup) Inject(ctx context.Context, origin tabs.ID) error {
	run := p.Run
	if run == nil {
		run = ExecRunner
	}
	log := logx.WithTab(logx.Or(p.Logger), origin)
	args := p.args(origin)
	// display-popup returns only when the popup closes.
	go func() {
		if _, err := run(context.WithoutCancel(ctx), args...); err != nil {
			log.Debug("overlay exited", "err", err)
		}
	}()
	if p.WaitForClient == nil {
		return nil
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultInjectTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.WaitForClient(waitCtx); err != nil {
		return fmt.Errorf("overlay did not connect: %w", err)
	}
	log.Debug("overlay injected", "mode", args[0])
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
