// Command tabflip-overlay renders the switcher panel in a terminal. The
// daemon starts it in a tmux popup on demand; it can also run in a spare pane
// and stay subscribed.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/b/tabflip/pkg/daemon"
	"github.com/b/tabflip/pkg/overlay"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	// Console output would tear the panel; only errors are logged by default.
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.ErrorLevel}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("tabflip-overlay failed")
		return 1
	}
	return 0
}

type options struct {
	session string
	origin  string
	popup   bool
	mac     bool
}

func newRootCmd() *cobra.Command {
	opts := options{
		session: envOr("TABFLIP_SESSION", "default"),
		mac:     runtime.GOOS == "darwin",
	}
	cmd := &cobra.Command{
		Use:           "tabflip-overlay",
		Short:         "Show the tabflip switcher panel",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.session, "session", opts.session, "daemon instance name")
	flags.StringVar(&opts.origin, "origin", "", "tab the gesture started from")
	flags.BoolVar(&opts.popup, "popup", false, "exit when the panel hides")
	flags.BoolVar(&opts.mac, "mac", opts.mac, "use macOS modifier names")
	return cmd
}

func run(ctx context.Context, opts options) error {
	log := pslog.Ctx(ctx)

	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	client, err := daemon.Dial(dialCtx, daemon.SocketPath(opts.session))
	if err != nil {
		return err
	}
	defer client.Close()

	width, height := 80, 24
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		width, height = w, h
	}
	if err := client.Subscribe(dialCtx, daemon.SubscribePayload{
		Origin:       opts.origin,
		Width:        width,
		Height:       height,
		ColorProfile: colorProfileName(termenv.ColorProfile()),
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info("overlay subscribed", "client", client.ID(), "origin", opts.origin)

	lipgloss.SetColorProfile(termenv.ColorProfile())
	model := overlay.New(client, opts.mac, opts.popup)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	go overlay.Pump(client, p.Send)

	final, err := p.Run()
	_ = client.Send(daemon.MsgUnsubscribe, nil)
	if err != nil && ctx.Err() == nil {
		return err
	}
	if m, ok := final.(overlay.Model); ok && m.Err() != nil {
		log.Debug("overlay ended", "err", m.Err())
	}
	return nil
}

func colorProfileName(p termenv.Profile) string {
	switch p {
	case termenv.TrueColor:
		return "TrueColor"
	case termenv.ANSI256:
		return "ANSI256"
	case termenv.ANSI:
		return "ANSI"
	default:
		return "Ascii"
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
