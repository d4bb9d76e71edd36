// Command tabflip drives the tabflip daemon: gesture signals from key
// bindings, tab events from tmux hooks and diagnostics.
package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/b/tabflip/pkg/daemon"
	"github.com/b/tabflip/pkg/paths"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)

	if err := newRootCmd(newApp(os.Stdout)).ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("tabflip failed")
		return 1
	}
	return 0
}

type requestFunc func(ctx context.Context, t daemon.MessageType, payload any) (daemon.ResultPayload, error)

type app struct {
	session    string
	configPath string
	timeout    time.Duration
	out        io.Writer
	isTTY      func() bool
	// request is replaced in tests.
	request requestFunc
}

func newApp(out io.Writer) *app {
	a := &app{
		session:    envOr("TABFLIP_SESSION", "default"),
		configPath: paths.ConfigPath(),
		timeout:    2 * time.Second,
		out:        out,
		isTTY: func() bool {
			f, ok := out.(*os.File)
			return ok && term.IsTerminal(int(f.Fd()))
		},
	}
	a.request = a.dialRequest
	return a
}

// dialRequest sends one request over a fresh connection.
func (a *app) dialRequest(ctx context.Context, t daemon.MessageType, payload any) (daemon.ResultPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	client, err := daemon.Dial(ctx, daemon.SocketPath(a.session))
	if err != nil {
		return daemon.ResultPayload{}, err
	}
	defer client.Close()
	return client.Request(ctx, t, payload)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tabflip",
		Short:         "Most-recently-used tab switcher",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(a.out)
	flags := root.PersistentFlags()
	flags.StringVar(&a.session, "session", a.session, "daemon instance name")
	flags.StringVar(&a.configPath, "config", a.configPath, "path to config.yaml")
	flags.DurationVar(&a.timeout, "timeout", a.timeout, "daemon request timeout")

	root.AddCommand(
		newCycleCmd(a),
		newReleaseCmd(a),
		newCancelCmd(a),
		newGotoCmd(a),
		newNotifyCmd(a),
		newLogsCmd(a),
		newHistoryCmd(a),
		newClearHistoryCmd(a),
		newStateCmd(a),
		newDebugOpenCmd(a),
		newConfigCmd(a),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
