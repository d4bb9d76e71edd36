// Command tabflip-daemon owns the tab history and the switch gesture. It
// serves the tabflip CLI and overlay clients over a unix socket.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

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

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("tabflip-daemon failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := runOptions{
		session:    envOr("TABFLIP_SESSION", "default"),
		configPath: paths.ConfigPath(),
	}
	cmd := &cobra.Command{
		Use:           "tabflip-daemon",
		Short:         "Run the tabflip MRU tab switcher daemon",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.session, "session", opts.session, "daemon instance name (socket suffix)")
	flags.StringVar(&opts.configPath, "config", opts.configPath, "path to config.yaml")
	flags.StringVar(&opts.backend, "backend", "", "override the configured backend (tmux, chrome, memory)")
	flags.BoolVar(&opts.noHooks, "no-hooks", false, "do not install tmux hooks")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
