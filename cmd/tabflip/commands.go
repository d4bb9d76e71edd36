package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/b/tabflip/pkg/config"
	"github.com/b/tabflip/pkg/daemon"
	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
)

func newCycleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Start a switch gesture or advance the running one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.request(cmd.Context(), daemon.MsgCycle, nil)
			return err
		},
	}
}

func newReleaseCmd(a *app) *cobra.Command {
	var at int64
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Report the trigger modifier release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if at <= 0 {
				at = time.Now().UnixMilli()
			}
			_, err := a.request(cmd.Context(), daemon.MsgAltReleased, daemon.ReleasePayload{At: at})
			return err
		},
	}
	cmd.Flags().Int64Var(&at, "at", 0, "release time in unix milliseconds (default now)")
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Abort the running gesture without switching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.request(cmd.Context(), daemon.MsgPanelClosedByUser, nil)
			return err
		},
	}
}

func newGotoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "goto <tab-id>",
		Aliases: []string{"pick"},
		Short:   "Switch to a tab directly, cancelling any running gesture",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.request(cmd.Context(), daemon.MsgGotoTab, daemon.SwitchPayload{TabID: tabs.ID(args[0])})
			return err
		},
	}
}

func newNotifyCmd(a *app) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:       "notify <activated|removed|updated> <tab-id>",
		Short:     "Report a tab event (used by tmux hooks)",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(tabs.EventActivated), string(tabs.EventRemoved), string(tabs.EventUpdated)},
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := tabs.Event{Kind: tabs.EventKind(args[0]), TabID: tabs.ID(args[1]), URL: url}
			_, err := a.request(cmd.Context(), daemon.MsgTabEvent, ev)
			// Hooks fire whether or not the daemon runs.
			if errors.Is(err, daemon.ErrDaemonNotRunning) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "tab URL when known")
	return cmd
}

func newLogsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print and clear the gesture log buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.request(cmd.Context(), daemon.MsgGetLogs, nil)
			if err != nil {
				return err
			}
			var entries []session.LogEntry
			if err := res.Decode(&entries); err != nil {
				return err
			}
			if asJSON || !a.isTTY() {
				return writeJSONLines(a, entries)
			}
			for _, e := range entries {
				fmt.Fprintln(a.out, formatEntry(e))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per line")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the MRU history, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.request(cmd.Context(), daemon.MsgGetHistory, nil)
			if err != nil {
				return err
			}
			var h daemon.HistoryPayload
			if err := res.Decode(&h); err != nil {
				return err
			}
			if !a.isTTY() {
				return writeJSONLines(a, []daemon.HistoryPayload{h})
			}
			fmt.Fprintf(a.out, "%d/%d entries\n", len(h.TabIDs), h.MaxEntries)
			for i, id := range h.TabIDs {
				fmt.Fprintf(a.out, "%3d  %s\n", i, id)
			}
			return nil
		},
	}
}

func newClearHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-history",
		Short: "Forget every tracked tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.request(cmd.Context(), daemon.MsgClearHistory, nil)
			return err
		},
	}
}

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the current gesture state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.request(cmd.Context(), daemon.MsgGetState, nil)
			if err != nil {
				return err
			}
			var st daemon.StatePayload
			if err := res.Decode(&st); err != nil {
				return err
			}
			if !a.isTTY() {
				return writeJSONLines(a, []daemon.StatePayload{st})
			}
			s := st.Session
			fmt.Fprintf(a.out, "active:   %v\n", s.Active)
			fmt.Fprintf(a.out, "origin:   %s\n", s.OriginTabID)
			fmt.Fprintf(a.out, "target:   %d\n", s.TargetIndex)
			fmt.Fprintf(a.out, "overlay:  %v\n", s.OverlayVisible)
			fmt.Fprintf(a.out, "debug:    %v\n", s.DebugMode)
			fmt.Fprintf(a.out, "snapshot: %s\n", s.Snapshot)
			fmt.Fprintf(a.out, "shortcut: %s\n", st.Shortcut)
			fmt.Fprintf(a.out, "clients:  %d\n", st.Clients)
			return nil
		},
	}
}

func newDebugOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "debug-open",
		Short: "Open the overlay without a gesture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.request(cmd.Context(), daemon.MsgDebugOpenPanel, nil)
			return err
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", a.configPath)
			}
			if err := config.Save(a.configPath, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(a.out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.out, a.configPath)
		},
	}

	cmd.AddCommand(initCmd, showCmd, pathCmd)
	return cmd
}

func writeJSONLines[T any](a *app, items []T) error {
	enc := json.NewEncoder(a.out)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func formatEntry(e session.LogEntry) string {
	var b strings.Builder
	b.WriteString(e.Time.Local().Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(e.Event)
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		switch v := e.Fields[k].(type) {
		case string:
			if strings.ContainsAny(v, " \t") {
				b.WriteString(strconv.Quote(v))
			} else {
				b.WriteString(v)
			}
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}
