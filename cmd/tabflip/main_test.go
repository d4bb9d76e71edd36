package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/b/tabflip/pkg/daemon"
	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
)

type call struct {
	t       daemon.MessageType
	payload any
}

type fakeDaemon struct {
	calls   []call
	results map[daemon.MessageType]any
	err     error
}

func (f *fakeDaemon) request(_ context.Context, t daemon.MessageType, payload any) (daemon.ResultPayload, error) {
	f.calls = append(f.calls, call{t: t, payload: payload})
	if f.err != nil {
		return daemon.ResultPayload{}, f.err
	}
	res := daemon.ResultPayload{OK: true}
	if v, ok := f.results[t]; ok {
		data, err := json.Marshal(v)
		if err != nil {
			return res, err
		}
		res.Payload = data
	}
	return res, nil
}

func execute(t *testing.T, f *fakeDaemon, tty bool, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newApp(&out)
	a.request = f.request
	a.isTTY = func() bool { return tty }
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGestureCommands(t *testing.T) {
	f := &fakeDaemon{}
	for _, args := range [][]string{{"cycle"}, {"release", "--at", "1700000000000"}, {"cancel"}, {"goto", "@4"}, {"debug-open"}, {"clear-history"}} {
		if _, err := execute(t, f, false, args...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	want := []daemon.MessageType{
		daemon.MsgCycle,
		daemon.MsgAltReleased,
		daemon.MsgPanelClosedByUser,
		daemon.MsgGotoTab,
		daemon.MsgDebugOpenPanel,
		daemon.MsgClearHistory,
	}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %+v", f.calls)
	}
	for i, w := range want {
		if f.calls[i].t != w {
			t.Fatalf("call %d = %s, want %s", i, f.calls[i].t, w)
		}
	}
	if rel := f.calls[1].payload.(daemon.ReleasePayload); rel.At != 1700000000000 {
		t.Fatalf("release payload = %+v", rel)
	}
	if pick := f.calls[3].payload.(daemon.SwitchPayload); pick.TabID != "@4" {
		t.Fatalf("pick payload = %+v", pick)
	}
}

func TestReleaseDefaultsToNow(t *testing.T) {
	f := &fakeDaemon{}
	before := time.Now().UnixMilli()
	if _, err := execute(t, f, false, "release"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if at := f.calls[0].payload.(daemon.ReleasePayload).At; at < before {
		t.Fatalf("release at %d before %d", at, before)
	}
}

func TestNotifyIgnoresMissingDaemon(t *testing.T) {
	f := &fakeDaemon{err: fmt.Errorf("%w: dial", daemon.ErrDaemonNotRunning)}
	if _, err := execute(t, f, false, "notify", "activated", "@2", "--url", "tmux://work/1"); err != nil {
		t.Fatalf("notify should be silent without a daemon: %v", err)
	}
	ev := f.calls[0].payload.(tabs.Event)
	if ev.Kind != tabs.EventActivated || ev.TabID != "@2" || ev.URL != "tmux://work/1" {
		t.Fatalf("event = %+v", ev)
	}

	f.err = fmt.Errorf("tab_event: bad kind")
	if _, err := execute(t, f, false, "notify", "moved", "@2"); err == nil {
		t.Fatalf("daemon errors must surface")
	}
}

func TestHistoryOutput(t *testing.T) {
	f := &fakeDaemon{results: map[daemon.MessageType]any{
		daemon.MsgGetHistory: daemon.HistoryPayload{TabIDs: []tabs.ID{"@3", "@1"}, MaxEntries: 10},
	}}
	out, err := execute(t, f, true, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.HasPrefix(out, "2/10 entries\n") || !strings.Contains(out, "  0  @3\n") {
		t.Fatalf("output = %q", out)
	}

	out, _ = execute(t, f, false, "history")
	var h daemon.HistoryPayload
	if err := json.Unmarshal([]byte(out), &h); err != nil || len(h.TabIDs) != 2 {
		t.Fatalf("json output = %q (%v)", out, err)
	}
}

func TestLogsOutput(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	f := &fakeDaemon{results: map[daemon.MessageType]any{
		daemon.MsgGetLogs: []session.LogEntry{
			{Time: at, Event: "gesture_started", Fields: map[string]any{"origin": "@1", "reason": "two words"}},
		},
	}}
	out, err := execute(t, f, true, "logs")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	want := `03:04:05.000 gesture_started origin=@1 reason="two words"` + "\n"
	if out != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
}

func TestStateOutput(t *testing.T) {
	f := &fakeDaemon{results: map[daemon.MessageType]any{
		daemon.MsgGetState: daemon.StatePayload{
			Session:  session.Session{Active: true, OriginTabID: "@1", TargetIndex: 2},
			Shortcut: "Alt+Q",
			Clients:  1,
		},
	}}
	out, err := execute(t, f, true, "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	for _, want := range []string{"active:   true", "origin:   @1", "target:   2", "shortcut: Alt+Q", "clients:  1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	f := &fakeDaemon{}
	if _, err := execute(t, f, false, "--config", path, "config", "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := execute(t, f, false, "--config", path, "config", "init"); err == nil {
		t.Fatalf("init must not overwrite without --force")
	}
	if _, err := execute(t, f, false, "--config", path, "config", "init", "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}
	out, err := execute(t, f, false, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "backend: tmux") || !strings.Contains(out, "shortcut: Alt+Q") {
		t.Fatalf("show output = %q", out)
	}
	if len(f.calls) != 0 {
		t.Fatalf("config commands must not contact the daemon")
	}
}
