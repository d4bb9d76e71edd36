package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
)

// startServer runs a server on a short socket path; unix socket paths are
// limited to about 100 bytes, which t.TempDir can exceed.
func startServer(t *testing.T, handler RequestHandler) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "tf")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s := NewServerAt(filepath.Join(dir, "d.sock"), filepath.Join(dir, "d.pid"), nil)
	s.OnRequest = handler
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.SocketPath())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRequestResult(t *testing.T) {
	s := startServer(t, func(_ context.Context, _ string, msg Message) (any, error) {
		switch msg.Type {
		case MsgGetHistory:
			return HistoryPayload{TabIDs: []tabs.ID{"5", "3"}, MaxEntries: 10}, nil
		default:
			return nil, errors.New("boom")
		}
	})
	c := dial(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Request(ctx, MsgGetHistory, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var hist HistoryPayload
	if err := res.Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist.TabIDs) != 2 || hist.TabIDs[0] != "5" || hist.MaxEntries != 10 {
		t.Fatalf("unexpected history %+v", hist)
	}

	if _, err := c.Request(ctx, MsgCycle, nil); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	s := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.ShowPanel(ctx, session.Panel{}); !errors.Is(err, ErrNoClients) {
		t.Fatalf("expected ErrNoClients, got %v", err)
	}
	if err := s.HidePanel(ctx); err != nil {
		t.Fatalf("hide without clients: %v", err)
	}

	c := dial(t, s)
	if err := c.Subscribe(ctx, SubscribePayload{ColorProfile: "TrueColor"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.WaitForClient(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	panel := session.Panel{
		Tabs:          []tabs.Tab{{ID: "1", Title: "one"}, {ID: "2", Title: "two"}},
		SelectedTabID: "2",
		Shortcut:      "Alt+Q",
	}
	if err := s.ShowPanel(ctx, panel); err != nil {
		t.Fatalf("show: %v", err)
	}
	if err := s.UpdateSelection(ctx, "1"); err != nil {
		t.Fatalf("update: %v", err)
	}

	msg, err := c.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var got ShowPanelPayload
	if msg.Type != MsgShowPanel || msg.Decode(&got) != nil || got.SelectedTabID != "2" || len(got.Tabs) != 2 {
		t.Fatalf("unexpected show message %+v", msg)
	}
	if msg.ClientID != c.ID() {
		t.Fatalf("broadcast client id = %q, want %q", msg.ClientID, c.ID())
	}
	msg, err = c.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var sel SelectionPayload
	if msg.Type != MsgUpdateSelection || msg.Decode(&sel) != nil || sel.SelectedTabID != "1" {
		t.Fatalf("unexpected selection message %+v", msg)
	}
}

func TestUnsubscribeRemovesClient(t *testing.T) {
	s := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := dial(t, s)
	if err := c.Subscribe(ctx, SubscribePayload{}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if s.ClientCount() != 1 {
		t.Fatalf("client count = %d", s.ClientCount())
	}
	_ = c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPing(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)
	if err := c.Send(MsgPing, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, err := c.Receive()
	if err != nil || msg.Type != MsgPong {
		t.Fatalf("expected pong, got %+v err=%v", msg, err)
	}
}

func TestPidfileRejectsLiveDaemon(t *testing.T) {
	dir, err := os.MkdirTemp("", "tf")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)
	pidPath := filepath.Join(dir, "d.pid")
	// The test runner's parent process is alive for the whole test.
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getppid())), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	s := NewServerAt(filepath.Join(dir, "d.sock"), pidPath, nil)
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatalf("expected already-running error")
	}
}

func TestDialWithoutDaemon(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, filepath.Join(os.TempDir(), "tabflip-missing.sock"))
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestSocketPathUsesRuntimeDir(t *testing.T) {
	if got := SocketPath(""); !strings.HasSuffix(got, "tabflip-daemon-default.sock") {
		t.Fatalf("SocketPath() = %s", got)
	}
	if got := PidPath("$1"); !strings.HasSuffix(got, "tabflip-daemon-$1.pid") {
		t.Fatalf("PidPath() = %s", got)
	}
}
