package daemon

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
)

type fakeCore struct {
	calls     []string
	releaseAt time.Time
	picked    tabs.ID
}

func (f *fakeCore) Cycle(context.Context) error {
	f.calls = append(f.calls, "cycle")
	return nil
}

func (f *fakeCore) Release(_ context.Context, at time.Time) error {
	f.calls = append(f.calls, "release")
	f.releaseAt = at
	return nil
}

func (f *fakeCore) Cancel(context.Context) { f.calls = append(f.calls, "cancel") }

func (f *fakeCore) Pick(_ context.Context, id tabs.ID) error {
	f.calls = append(f.calls, "pick")
	f.picked = id
	return nil
}

func (f *fakeCore) Goto(_ context.Context, id tabs.ID) error {
	f.calls = append(f.calls, "goto")
	f.picked = id
	return nil
}

func (f *fakeCore) DebugOpen(context.Context) error { return session.ErrInternalPage }

func (f *fakeCore) Logs() []session.LogEntry {
	return []session.LogEntry{{Event: "cycle"}}
}

func (f *fakeCore) State() session.Session { return session.Session{Active: true, TargetIndex: 2} }

func (f *fakeCore) Shortcut() string { return "Alt+Q" }

type fakeHistory struct {
	ids     []tabs.ID
	cleared bool
}

func (h *fakeHistory) Load(context.Context) error { return nil }
func (h *fakeHistory) Snapshot() []tabs.ID { return h.ids }
func (h *fakeHistory) MaxEntries() int { return 10 }
func (h *fakeHistory) Clear(context.Context) {
	h.cleared = true
	h.ids = nil
}

func mustMessage(t *testing.T, typ MessageType, payload any) Message {
	t.Helper()
	msg, err := NewMessage(typ, payload)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	return msg
}

func TestDispatcherRoutesGestureMessages(t *testing.T) {
	ctx := context.Background()
	core := &fakeCore{}
	d := NewDispatcher(core, &fakeHistory{}, make(chan tabs.Event, 1), nil, nil)

	for _, msg := range []Message{
		mustMessage(t, MsgCycle, nil),
		mustMessage(t, MsgAltReleased, ReleasePayload{At: 1700000000123}),
		mustMessage(t, MsgSwitchToTab, SwitchPayload{TabID: "7"}),
		mustMessage(t, MsgPanelClosedByUser, nil),
		mustMessage(t, MsgGotoTab, SwitchPayload{TabID: "8"}),
	} {
		if _, err := d.Handle(ctx, "c1", msg); err != nil {
			t.Fatalf("%s: %v", msg.Type, err)
		}
	}
	want := []string{"cycle", "release", "pick", "cancel", "goto"}
	if len(core.calls) != len(want) {
		t.Fatalf("calls = %v", core.calls)
	}
	for i := range want {
		if core.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", core.calls, want)
		}
	}
	if core.releaseAt.UnixMilli() != 1700000000123 || core.picked != "8" {
		t.Fatalf("release=%v picked=%s", core.releaseAt, core.picked)
	}
}

func TestDispatcherReleaseWithoutTimestamp(t *testing.T) {
	core := &fakeCore{}
	d := NewDispatcher(core, &fakeHistory{}, nil, nil, nil)
	if _, err := d.Handle(context.Background(), "", Message{Type: MsgAltReleased}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !core.releaseAt.IsZero() {
		t.Fatalf("expected zero release time")
	}
}

func TestDispatcherDiagnostics(t *testing.T) {
	ctx := context.Background()
	hist := &fakeHistory{ids: []tabs.ID{"3", "1"}}
	d := NewDispatcher(&fakeCore{}, hist, nil, func() int { return 2 }, nil)

	out, err := d.Handle(ctx, "", Message{Type: MsgGetHistory})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h := out.(HistoryPayload); len(h.TabIDs) != 2 || h.MaxEntries != 10 {
		t.Fatalf("history = %+v", h)
	}

	out, _ = d.Handle(ctx, "", Message{Type: MsgGetState})
	state := out.(StatePayload)
	if !state.Session.Active || state.Shortcut != "Alt+Q" || state.Clients != 2 {
		t.Fatalf("state = %+v", state)
	}

	out, _ = d.Handle(ctx, "", Message{Type: MsgGetLogs})
	if logs := out.([]session.LogEntry); len(logs) != 1 {
		t.Fatalf("logs = %v", logs)
	}

	if _, err := d.Handle(ctx, "", Message{Type: MsgClearHistory}); err != nil || !hist.cleared {
		t.Fatalf("clear: err=%v cleared=%v", err, hist.cleared)
	}

	if _, err := d.Handle(ctx, "", Message{Type: MsgDebugOpenPanel}); err != session.ErrInternalPage {
		t.Fatalf("debug open error = %v", err)
	}
}

func TestDispatcherForwardsTabEvents(t *testing.T) {
	events := make(chan tabs.Event, 1)
	d := NewDispatcher(&fakeCore{}, &fakeHistory{}, events, nil, nil)
	msg := mustMessage(t, MsgTabEvent, tabs.Event{Kind: tabs.EventActivated, TabID: "4", URL: "https://x"})
	if _, err := d.Handle(context.Background(), "", msg); err != nil {
		t.Fatalf("tab event: %v", err)
	}
	if ev := <-events; ev.TabID != "4" || ev.Kind != tabs.EventActivated {
		t.Fatalf("forwarded %+v", ev)
	}

	bad := []Message{
		{Type: MsgTabEvent, Payload: json.RawMessage(`{"kind":"moved","tab_id":"4"}`)},
		{Type: MsgTabEvent, Payload: json.RawMessage(`{"kind":"removed"}`)},
		{Type: MsgTabEvent},
		{Type: "bogus"},
	}
	for _, m := range bad {
		if _, err := d.Handle(context.Background(), "", m); err == nil {
			t.Fatalf("expected error for %+v", m)
		}
	}
}
