package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/b/tabflip/pkg/logx"
	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
	"pkt.systems/pslog"
)

// Core is the gesture side of the daemon, implemented by *session.Coordinator.
type Core interface {
	Cycle(ctx context.Context) error
	Release(ctx context.Context, at time.Time) error
	Cancel(ctx context.Context)
	Pick(ctx context.Context, id tabs.ID) error
	Goto(ctx context.Context, id tabs.ID) error
	DebugOpen(ctx context.Context) error
	Logs() []session.LogEntry
	State() session.Session
	Shortcut() string
}

// HistoryView is the diagnostic side of the history store.
type HistoryView interface {
	Load(ctx context.Context) error
	Snapshot() []tabs.ID
	MaxEntries() int
	Clear(ctx context.Context)
}

// Dispatcher routes client messages to the coordinator, the history store
// and the event pump.
type Dispatcher struct {
	core    Core
	history HistoryView
	events  chan<- tabs.Event
	clients func() int
	log     pslog.Logger
}

// NewDispatcher returns a dispatcher. Tab events received over the socket
// are forwarded to events; clients reports the number of overlays.
func NewDispatcher(core Core, history HistoryView, events chan<- tabs.Event, clients func() int, logger pslog.Logger) *Dispatcher {
	if clients == nil {
		clients = func() int { return 0 }
	}
	return &Dispatcher{
		core:    core,
		history: history,
		events:  events,
		clients: clients,
		log:     logx.Or(logger).With("component", "dispatch"),
	}
}

// Handle implements RequestHandler.
func (d *Dispatcher) Handle(ctx context.Context, clientID string, msg Message) (any, error) {
	d.log.Debug("request", "type", msg.Type, "client", clientID)
	switch msg.Type {
	case MsgCycle:
		return nil, d.core.Cycle(ctx)

	case MsgAltReleased:
		var p ReleasePayload
		if len(msg.Payload) > 0 {
			if err := msg.Decode(&p); err != nil {
				return nil, err
			}
		}
		return nil, d.core.Release(ctx, p.Time())

	case MsgSwitchToTab:
		var p SwitchPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return nil, d.core.Pick(ctx, p.TabID)

	case MsgGotoTab:
		var p SwitchPayload
		if err := msg.Decode(&p); err != nil {
			return nil, err
		}
		return nil, d.core.Goto(ctx, p.TabID)

	case MsgPanelClosedByUser:
		d.core.Cancel(ctx)
		return nil, nil

	case MsgDebugOpenPanel:
		return nil, d.core.DebugOpen(ctx)

	case MsgGetLogs:
		return d.core.Logs(), nil

	case MsgGetState:
		return StatePayload{
			Session:  d.core.State(),
			Shortcut: d.core.Shortcut(),
			Clients:  d.clients(),
		}, nil

	case MsgGetHistory:
		if err := d.history.Load(ctx); err != nil {
			d.log.Debug("history load failed", "err", err)
		}
		return HistoryPayload{TabIDs: d.history.Snapshot(), MaxEntries: d.history.MaxEntries()}, nil

	case MsgClearHistory:
		d.history.Clear(ctx)
		return nil, nil

	case MsgTabEvent:
		var ev TabEventPayload
		if err := msg.Decode(&ev); err != nil {
			return nil, err
		}
		if err := validateEvent(ev); err != nil {
			return nil, err
		}
		select {
		case d.events <- ev:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func validateEvent(ev tabs.Event) error {
	if ev.TabID == "" {
		return errors.New("tab event without tab id")
	}
	switch ev.Kind {
	case tabs.EventActivated, tabs.EventRemoved, tabs.EventUpdated:
		return nil
	default:
		return fmt.Errorf("unknown tab event kind %q", ev.Kind)
	}
}
