package daemon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/b/tabflip/pkg/paths"
	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Daemon -> overlay
	MsgShowPanel       MessageType = "show_panel"
	MsgUpdateSelection MessageType = "update_selection"
	MsgHidePanel       MessageType = "hide_panel"

	// Overlay -> daemon
	MsgAltReleased       MessageType = "alt_released"
	MsgSwitchToTab       MessageType = "switch_to_tab"
	MsgPanelClosedByUser MessageType = "panel_closed_by_user"
	MsgSubscribe         MessageType = "subscribe"
	MsgUnsubscribe       MessageType = "unsubscribe"

	// CLI -> daemon
	MsgCycle          MessageType = "cycle"
	MsgGotoTab        MessageType = "goto_tab"
	MsgTabEvent       MessageType = "tab_event"
	MsgGetLogs        MessageType = "get_logs"
	MsgDebugOpenPanel MessageType = "debug_open_panel"
	MsgGetHistory     MessageType = "get_history"
	MsgClearHistory   MessageType = "clear_history"
	MsgGetState       MessageType = "get_state"

	MsgResult MessageType = "result"
	MsgPing   MessageType = "ping"
	MsgPong   MessageType = "pong"
)

// Message is the envelope for daemon<->client communication. Requests that
// carry an ID are answered with one MsgResult message echoing it.
type Message struct {
	Type     MessageType     `json:"type"`
	ID       string          `json:"id,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with payload encoded as JSON. A nil payload
// is omitted.
func NewMessage(t MessageType, payload any) (Message, error) {
	msg := Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// ShowPanelPayload is sent with MsgShowPanel.
type ShowPanelPayload = session.Panel

// SelectionPayload is sent with MsgUpdateSelection.
type SelectionPayload struct {
	SelectedTabID tabs.ID `json:"selected_tab_id"`
}

// ReleasePayload is sent with MsgAltReleased. At is unix milliseconds.
type ReleasePayload struct {
	At int64 `json:"at"`
}

// Time returns At as a time, or the zero time when unset.
func (p ReleasePayload) Time() time.Time {
	if p.At <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.At)
}

// SwitchPayload is sent with MsgSwitchToTab and MsgGotoTab.
type SwitchPayload struct {
	TabID tabs.ID `json:"tab_id"`
}

// TabEventPayload is sent with MsgTabEvent.
type TabEventPayload = tabs.Event

// SubscribePayload describes an overlay client.
type SubscribePayload struct {
	Role         string `json:"role"` // "overlay"
	Origin       string `json:"origin,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	ColorProfile string `json:"color_profile,omitempty"` // "Ascii", "ANSI", "ANSI256", "TrueColor"
}

// ResultPayload answers a request.
type ResultPayload struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the result payload into v.
func (r ResultPayload) Decode(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, v)
}

// HistoryPayload answers MsgGetHistory.
type HistoryPayload struct {
	TabIDs     []tabs.ID `json:"tab_ids"`
	MaxEntries int       `json:"max_entries"`
}

// StatePayload answers MsgGetState.
type StatePayload struct {
	Session  session.Session `json:"session"`
	Shortcut string          `json:"shortcut"`
	Clients  int             `json:"clients"`
}

// SocketPath returns the daemon socket path for a session
func SocketPath(sessionID string) string {
	if sessionID == "" {
		sessionID = "default"
	}
	return paths.RuntimePath(fmt.Sprintf("daemon-%s.sock", sessionID))
}

// PidPath returns the pidfile path for a session
func PidPath(sessionID string) string {
	if sessionID == "" {
		sessionID = "default"
	}
	return paths.RuntimePath(fmt.Sprintf("daemon-%s.pid", sessionID))
}
