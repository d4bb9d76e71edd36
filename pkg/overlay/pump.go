package overlay

import (
	"github.com/b/tabflip/pkg/daemon"
	tea "github.com/charmbracelet/bubbletea"
)

// Receiver yields pushed daemon messages.
type Receiver interface {
	Receive() (daemon.Message, error)
}

// Translate converts a pushed daemon message into a program message.
func Translate(msg daemon.Message) (tea.Msg, bool) {
	switch msg.Type {
	case daemon.MsgShowPanel:
		var panel daemon.ShowPanelPayload
		if err := msg.Decode(&panel); err != nil {
			return nil, false
		}
		return PanelMsg(panel), true
	case daemon.MsgUpdateSelection:
		var sel daemon.SelectionPayload
		if err := msg.Decode(&sel); err != nil {
			return nil, false
		}
		return SelectionMsg(sel.SelectedTabID), true
	case daemon.MsgHidePanel:
		return HideMsg{}, true
	}
	return nil, false
}

// Pump forwards messages from r to send until the connection fails.
func Pump(r Receiver, send func(tea.Msg)) {
	for {
		msg, err := r.Receive()
		if err != nil {
			send(DisconnectedMsg{Err: err})
			return
		}
		if out, ok := Translate(msg); ok {
			send(out)
		}
	}
}
