package overlay

import (
	"fmt"
	"strings"
	"time"

	"github.com/b/tabflip/pkg/colors"
	"github.com/b/tabflip/pkg/daemon"
	"github.com/b/tabflip/pkg/session"
	"github.com/b/tabflip/pkg/tabs"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Sender delivers overlay messages to the daemon.
type Sender interface {
	Send(t daemon.MessageType, payload any) error
}

// Messages fed into the program by the connection reader.
type (
	PanelMsg        session.Panel
	SelectionMsg    tabs.ID
	HideMsg         struct{}
	DisconnectedMsg struct{ Err error }
)

// Model is the switcher panel. It shows daemon-provided rows, follows the
// daemon's selection and reports the user's choice back.
type Model struct {
	sender Sender
	mac    bool
	// Popup overlays exit when the panel hides so tmux closes the popup.
	quitOnHide bool

	panel   session.Panel
	visible bool
	rows    []tabs.Tab
	keys    []string
	cursor  int
	groups  map[string]tabs.Group
	search  textinput.Model
	lastErr error

	width  int
	height int
}

// New returns an idle model.
func New(sender Sender, mac, quitOnHide bool) Model {
	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "Search tabs..."
	return Model{
		sender:     sender,
		mac:        mac,
		quitOnHide: quitOnHide,
		search:     search,
		width:      80,
		height:     24,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Visible reports whether a panel is showing.
func (m Model) Visible() bool { return m.visible }

// Rows returns the rows after filtering.
func (m Model) Rows() []tabs.Tab { return m.rows }

// Selected returns the row under the cursor.
func (m Model) Selected() (tabs.Tab, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return tabs.Tab{}, false
	}
	return m.rows[m.cursor], true
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case PanelMsg:
		return m.show(session.Panel(msg))

	case SelectionMsg:
		if m.search.Value() == "" {
			m.panel.SelectedTabID = tabs.ID(msg)
			m.cursor = m.indexOf(tabs.ID(msg))
		}
		return m, nil

	case HideMsg:
		return m.hide()

	case DisconnectedMsg:
		m.lastErr = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		if !m.visible {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			return m, nil
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) show(panel session.Panel) (tea.Model, tea.Cmd) {
	m.panel = panel
	m.visible = true
	m.groups = make(map[string]tabs.Group, len(panel.Groups))
	for _, g := range panel.Groups {
		m.groups[g.ID] = g
	}
	m.search.SetValue("")
	var cmd tea.Cmd
	if panel.LauncherMode {
		cmd = m.search.Focus()
	} else {
		m.search.Blur()
	}
	m.refilter()
	m.cursor = max(m.indexOf(panel.SelectedTabID), 0)
	return m, cmd
}

func (m Model) hide() (tea.Model, tea.Cmd) {
	m.visible = false
	m.search.Blur()
	if m.quitOnHide {
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) refilter() {
	m.rows = Filter(m.panel.Tabs, m.search.Value())
	m.keys = AssignShortcuts(len(m.rows), m.panel.Shortcut)
	if m.cursor >= len(m.rows) {
		m.cursor = 0
	}
}

func (m Model) indexOf(id tabs.ID) int {
	for i, t := range m.rows {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (m Model) rowForKey(key string) int {
	for i, k := range m.keys {
		if k != "" && k == key {
			return i
		}
	}
	return -1
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	searching := m.search.Focused()
	trigger := triggerKey(m.panel.Shortcut)

	// Pressing the trigger again inside the overlay keeps cycling.
	if key == "tab" || (trigger != "" && key == "alt+"+trigger) {
		m.send(daemon.MsgCycle, nil)
		return m, nil
	}

	// Shortcut keys work with a modifier held, or bare while not typing.
	if msg.Alt || !searching {
		bare := strings.TrimPrefix(key, "alt+")
		if i := m.rowForKey(bare); i >= 0 {
			return m.pick(m.rows[i].ID)
		}
	}

	switch key {
	case "ctrl+c":
		m.send(daemon.MsgPanelClosedByUser, nil)
		return m.quit()
	case "esc":
		if searching {
			m.search.Blur()
			return m, nil
		}
		m.send(daemon.MsgPanelClosedByUser, nil)
		return m.hide()
	case "enter":
		return m.commit()
	case "up", "shift+tab", "ctrl+p":
		if len(m.rows) > 0 {
			m.cursor = (m.cursor - 1 + len(m.rows)) % len(m.rows)
		}
		return m, nil
	case "down", "ctrl+n":
		if len(m.rows) > 0 {
			m.cursor = (m.cursor + 1) % len(m.rows)
		}
		return m, nil
	case "/":
		if !searching {
			cmd := m.search.Focus()
			return m, cmd
		}
	case " ":
		if !searching {
			return m.commit()
		}
	}

	if !searching {
		if !m.panel.LauncherMode || msg.Type != tea.KeyRunes || msg.Alt {
			return m, nil
		}
		// Launcher mode: typing starts a search.
		cmd := m.search.Focus()
		var inputCmd tea.Cmd
		m.search, inputCmd = m.search.Update(msg)
		m.refilter()
		m.cursor = 0
		return m, tea.Batch(cmd, inputCmd)
	}

	before := m.search.Value()
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if m.search.Value() != before {
		m.refilter()
		m.cursor = 0
	}
	return m, cmd
}

// commit confirms the row under the cursor. Without any local change that
// row is the session target, so the gesture is released; otherwise the row is
// picked explicitly.
func (m Model) commit() (tea.Model, tea.Cmd) {
	sel, ok := m.Selected()
	if !ok {
		return m, nil
	}
	if m.search.Value() == "" && sel.ID == m.panel.SelectedTabID && !m.panel.LauncherMode && !m.panel.Debug {
		m.send(daemon.MsgAltReleased, daemon.ReleasePayload{At: time.Now().UnixMilli()})
		return m.hide()
	}
	return m.pick(sel.ID)
}

func (m Model) pick(id tabs.ID) (tea.Model, tea.Cmd) {
	m.send(daemon.MsgSwitchToTab, daemon.SwitchPayload{TabID: id})
	return m.hide()
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.visible = false
	return m, tea.Quit
}

func (m *Model) send(t daemon.MessageType, payload any) {
	if m.sender == nil {
		return
	}
	if err := m.sender.Send(t, payload); err != nil {
		m.lastErr = err
	}
}

// Err returns the last send or connection error.
func (m Model) Err() error { return m.lastErr }

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	keyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(3)
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	originStyle   = lipgloss.NewStyle().Faint(true)
)

// View implements tea.Model.
func (m Model) View() string {
	if !m.visible {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent tabs"))
	if hint := m.hint(); hint != "" {
		b.WriteString("  " + hintStyle.Render(hint))
	}
	b.WriteString("\n")
	if m.search.Focused() || m.search.Value() != "" {
		b.WriteString(m.search.View() + "\n")
	}

	avail := max(m.height-3, 1)
	start := 0
	if m.cursor >= avail {
		start = m.cursor - avail + 1
	}
	end := min(start+avail, len(m.rows))
	if len(m.rows) == 0 {
		b.WriteString(hintStyle.Render("  no matching tabs") + "\n")
	}
	for i := start; i < end; i++ {
		b.WriteString(m.renderRow(i) + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) hint() string {
	mods, key := FormatShortcut(m.panel.Shortcut, m.mac)
	if key == "" {
		return ""
	}
	press := strings.Join(append(append([]string{}, mods...), key), "+")
	if len(mods) == 0 {
		return fmt.Sprintf("%s cycle, enter switch, esc close", press)
	}
	return fmt.Sprintf("%s cycle, release %s to switch", press, strings.Join(mods, "+"))
}

func (m Model) renderRow(i int) string {
	t := m.rows[i]
	key := ""
	if i < len(m.keys) {
		key = m.keys[i]
	}
	prefix := keyStyle.Render(key)

	tag := ""
	if g, ok := m.groups[t.GroupID]; ok && g.Title != "" {
		tag = groupStyle(g, i == m.cursor).Render(badgeText(g)) + " "
	}

	width := max(m.width-lipgloss.Width(prefix)-lipgloss.Width(tag)-1, 8)
	label := t.Title
	if label == "" {
		label = t.URL
	}
	label = runewidth.Truncate(label, width, "…")
	label = runewidth.FillRight(label, width)

	switch {
	case i == m.cursor:
		label = selectedStyle.Render(label)
	case t.ID == m.panel.OriginTabID:
		label = originStyle.Render(label)
	}
	return prefix + tag + label
}

func badgeText(g tabs.Group) string {
	if g.Icon != "" {
		return " " + g.Icon + " " + g.Title + " "
	}
	return " " + g.Title + " "
}

// groupStyle colors a group badge. Configured colors win; otherwise the
// selected row gets a darker badge, a collapsed group a paler one, and the
// text color is picked for contrast.
func groupStyle(g tabs.Group, selected bool) lipgloss.Style {
	bg := colors.Resolve(g.Color)
	if bg == "" {
		return hintStyle
	}
	fg := colors.Resolve(g.TextColor)
	switch {
	case selected:
		if active := colors.Resolve(g.ActiveColor); active != "" {
			bg = active
		} else {
			bg = colors.Darken(bg, 0.25)
		}
		fg = colors.Resolve(g.ActiveTextColor)
	case g.Collapsed:
		bg = colors.Lighten(bg, 0.4)
		fg = ""
	}
	if fg == "" {
		fg = colors.TextColor(bg)
	}
	return lipgloss.NewStyle().
		Background(lipgloss.Color(bg)).
		Foreground(lipgloss.Color(fg))
}
