// Package overlay holds the terminal switcher panel: row filtering, per-row
// shortcut keys and the bubbletea model driven by daemon messages.
package overlay

import (
	"slices"
	"strings"

	"github.com/b/tabflip/pkg/tabs"
)

// ShortcutCandidates are the left-hand keys offered as row shortcuts, in
// row order.
var ShortcutCandidates = []string{
	"1", "2", "3", "4",
	"q", "w", "e", "r",
	"a", "s", "d", "f",
	"z", "x", "c", "v",
}

// triggerKey returns the lower-cased final key of a shortcut like "Alt+Q",
// or "" when it is not a single letter or digit.
func triggerKey(shortcut string) string {
	parts := strings.Split(strings.TrimSpace(shortcut), "+")
	last := strings.ToLower(strings.TrimSpace(parts[len(parts)-1]))
	if len(last) != 1 {
		return ""
	}
	c := last[0]
	if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') {
		return last
	}
	return ""
}

// AssignShortcuts returns one key per row for the first n rows. The trigger's
// own key is skipped so pressing it again keeps cycling. Rows past the
// candidate list get "".
func AssignShortcuts(n int, trigger string) []string {
	exclude := triggerKey(trigger)
	valid := make([]string, 0, len(ShortcutCandidates))
	for _, k := range ShortcutCandidates {
		if k != exclude {
			valid = append(valid, k)
		}
	}
	keys := make([]string, n)
	for i := 0; i < n && i < len(valid); i++ {
		keys[i] = valid[i]
	}
	return keys
}

// FormatShortcut splits a shortcut description into modifiers and key for
// display. On macOS Alt reads as Option, Ctrl as Command and MacCtrl as
// Control; a description carrying both Control and Alt drops the Alt.
func FormatShortcut(shortcut string, mac bool) (mods []string, key string) {
	shortcut = strings.TrimSpace(shortcut)
	if shortcut == "" {
		return nil, ""
	}
	parts := strings.Split(shortcut, "+")
	if mac {
		hasControl := slices.Contains(parts, "MacCtrl") || slices.Contains(parts, "Ctrl")
		hasAlt := slices.Contains(parts, "Alt") || slices.Contains(parts, "Option")
		if hasControl && hasAlt {
			parts = slices.DeleteFunc(parts, func(p string) bool { return p == "Alt" || p == "Option" })
		}
		for i, p := range parts {
			switch p {
			case "Alt":
				parts[i] = "Option"
			case "Ctrl":
				parts[i] = "Command"
			case "MacCtrl":
				parts[i] = "Control"
			}
		}
	}
	key = "Q"
	if last := parts[len(parts)-1]; last != "" {
		key = last
	}
	if len(parts) > 1 {
		mods = parts[:len(parts)-1]
	}
	return mods, key
}

// Filter keeps tabs whose title or URL contains query, case-insensitively.
// An empty query keeps everything.
func Filter(list []tabs.Tab, query string) []tabs.Tab {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return list
	}
	out := make([]tabs.Tab, 0, len(list))
	for _, t := range list {
		if strings.Contains(strings.ToLower(t.Title), q) || strings.Contains(strings.ToLower(t.URL), q) {
			out = append(out, t)
		}
	}
	return out
}
