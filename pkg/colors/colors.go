// Package colors picks readable colors for group badges in the overlay.
package colors

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// named maps Chrome tab group color names to hex.
var named = map[string]string{
	"grey":   "#5f6368",
	"blue":   "#1a73e8",
	"red":    "#d93025",
	"yellow": "#f9ab00",
	"green":  "#1e8e3e",
	"pink":   "#d01884",
	"purple": "#9334e6",
	"cyan":   "#007b83",
	"orange": "#fa903e",
}

// palette colors groups that configure no theme.
var palette = []string{
	"#3498db", // Blue
	"#2ecc71", // Green
	"#e74c3c", // Red
	"#9b59b6", // Purple
	"#f39c12", // Orange
	"#1abc9c", // Turquoise
	"#e67e22", // Carrot
	"#34495e", // Dark blue-gray
}

// Resolve returns the hex form of a group color: a "#rrggbb" value as is, a
// Chrome color name translated, anything else "".
func Resolve(color string) string {
	color = strings.ToLower(strings.TrimSpace(color))
	if _, _, _, ok := rgb(color); ok {
		return color
	}
	return named[color]
}

// GroupColor returns a default badge color for the i-th group.
func GroupColor(i int) string {
	if i < 0 {
		i = -i
	}
	return palette[i%len(palette)]
}

func rgb(hex string) (r, g, b int64, ok bool) {
	h := strings.TrimPrefix(hex, "#")
	if len(h) != 6 || len(h) == len(hex) {
		return 0, 0, 0, false
	}
	var errs [3]error
	r, errs[0] = strconv.ParseInt(h[0:2], 16, 64)
	g, errs[1] = strconv.ParseInt(h[2:4], 16, 64)
	b, errs[2] = strconv.ParseInt(h[4:6], 16, 64)
	for _, err := range errs {
		if err != nil {
			return 0, 0, 0, false
		}
	}
	return r, g, b, true
}

func toHex(r, g, b int64) string {
	clamp := func(v int64) int64 { return min(max(v, 0), 255) }
	return fmt.Sprintf("#%02x%02x%02x", clamp(r), clamp(g), clamp(b))
}

// Luminance is the WCAG relative luminance, 0 for black (or an invalid
// color) to 1 for white.
func Luminance(hex string) float64 {
	r, g, b, ok := rgb(hex)
	if !ok {
		return 0
	}
	lin := func(v int64) float64 {
		c := float64(v) / 255
		if c <= 0.03928 {
			return c / 12.92
		}
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(r) + 0.7152*lin(g) + 0.0722*lin(b)
}

// ContrastRatio is the WCAG contrast between two colors, 1 to 21.
func ContrastRatio(a, b string) float64 {
	l1, l2 := Luminance(a), Luminance(b)
	if l1 < l2 {
		l1, l2 = l2, l1
	}
	return (l1 + 0.05) / (l2 + 0.05)
}

// TextColor returns white or black, whichever reads on bg. White wins at the
// large-text threshold of 3:1.
func TextColor(bg string) string {
	if ContrastRatio("#ffffff", bg) >= 3.0 {
		return "#ffffff"
	}
	return "#000000"
}

// Lighten moves a color towards white by amount (0 to 1). Invalid colors are
// returned unchanged.
func Lighten(hex string, amount float64) string {
	r, g, b, ok := rgb(hex)
	if !ok {
		return hex
	}
	step := func(v int64) int64 { return v + int64(float64(255-v)*amount) }
	return toHex(step(r), step(g), step(b))
}

// Darken moves a color towards black by amount (0 to 1).
func Darken(hex string, amount float64) string {
	r, g, b, ok := rgb(hex)
	if !ok {
		return hex
	}
	step := func(v int64) int64 { return int64(float64(v) * (1 - amount)) }
	return toHex(step(r), step(g), step(b))
}
