package domain

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// Color is a palette entry assigned to a traveler.
type Color struct {
	Name  string `json:"name"`
	Hex   string `json:"hex"`
	Light string `json:"light"`
	Dark  string `json:"dark"`
}

// Palette is the fixed colour rotation, assigned by join order.
var Palette = []Color{
	{Name: "Coral", Hex: "#E07A5F", Light: "#F4A393", Dark: "#C56A52"},
	{Name: "Sage", Hex: "#81B29A", Light: "#A8D4B8", Dark: "#5F9178"},
	{Name: "Mustard", Hex: "#E9C46A", Light: "#F5DDA0", Dark: "#D4A84A"},
	{Name: "Ocean", Hex: "#457B9D", Light: "#7AAFC9", Dark: "#365F7A"},
	{Name: "Terracotta", Hex: "#BC6C4C", Light: "#D99A7C", Dark: "#9A5A3F"},
	{Name: "Plum", Hex: "#9C6B8A", Light: "#C49DB3", Dark: "#7D566E"},
	{Name: "Teal", Hex: "#2A9D8F", Light: "#6BC4B8", Dark: "#228276"},
	{Name: "Rose", Hex: "#D4A5A5", Light: "#E8CACA", Dark: "#B88A8A"},
	{Name: "Olive", Hex: "#8B9556", Light: "#B5C085", Dark: "#6F7744"},
	{Name: "Slate", Hex: "#5C6B73", Light: "#8A9BA5", Dark: "#4A565C"},
}

const (
	textDark  = "#3D405B"
	textLight = "#FFFFFF"
)

// ColorForIndex wraps around the palette.
func ColorForIndex(i int) Color {
	if i < 0 {
		i = -i
	}
	return Palette[i%len(Palette)]
}

// ColorForUser returns the colour of userID given the trip's join order.
// Unknown users get a stable colour derived from their id.
func ColorForUser(userID string, joinOrder []string) Color {
	for i, id := range joinOrder {
		if id == userID {
			return ColorForIndex(i)
		}
	}
	return Palette[hashIndex(userID, len(Palette))]
}

// hashIndex is the 31-multiplier string hash over UTF-16 code units, truncated to 32 bits.
func hashIndex(s string, n int) int {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % int64(n))
}

// Initials returns up to two upper-case initials, or "?" for an empty name.
func Initials(name string) string {
	if name == "" {
		return "?"
	}
	var b strings.Builder
	for _, word := range strings.Split(name, " ") {
		if word == "" {
			continue
		}
		r := []rune(word)
		b.WriteRune(r[0])
	}
	out := []rune(strings.ToUpper(b.String()))
	if len(out) > 2 {
		out = out[:2]
	}
	return string(out)
}

// ContrastColor picks dark or light text for the given background.
func ContrastColor(hex string) string {
	h := strings.TrimPrefix(hex, "#")
	if len(h) < 6 {
		return textLight
	}
	r, errR := strconv.ParseUint(h[0:2], 16, 8)
	g, errG := strconv.ParseUint(h[2:4], 16, 8)
	b, errB := strconv.ParseUint(h[4:6], 16, 8)
	if errR != nil || errG != nil || errB != nil {
		return textLight
	}
	luminance := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 255
	if luminance > 0.5 {
		return textDark
	}
	return textLight
}
