// Package game contains the pure game rules for Lumo: the color palette,
// sequence representation, and sequence comparison. Nothing in this package
// performs I/O or holds mutable state; the orchestrator composes these pieces.
package game

import "strings"

// Color is one element of the palette a controller can display and a player
// can press. Colors are compared case-insensitively on the wire but are
// always normalized to upper case internally.
type Color string

// The fixed palette. Controllers map these symbolically to their NeoPixel
// channels; the server never deals in RGB values.
const (
	Red    Color = "RED"
	Green  Color = "GREEN"
	Blue   Color = "BLUE"
	Yellow Color = "YELLOW"
)

// Palette returns the full color palette in a stable order.
// The returned slice is a fresh copy on every call.
func Palette() []Color {
	return []Color{Red, Green, Blue, Yellow}
}

// ParseColor normalizes a wire-format color string to a palette Color.
//
// Returns:
//   - The matching Color and true if the input names a palette color
//     (case-insensitive, surrounding whitespace ignored)
//   - "" and false otherwise
func ParseColor(s string) (Color, bool) {
	c := Color(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case Red, Green, Blue, Yellow:
		return c, true
	}
	return "", false
}

// Sequence is an ordered list of colors a player must reproduce exactly to
// survive a round. A Sequence is immutable for the life of a round: the
// orchestrator snapshots it at broadcast time and compares answers against
// that snapshot only.
type Sequence []Color

// Strings returns the sequence in wire format, ready for JSON encoding.
func (s Sequence) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}

// Matches reports whether a submitted answer reproduces the sequence.
//
// Comparison rules:
//   - Length-sensitive: any length mismatch is an automatic non-match
//   - Element-wise and case-insensitive: "red" matches "RED"
//   - No partial credit; the first mismatching element fails the whole answer
func (s Sequence) Matches(submitted []string) bool {
	if len(submitted) != len(s) {
		return false
	}
	for i, c := range s {
		if !strings.EqualFold(string(c), strings.TrimSpace(submitted[i])) {
			return false
		}
	}
	return true
}
