package pricing

// Trend returns the glyph appended to a price display: "+" when the
// price moved up, "-" when it moved down, "=" when unchanged. Strict
// comparison only - no hysteresis, no percentage threshold.
func Trend(current, previous float64) string {
	switch {
	case current > previous:
		return "+"
	case current < previous:
		return "-"
	default:
		return "="
	}
}
