package bot

import (
	"fmt"
	"strings"
)

// MaxNicknameLength is Discord's hard limit for member nicknames.
const MaxNicknameLength = 32

const displaySeparator = " | "

// FormatTokenEntry renders one token for the nickname display, e.g.
// "PRG: $0.0177+".
func FormatTokenEntry(symbol string, price float64, trendGlyph string) string {
	return fmt.Sprintf("%s: $%.4f%s", symbol, price, trendGlyph)
}

// BuildDisplay joins token entries within the nickname budget.
// Trailing entries are dropped from the display (never from tracking)
// until the string fits; a lone over-long entry is hard-truncated with
// an ellipsis marker.
func BuildDisplay(entries []string) string {
	if len(entries) == 0 {
		return ""
	}

	for n := len(entries); n > 0; n-- {
		joined := strings.Join(entries[:n], displaySeparator)
		if len(joined) <= MaxNicknameLength {
			return joined
		}
	}

	// Even the first entry alone is over budget.
	runes := []rune(entries[0])
	if len(runes) <= MaxNicknameLength {
		return entries[0]
	}
	return string(runes[:MaxNicknameLength-1]) + "…"
}

// FormatGlobalStatus renders the watching-status summary for the
// first token carrying a 24h change, e.g. "24h: LOCKS +2.5%".
func FormatGlobalStatus(symbol string, change24h float64) string {
	return fmt.Sprintf("24h: %s %+.1f%%", symbol, change24h)
}

// HumanReadableTime converts seconds into the wording used in command
// replies.
func HumanReadableTime(seconds int) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%.1f hours", float64(seconds)/3600)
	}
	if seconds >= 60 {
		return fmt.Sprintf("%.1f minutes", float64(seconds)/60)
	}
	return fmt.Sprintf("%d seconds", seconds)
}
