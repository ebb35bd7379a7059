package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTokenEntry(t *testing.T) {
	assert.Equal(t, "PRG: $0.0177+", FormatTokenEntry("PRG", 0.01771561, "+"))
	assert.Equal(t, "BTC: $43250.1200=", FormatTokenEntry("BTC", 43250.12, "="))
	assert.Equal(t, "LOCKS: $0.1177-", FormatTokenEntry("LOCKS", 0.11771561, "-"))
}

func TestBuildDisplaySingleEntry(t *testing.T) {
	got := BuildDisplay([]string{"PRG: $0.0177+"})
	assert.Equal(t, "PRG: $0.0177+", got)
	assert.LessOrEqual(t, len(got), MaxNicknameLength)
}

func TestBuildDisplayJoinsWithinBudget(t *testing.T) {
	got := BuildDisplay([]string{"PRG: $0.0177+", "LOCKS: $0.1177="})
	assert.Equal(t, "PRG: $0.0177+ | LOCKS: $0.1177=", got)
	assert.LessOrEqual(t, len(got), MaxNicknameLength)
}

func TestBuildDisplayDropsTrailingEntries(t *testing.T) {
	entries := []string{
		"PRG: $0.0177+",
		"LOCKS: $0.1177=",
		"BTC: $43250.1200+",
	}
	got := BuildDisplay(entries)

	// The third entry does not fit; the first two survive untouched.
	assert.Equal(t, "PRG: $0.0177+ | LOCKS: $0.1177=", got)
	assert.LessOrEqual(t, len(got), MaxNicknameLength)
	assert.False(t, strings.Contains(got, "BTC"))
}

func TestBuildDisplayTruncatesLoneOversizeEntry(t *testing.T) {
	entry := "VERYLONGSYMBOLNAME: $123456.7890+"
	got := BuildDisplay([]string{entry})

	assert.LessOrEqual(t, len([]rune(got)), MaxNicknameLength)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestBuildDisplayEmpty(t *testing.T) {
	assert.Equal(t, "", BuildDisplay(nil))
}

func TestFormatGlobalStatus(t *testing.T) {
	assert.Equal(t, "24h: BTC +2.5%", FormatGlobalStatus("BTC", 2.5))
	assert.Equal(t, "24h: PRG -0.3%", FormatGlobalStatus("PRG", -0.31))
	assert.Equal(t, "24h: ETH +0.0%", FormatGlobalStatus("ETH", 0))
}

func TestHumanReadableTime(t *testing.T) {
	assert.Equal(t, "45 seconds", HumanReadableTime(45))
	assert.Equal(t, "5.0 minutes", HumanReadableTime(300))
	assert.Equal(t, "1.5 hours", HumanReadableTime(5400))
}
