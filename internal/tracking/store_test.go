package tracking

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/0xflawless/TickerBot/internal/features/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := NewStore(dir)
	require.NoError(t, s.Load())

	s.AddToken("111", TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: SourceCoinGecko, LastPrice: 43250.12})
	s.AddToken("111", TokenState{TokenID: "prg", Symbol: "PRG", Source: SourceContract, Kind: pricing.PriceKindPremium})
	s.AddToken("222", TokenState{TokenID: "ethereum", Symbol: "ETH", Source: SourceCoinGecko})
	_, err := s.SetInterval("111", 600)
	require.NoError(t, err)
	s.SetChannels("111", "cfg-chan", "disp-chan")

	reloaded := NewStore(dir)
	require.NoError(t, reloaded.Load())

	g1, ok := reloaded.Guild("111")
	require.True(t, ok)
	assert.True(t, g1.IsTracking)
	assert.Equal(t, 600, g1.UpdateInterval)
	assert.Equal(t, "cfg-chan", g1.ConfigChannelID)
	assert.Equal(t, "disp-chan", g1.DisplayChannelID)
	require.Len(t, g1.Tokens, 2)
	assert.Equal(t, "BTC", g1.Tokens["bitcoin"].Symbol)
	assert.Equal(t, 43250.12, g1.Tokens["bitcoin"].LastPrice)
	assert.Equal(t, pricing.PriceKindPremium, g1.Tokens["prg"].Kind)

	g2, ok := reloaded.Guild("222")
	require.True(t, ok)
	assert.Equal(t, DefaultUpdateInterval, g2.UpdateInterval)
	assert.Equal(t, int64(0), g2.LastUpdateTime, "last update time is not persisted")
}

func TestStoreEmptyRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := NewStore(dir)
	require.NoError(t, s.Load())
	require.NoError(t, s.Save())

	reloaded := NewStore(dir)
	require.NoError(t, reloaded.Load())
	assert.Empty(t, reloaded.Guilds())
}

func TestStoreQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracked_guilds.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := NewStore(dir)
	require.NoError(t, s.Load(), "corrupt state must never crash the process")
	assert.Empty(t, s.Guilds())

	// The corrupt file is renamed aside, not deleted.
	matches, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStoreQuarantinesNullGuildEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracked_guilds.json")
	// Valid JSON, corrupt shape: a null guild decodes to a nil pointer.
	require.NoError(t, os.WriteFile(path, []byte(`{"123": null}`), 0644))

	s := NewStore(dir)
	require.NotPanics(t, func() {
		require.NoError(t, s.Load(), "shape-corrupt state must never crash the process")
	})
	assert.Empty(t, s.Guilds())
	_, ok := s.Guild("123")
	assert.False(t, ok)

	matches, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1, "shape corruption is quarantined like unparseable bytes")
}

func TestStoreQuarantinesNullTokenEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracked_guilds.json")
	raw := `{"123": {"is_tracking": true, "update_interval": 300, "tokens": {"bitcoin": null}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	s := NewStore(dir)
	require.NotPanics(t, func() {
		require.NoError(t, s.Load())
	})

	// A nil token must never survive into the store where cloning
	// reads would hit it from any goroutine.
	require.NotPanics(t, func() {
		_, ok := s.Guild("123")
		assert.False(t, ok)
		assert.Empty(t, s.Guilds())
	})

	matches, err := filepath.Glob(path + ".backup.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestStoreMissingOptionalFieldsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracked_guilds.json")
	raw := `{"333": {"is_tracking": true, "tokens": {"bitcoin": {"token_id": "bitcoin", "symbol": "BTC", "source": "coingecko", "last_price": 1.5}}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	s := NewStore(dir)
	require.NoError(t, s.Load())

	g, ok := s.Guild("333")
	require.True(t, ok)
	assert.Equal(t, DefaultUpdateInterval, g.UpdateInterval, "missing update_interval defaults to 300")
	assert.Empty(t, g.ConfigChannelID)
	assert.Empty(t, g.DisplayChannelID)
}

func TestRemoveLastTokenDisablesTracking(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Load())

	s.AddToken("111", TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: SourceCoinGecko})
	s.AddToken("111", TokenState{TokenID: "ethereum", Symbol: "ETH", Source: SourceCoinGecko})

	removed, err := s.RemoveTokenBySymbol("111", "btc")
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", removed.TokenID)

	g, _ := s.Guild("111")
	assert.True(t, g.IsTracking, "tracking stays on while tokens remain")

	_, err = s.RemoveTokenBySymbol("111", "ETH")
	require.NoError(t, err)

	g, _ = s.Guild("111")
	assert.False(t, g.IsTracking, "a guild with no tokens must not be tracking")
}

func TestRemoveTokenSelfHeal(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Load())

	s.AddToken("111", TokenState{TokenID: "gone-coin", Symbol: "GONE", Source: SourceCoinGecko})
	s.RemoveToken("111", "gone-coin")

	g, ok := s.Guild("111")
	require.True(t, ok)
	assert.Empty(t, g.Tokens)
	assert.False(t, g.IsTracking)

	// Removal is persisted immediately.
	reloaded := NewStore(dir)
	require.NoError(t, reloaded.Load())
	g, ok = reloaded.Guild("111")
	require.True(t, ok)
	assert.Empty(t, g.Tokens)
}

func TestSetIntervalBounds(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Load())

	_, err := s.SetInterval("111", 59)
	assert.Error(t, err)
	_, err = s.SetInterval("111", MaxUpdateInterval+1)
	assert.Error(t, err)

	old, err := s.SetInterval("111", 60)
	require.NoError(t, err)
	assert.Equal(t, DefaultUpdateInterval, old)

	got, known := s.Interval("111")
	assert.True(t, known)
	assert.Equal(t, 60, got)
}

func TestRemoveGuild(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Load())

	s.AddToken("111", TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: SourceCoinGecko})
	s.RemoveGuild("111")

	_, ok := s.Guild("111")
	assert.False(t, ok)

	data, err := os.ReadFile(filepath.Join(dir, "tracked_guilds.json"))
	require.NoError(t, err)
	var onDisk map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.NotContains(t, onDisk, "111")
}

func TestAddTokenPersistsState(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Load())

	// The documented add_token scenario: stubbed source returned
	// price 43250.12 for "bitcoin".
	s.AddToken("111", TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: SourceCoinGecko, LastPrice: 43250.12})

	data, err := os.ReadFile(filepath.Join(dir, "tracked_guilds.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"token_id": "bitcoin"`)
	assert.Contains(t, string(data), `"symbol": "BTC"`)
	assert.Contains(t, string(data), "43250.12")
}

func TestUpdateLastPriceIsInMemoryOnly(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Load())

	s.AddToken("111", TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: SourceCoinGecko, LastPrice: 100})
	s.UpdateLastPrice("111", "bitcoin", 200)

	g, _ := s.Guild("111")
	assert.Equal(t, 200.0, g.Tokens["bitcoin"].LastPrice)

	// The tick-path price update does not force a disk write.
	reloaded := NewStore(dir)
	require.NoError(t, reloaded.Load())
	g, _ = reloaded.Guild("111")
	assert.Equal(t, 100.0, g.Tokens["bitcoin"].LastPrice)
}
