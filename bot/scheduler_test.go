package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/0xflawless/TickerBot/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves scripted quotes per token id.
type fakeSource struct {
	mu     sync.Mutex
	quotes map[string]Quote
	errs   map[string]error
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		quotes: make(map[string]Quote),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) Quote(_ context.Context, token tracking.TokenState) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[token.TokenID]++
	if err, ok := f.errs[token.TokenID]; ok {
		return Quote{}, err
	}
	q, ok := f.quotes[token.TokenID]
	if !ok {
		return Quote{}, fmt.Errorf("no scripted quote for %s", token.TokenID)
	}
	return q, nil
}

// fakeSink records presence pushes.
type fakeSink struct {
	mu        sync.Mutex
	nicknames map[string][]string
	statuses  []string
	nickErr   map[string]error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		nicknames: make(map[string][]string),
		nickErr:   make(map[string]error),
	}
}

func (f *fakeSink) SetGuildNickname(guildID, nick string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.nickErr[guildID]; ok {
		return err
	}
	f.nicknames[guildID] = append(f.nicknames[guildID], nick)
	return nil
}

func (f *fakeSink) SetGlobalStatus(status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeSink) lastNickname(guildID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nicks := f.nicknames[guildID]
	if len(nicks) == 0 {
		return "", false
	}
	return nicks[len(nicks)-1], true
}

func (f *fakeSink) lastStatus() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return "", false
	}
	return f.statuses[len(f.statuses)-1], true
}

func newTestStore(t *testing.T) *tracking.Store {
	t.Helper()
	store := tracking.NewStore(t.TempDir())
	require.NoError(t, store.Load())
	return store
}

func change(v float64) *float64 { return &v }

func TestForceUpdatePushesNicknameAndStatus(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{
		TokenID: "bitcoin",
		Symbol:  "BTC",
		Source:  tracking.SourceCoinGecko,
	})

	source := newFakeSource()
	source.quotes["bitcoin"] = Quote{Price: 43250.12, Change24h: change(2.5)}
	sink := newFakeSink()

	sched := NewScheduler(store, SourceSet{CoinGecko: source}, sink, time.Minute)
	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	nick, ok := sink.lastNickname("g1")
	require.True(t, ok)
	assert.Equal(t, "BTC: $43250.1200+", nick)

	status, ok := sink.lastStatus()
	require.True(t, ok)
	assert.Equal(t, "24h: BTC +2.5%", status)

	// The stored last price reflects the observation.
	cfg, ok := store.Guild("g1")
	require.True(t, ok)
	assert.Equal(t, 43250.12, cfg.Tokens["bitcoin"].LastPrice)
}

func TestForceUpdateRequiresTrackedGuild(t *testing.T) {
	store := newTestStore(t)
	sched := NewScheduler(store, SourceSet{}, newFakeSink(), time.Minute)

	err := sched.ForceUpdate(context.Background(), "nope")
	assert.Error(t, err)
}

func TestFailedTokenDoesNotBlockOthers(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{TokenID: "aaa", Symbol: "AAA", Source: tracking.SourceCoinGecko})
	store.AddToken("g1", tracking.TokenState{TokenID: "bbb", Symbol: "BBB", Source: tracking.SourceCoinGecko})

	source := newFakeSource()
	source.errs["aaa"] = errors.New("rate limited")
	source.quotes["bbb"] = Quote{Price: 1.5, Change24h: change(-0.3)}
	sink := newFakeSink()

	sched := NewScheduler(store, SourceSet{CoinGecko: source}, sink, time.Minute)
	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	nick, ok := sink.lastNickname("g1")
	require.True(t, ok)
	assert.Equal(t, "BBB: $1.5000+", nick)

	// The failing token is only skipped, not removed.
	cfg, ok := store.Guild("g1")
	require.True(t, ok)
	assert.Contains(t, cfg.Tokens, "aaa")
}

func TestFailingGuildDoesNotBlockOtherGuildsInTick(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g-broken", tracking.TokenState{TokenID: "aaa", Symbol: "AAA", Source: tracking.SourceCoinGecko})
	store.AddToken("g-healthy", tracking.TokenState{TokenID: "ethereum", Symbol: "ETH", Source: tracking.SourceCoinGecko, LastPrice: 100})

	source := newFakeSource()
	source.errs["aaa"] = errors.New("upstream down")
	source.quotes["ethereum"] = Quote{Price: 2600, Change24h: change(1.1)}
	sink := newFakeSink()

	sched := NewScheduler(store, SourceSet{CoinGecko: source}, sink, time.Minute)
	sched.runTick(context.Background())

	// The healthy guild updated despite the other guild failing in the
	// same batch.
	nick, ok := sink.lastNickname("g-healthy")
	require.True(t, ok)
	assert.Equal(t, "ETH: $2600.0000+", nick)

	healthy, ok := store.Guild("g-healthy")
	require.True(t, ok)
	assert.Equal(t, 2600.0, healthy.Tokens["ethereum"].LastPrice)

	// The failing guild pushed nothing, kept its token, and still
	// advanced its timer.
	_, ok = sink.lastNickname("g-broken")
	assert.False(t, ok)
	broken, ok := store.Guild("g-broken")
	require.True(t, ok)
	assert.Contains(t, broken.Tokens, "aaa")
	assert.Greater(t, broken.LastUpdateTime, int64(0))
}

func TestForceUpdateReportsBusyGuild(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: tracking.SourceCoinGecko})

	source := newFakeSource()
	source.quotes["bitcoin"] = Quote{Price: 1, Change24h: change(0)}
	sched := NewScheduler(store, SourceSet{CoinGecko: source}, newFakeSink(), time.Minute)

	require.True(t, sched.tryLockGuild("g1"))
	defer sched.unlockGuild("g1")

	err := sched.ForceUpdate(context.Background(), "g1")
	require.Error(t, err, "a skipped update must not report success")
	assert.Contains(t, err.Error(), "already in progress")
	assert.Equal(t, 0, source.calls["bitcoin"])
}

func TestGoneTokenIsRemovedFromTracking(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{TokenID: "delisted", Symbol: "DEL", Source: tracking.SourceCoinGecko})
	store.AddToken("g1", tracking.TokenState{TokenID: "ethereum", Symbol: "ETH", Source: tracking.SourceCoinGecko})

	source := newFakeSource()
	source.errs["delisted"] = fmt.Errorf("delisted: %w", ErrTokenGone)
	source.quotes["ethereum"] = Quote{Price: 2600, Change24h: change(1.1)}
	sink := newFakeSink()

	sched := NewScheduler(store, SourceSet{CoinGecko: source}, sink, time.Minute)
	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	cfg, ok := store.Guild("g1")
	require.True(t, ok)
	assert.NotContains(t, cfg.Tokens, "delisted")
	assert.Contains(t, cfg.Tokens, "ethereum")
}

func TestUnknownGuildIsPruned(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("gone-guild", tracking.TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: tracking.SourceCoinGecko})

	source := newFakeSource()
	source.quotes["bitcoin"] = Quote{Price: 43250.12, Change24h: change(2.5)}
	sink := newFakeSink()
	sink.nickErr["gone-guild"] = fmt.Errorf("guild gone-guild: %w", ErrGuildNotFound)

	sched := NewScheduler(store, SourceSet{CoinGecko: source}, sink, time.Minute)
	require.NoError(t, sched.ForceUpdate(context.Background(), "gone-guild"))

	_, ok := store.Guild("gone-guild")
	assert.False(t, ok)
}

func TestContractTokenUsesSourceFallbackStatus(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{
		TokenID: "prg",
		Symbol:  "PRG",
		Source:  tracking.SourceContract,
	})

	contract := newFakeSource()
	contract.quotes["prg"] = Quote{Price: 0.01771561}
	sink := newFakeSink()

	sched := NewScheduler(store, SourceSet{Contract: contract}, sink, time.Minute)
	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	nick, ok := sink.lastNickname("g1")
	require.True(t, ok)
	assert.Equal(t, "PRG: $0.0177+", nick)

	status, ok := sink.lastStatus()
	require.True(t, ok)
	assert.Equal(t, "PRG from Goldilend", status)
}

func TestNoStatusPushWithoutChangeData(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: tracking.SourceCoinGecko})

	source := newFakeSource()
	source.quotes["bitcoin"] = Quote{Price: 43250.12} // no 24h data
	sink := newFakeSink()

	sched := NewScheduler(store, SourceSet{CoinGecko: source}, sink, time.Minute)
	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	_, ok := sink.lastNickname("g1")
	require.True(t, ok, "nickname still updates without 24h data")

	// No change figure and no contract token means no status at all,
	// never a fabricated +0.0%.
	_, ok = sink.lastStatus()
	assert.False(t, ok)
}

func TestTrendGlyphReflectsStoredPrice(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: tracking.SourceCoinGecko})

	source := newFakeSource()
	sink := newFakeSink()
	sched := NewScheduler(store, SourceSet{CoinGecko: source}, sink, time.Minute)

	source.quotes["bitcoin"] = Quote{Price: 100, Change24h: change(0)}
	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	source.quotes["bitcoin"] = Quote{Price: 90, Change24h: change(0)}
	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	nick, ok := sink.lastNickname("g1")
	require.True(t, ok)
	assert.Equal(t, "BTC: $90.0000-", nick)

	source.quotes["bitcoin"] = Quote{Price: 90, Change24h: change(0)}
	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	nick, _ = sink.lastNickname("g1")
	assert.Equal(t, "BTC: $90.0000=", nick)
}

func TestLastUpdateTimeAdvancesOnFailure(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{TokenID: "aaa", Symbol: "AAA", Source: tracking.SourceCoinGecko})

	source := newFakeSource()
	source.errs["aaa"] = errors.New("upstream down")
	sched := NewScheduler(store, SourceSet{CoinGecko: source}, newFakeSink(), time.Minute)

	require.NoError(t, sched.ForceUpdate(context.Background(), "g1"))

	cfg, ok := store.Guild("g1")
	require.True(t, ok)
	assert.Greater(t, cfg.LastUpdateTime, int64(0))
}

func TestRunUpdatesDueGuildsOnStartup(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: tracking.SourceCoinGecko})

	source := newFakeSource()
	source.quotes["bitcoin"] = Quote{Price: 43250.12, Change24h: change(2.5)}
	sink := newFakeSink()

	sched := NewScheduler(store, SourceSet{CoinGecko: source}, sink, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, ok := sink.lastNickname("g1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestStoppedGuildIsSkipped(t *testing.T) {
	store := newTestStore(t)
	store.AddToken("g1", tracking.TokenState{TokenID: "bitcoin", Symbol: "BTC", Source: tracking.SourceCoinGecko})
	require.NoError(t, store.SetTracking("g1", false))

	source := newFakeSource()
	source.quotes["bitcoin"] = Quote{Price: 1, Change24h: change(0)}
	sched := NewScheduler(store, SourceSet{CoinGecko: source}, newFakeSink(), time.Minute)

	err := sched.ForceUpdate(context.Background(), "g1")
	assert.Error(t, err)
	assert.Equal(t, 0, source.calls["bitcoin"])
}
