package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/0xflawless/TickerBot/internal/features/pricing"
	logging "github.com/0xflawless/TickerBot/internal/infra/log"
	"github.com/0xflawless/TickerBot/internal/tracking"

	"go.uber.org/zap"
)

// ErrUpdateInProgress is returned by ForceUpdate when the guild's
// periodic update still holds the lock.
var ErrUpdateInProgress = errors.New("update already in progress")

// Scheduler drives the periodic price updates. Every tick it walks the
// tracked guilds, fetches quotes for each due guild's tokens, formats
// the nickname display and pushes it to the presence sink. Failures
// are isolated per token and per guild: one broken token never stops
// the rest of the batch, and a failed guild still advances its timer
// so it does not retry in a tight loop.
type Scheduler struct {
	store   *tracking.Store
	sources SourceSet
	sink    PresenceSink
	tick    time.Duration

	busyMu sync.Mutex
	busy   map[string]bool
}

func NewScheduler(store *tracking.Store, sources SourceSet, sink PresenceSink, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		store:   store,
		sources: sources,
		sink:    sink,
		tick:    tick,
		busy:    make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled, firing one batch per tick. An
// immediate first pass runs on startup so freshly loaded guilds
// (lastUpdateTime 0) update right away.
func (s *Scheduler) Run(ctx context.Context) {
	logging.LogInfo("Price update scheduler started", zap.Duration("tick", s.tick))

	s.safeTick(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.LogInfo("Price update scheduler stopped")
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

// safeTick shields the loop from anything unexpected inside a batch;
// the next tick proceeds on schedule.
func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogError("Panic in scheduler tick", zap.Any("panic", r))
		}
	}()
	s.runTick(ctx)
}

func (s *Scheduler) runTick(ctx context.Context) {
	// One time snapshot for the whole tick.
	now := time.Now().Unix()

	guilds := s.store.Guilds()
	logging.LogDebug("Running price update check", zap.Int("guilds", len(guilds)))

	var wg sync.WaitGroup
	for _, cfg := range guilds {
		if !cfg.IsTracking {
			continue
		}
		if now-cfg.LastUpdateTime < int64(cfg.UpdateInterval) {
			continue
		}

		wg.Add(1)
		go func(cfg *tracking.GuildConfig) {
			defer wg.Done()
			s.updateGuild(ctx, cfg, now)
		}(cfg)
	}
	wg.Wait()
}

// ForceUpdate resets the guild's timer and runs one update for it
// synchronously, reusing the periodic path.
func (s *Scheduler) ForceUpdate(ctx context.Context, guildID string) error {
	cfg, ok := s.store.Guild(guildID)
	if !ok {
		return fmt.Errorf("guild %s has no tracking configuration", guildID)
	}
	if !cfg.IsTracking {
		return fmt.Errorf("guild %s is not tracking", guildID)
	}

	s.store.ResetLastUpdateTime(guildID)
	cfg.LastUpdateTime = 0

	if !s.updateGuild(ctx, cfg, time.Now().Unix()) {
		return fmt.Errorf("guild %s: %w", guildID, ErrUpdateInProgress)
	}
	return nil
}

// tryLockGuild gives per-guild mutual exclusion: a guild still being
// updated from a previous (slow) tick is skipped, never run twice
// concurrently.
func (s *Scheduler) tryLockGuild(guildID string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busy[guildID] {
		return false
	}
	s.busy[guildID] = true
	return true
}

func (s *Scheduler) unlockGuild(guildID string) {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	delete(s.busy, guildID)
}

// updateGuild runs one update pass for a guild. It reports false when
// the guild was skipped because another update still holds its lock.
func (s *Scheduler) updateGuild(ctx context.Context, cfg *tracking.GuildConfig, now int64) bool {
	guildID := cfg.GuildID

	if !s.tryLockGuild(guildID) {
		logging.LogDebug("Guild update already in progress, skipping", zap.String("guild_id", guildID))
		return false
	}
	defer s.unlockGuild(guildID)

	// The timer advances whether or not the batch succeeds, so a
	// broken source cannot cause a retry storm.
	defer s.store.SetLastUpdateTime(guildID, now)

	// Stable token order for a stable display.
	tokenIDs := make([]string, 0, len(cfg.Tokens))
	for id := range cfg.Tokens {
		tokenIDs = append(tokenIDs, id)
	}
	sort.Strings(tokenIDs)

	var entries []string
	statusSymbol := ""
	var statusChange *float64
	fallbackSymbol := ""

	for _, tokenID := range tokenIDs {
		token := cfg.Tokens[tokenID]

		source, ok := s.sources.For(token.Source)
		if !ok {
			logging.LogWarn("No price source configured for token",
				zap.String("guild_id", guildID),
				zap.String("token_id", tokenID),
				zap.String("source", string(token.Source)))
			continue
		}

		quote, err := source.Quote(ctx, *token)
		if err != nil {
			if errors.Is(err, ErrTokenGone) {
				// Self-healing: a token the source no longer knows is
				// dropped from tracking and the change persisted.
				logging.LogWarn("Removing token no longer known to its source",
					zap.String("guild_id", guildID),
					zap.String("token_id", tokenID),
					zap.Error(err))
				s.store.RemoveToken(guildID, tokenID)
				continue
			}
			// Transient failure: skip this token for this cycle only.
			logging.LogWarn("Price fetch failed, skipping token this cycle",
				zap.String("guild_id", guildID),
				zap.String("token_id", tokenID),
				zap.Error(err))
			continue
		}

		glyph := pricing.Trend(quote.Price, token.LastPrice)
		s.store.UpdateLastPrice(guildID, tokenID, quote.Price)

		entries = append(entries, FormatTokenEntry(token.Symbol, quote.Price, glyph))

		if statusChange == nil && quote.Change24h != nil {
			statusSymbol = token.Symbol
			statusChange = quote.Change24h
		}
		if fallbackSymbol == "" && token.Source == tracking.SourceContract {
			fallbackSymbol = token.Symbol
		}
	}

	if len(entries) == 0 {
		logging.LogDebug("No token updated for guild this cycle", zap.String("guild_id", guildID))
		return true
	}

	display := BuildDisplay(entries)
	if err := s.sink.SetGuildNickname(guildID, display); err != nil {
		if errors.Is(err, ErrGuildNotFound) {
			// The guild handle is gone - drop the record for safety
			// and persist.
			logging.LogWarn("Guild not resolvable, removing from tracking",
				zap.String("guild_id", guildID))
			s.store.RemoveGuild(guildID)
			return true
		}
		logging.LogError("Failed to update guild nickname",
			zap.String("guild_id", guildID),
			zap.Error(err))
	} else {
		logging.LogDebug("Guild nickname updated",
			zap.String("guild_id", guildID),
			zap.String("display", display))
	}

	// The watching status is global, not per-guild. Known limitation
	// inherited from the product; the format lives in one place so a
	// per-guild variant only changes this push site.
	status := ""
	if statusChange != nil {
		status = FormatGlobalStatus(statusSymbol, *statusChange)
	} else if fallbackSymbol != "" {
		status = fmt.Sprintf("%s from Goldilend", fallbackSymbol)
	}
	if status != "" {
		if err := s.sink.SetGlobalStatus(status); err != nil {
			logging.LogWarn("Failed to update global status", zap.Error(err))
		}
	}
	return true
}
