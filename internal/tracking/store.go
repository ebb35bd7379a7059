package tracking

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logging "github.com/0xflawless/TickerBot/internal/infra/log"

	"go.uber.org/zap"
)

const trackedGuildsFile = "tracked_guilds.json"

// Store owns the guild tracking configuration and its JSON file.
// Every mutation saves the whole store before returning; a failed
// save is logged and the in-memory state stays authoritative until
// the next mutation retries the write. All operations are safe for
// concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	guilds map[string]*GuildConfig
}

func NewStore(dataDir string) *Store {
	return &Store{
		path:   filepath.Join(dataDir, trackedGuildsFile),
		guilds: make(map[string]*GuildConfig),
	}
}

// Load reads the persisted store. A missing file means an empty
// store. A corrupt file is renamed aside with a timestamped suffix
// and the bot starts empty - bad persisted state never crashes the
// process.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.LogDebug("Tracked guilds file does not exist, starting empty", zap.String("file", s.path))
			return nil
		}
		return fmt.Errorf("failed to read tracked guilds file: %w", err)
	}

	if strings.TrimSpace(string(data)) == "" {
		logging.LogDebug("Tracked guilds file is empty, starting empty", zap.String("file", s.path))
		return nil
	}

	var raw map[string]*GuildConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		s.quarantineLocked(err)
		return nil
	}

	// JSON null decodes into nil pointers without an unmarshal error.
	// Such shape corruption gets the same quarantine treatment as
	// unparseable bytes; it must never reach the nil-deref below.
	if err := validateShape(raw); err != nil {
		s.quarantineLocked(err)
		return nil
	}

	for guildID, cfg := range raw {
		cfg.GuildID = guildID
		if cfg.UpdateInterval == 0 {
			cfg.UpdateInterval = DefaultUpdateInterval
		}
		if cfg.Tokens == nil {
			cfg.Tokens = make(map[string]*TokenState)
		}
		s.guilds[guildID] = cfg
	}

	logging.LogInfo("Loaded tracked guilds",
		zap.String("file", s.path),
		zap.Int("count", len(s.guilds)))

	return nil
}

// validateShape rejects decoded state carrying nil guild or token
// entries (persisted JSON nulls).
func validateShape(raw map[string]*GuildConfig) error {
	for guildID, cfg := range raw {
		if cfg == nil {
			return fmt.Errorf("guild %s is null", guildID)
		}
		for tokenID, tok := range cfg.Tokens {
			if tok == nil {
				return fmt.Errorf("guild %s token %s is null", guildID, tokenID)
			}
		}
	}
	return nil
}

// quarantineLocked moves a corrupt save file aside so the next save
// starts clean.
func (s *Store) quarantineLocked(cause error) {
	backup := fmt.Sprintf("%s.backup.%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, backup); err != nil {
		logging.LogError("Failed to back up corrupt tracked guilds file",
			zap.String("file", s.path), zap.Error(err))
		return
	}
	logging.LogWarn("Tracked guilds file is corrupt, backed up and starting empty",
		zap.String("file", s.path),
		zap.String("backup", backup),
		zap.Error(cause))
}

// Save writes the whole store: marshal, write a temp sibling, rename
// over the canonical path. The rename guards against partial writes
// on crash mid-save.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(s.guilds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tracked guilds: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary tracked guilds file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file to tracked guilds file: %w", err)
	}

	return nil
}

// persistLocked saves and logs failures without rolling back. The
// in-memory state is the source of truth; the next mutation retries.
func (s *Store) persistLocked() {
	if err := s.saveLocked(); err != nil {
		logging.LogError("Failed to persist tracked guilds", zap.Error(err))
	}
}

// Guild returns a deep copy of one guild config.
func (s *Store) Guild(guildID string) (*GuildConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.guilds[guildID]
	if !ok {
		return nil, false
	}
	return cfg.clone(), true
}

// Guilds returns deep copies of every guild config.
func (s *Store) Guilds() []*GuildConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*GuildConfig, 0, len(s.guilds))
	for _, cfg := range s.guilds {
		out = append(out, cfg.clone())
	}
	return out
}

// Counts reports total and actively tracking guilds.
func (s *Store) Counts() (total, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.guilds {
		total++
		if cfg.IsTracking {
			active++
		}
	}
	return total, active
}

func (s *Store) ensureLocked(guildID string) *GuildConfig {
	cfg, ok := s.guilds[guildID]
	if !ok {
		cfg = NewGuildConfig(guildID)
		s.guilds[guildID] = cfg
	}
	return cfg
}

// AddToken registers a token for the guild (created lazily) and turns
// tracking on.
func (s *Store) AddToken(guildID string, token TokenState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.ensureLocked(guildID)
	tok := token
	cfg.Tokens[token.TokenID] = &tok
	cfg.IsTracking = true

	s.persistLocked()
}

// RemoveTokenBySymbol drops the token matching the display symbol
// (case-insensitive). Removing the last token disables tracking.
func (s *Store) RemoveTokenBySymbol(guildID, symbol string) (*TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("guild %s is not tracking any tokens", guildID)
	}

	for id, tok := range cfg.Tokens {
		if strings.EqualFold(tok.Symbol, symbol) {
			removed := *tok
			delete(cfg.Tokens, id)
			if len(cfg.Tokens) == 0 {
				cfg.IsTracking = false
			}
			s.persistLocked()
			return &removed, nil
		}
	}

	return nil, fmt.Errorf("no tracked token with symbol %s", symbol)
}

// RemoveToken drops a token by id. Used by the scheduler to self-heal
// tokens whose price fetch fails unrecoverably.
func (s *Store) RemoveToken(guildID, tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.guilds[guildID]
	if !ok {
		return
	}
	if _, ok := cfg.Tokens[tokenID]; !ok {
		return
	}
	delete(cfg.Tokens, tokenID)
	if len(cfg.Tokens) == 0 {
		cfg.IsTracking = false
	}

	s.persistLocked()
}

// SetTracking flips the master switch for a guild.
func (s *Store) SetTracking(guildID string, tracking bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.guilds[guildID]
	if !ok {
		return fmt.Errorf("guild %s has no tracking configuration", guildID)
	}
	cfg.IsTracking = tracking

	s.persistLocked()
	return nil
}

// SetInterval stores a new update interval. Bounds are validated at
// the command boundary; the store only rejects nonsense.
func (s *Store) SetInterval(guildID string, seconds int) (old int, err error) {
	if seconds < MinUpdateInterval || seconds > MaxUpdateInterval {
		return 0, fmt.Errorf("update interval must be between %d and %d seconds", MinUpdateInterval, MaxUpdateInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.ensureLocked(guildID)
	old = cfg.UpdateInterval
	cfg.UpdateInterval = seconds

	s.persistLocked()
	return old, nil
}

// Interval reports the guild's update interval, or the default when
// the guild is unknown.
func (s *Store) Interval(guildID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.guilds[guildID]
	if !ok {
		return DefaultUpdateInterval, false
	}
	return cfg.UpdateInterval, true
}

// SetChannels binds the informational config/display channels.
func (s *Store) SetChannels(guildID, configChannelID, displayChannelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.ensureLocked(guildID)
	cfg.ConfigChannelID = configChannelID
	cfg.DisplayChannelID = displayChannelID

	s.persistLocked()
}

// RemoveGuild drops a guild record entirely (bot kicked, or the
// scheduler could not resolve the guild handle).
func (s *Store) RemoveGuild(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guilds[guildID]; !ok {
		return
	}
	delete(s.guilds, guildID)

	s.persistLocked()
}

// UpdateLastPrice records the latest observed price in memory only.
// Per-tick prices are not flushed to disk; persistence happens on
// command-driven mutations.
func (s *Store) UpdateLastPrice(guildID, tokenID string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.guilds[guildID]
	if !ok {
		return
	}
	tok, ok := cfg.Tokens[tokenID]
	if !ok {
		return
	}
	tok.LastPrice = price
}

// SetLastUpdateTime stamps the last successful batch for a guild.
func (s *Store) SetLastUpdateTime(guildID string, ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, ok := s.guilds[guildID]; ok {
		cfg.LastUpdateTime = ts
	}
}

// ResetLastUpdateTime forces the guild to be due on the next pass.
func (s *Store) ResetLastUpdateTime(guildID string) {
	s.SetLastUpdateTime(guildID, 0)
}
