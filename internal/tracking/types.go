package tracking

import "github.com/0xflawless/TickerBot/internal/features/pricing"

const (
	// DefaultUpdateInterval is applied when a guild has no interval
	// persisted (5 minutes).
	DefaultUpdateInterval = 300
	// MinUpdateInterval and MaxUpdateInterval bound /set_interval.
	MinUpdateInterval = 60
	MaxUpdateInterval = 24 * 3600
)

// TokenSource names the price source a token is fetched from.
type TokenSource string

const (
	SourceCoinGecko TokenSource = "coingecko"
	SourceContract  TokenSource = "contract"
)

// TokenState is one tracked token inside a guild. LastPrice is only
// used to derive the trend direction; a fresh token (or a restart
// that lost the file) carries 0 and shows an up-trend on its first
// tick. That quirk is inherited behavior and stays.
type TokenState struct {
	TokenID   string            `json:"token_id"`
	Symbol    string            `json:"symbol"`
	Source    TokenSource       `json:"source"`
	Kind      pricing.PriceKind `json:"kind,omitempty"` // contract tokens only
	LastPrice float64           `json:"last_price"`
}

// GuildConfig is the per-guild tracking configuration. The guild id
// is the map key in the persisted document, not a serialized field.
// LastUpdateTime is in-memory only: it starts at 0 so the first tick
// after startup always runs.
type GuildConfig struct {
	GuildID          string                 `json:"-"`
	IsTracking       bool                   `json:"is_tracking"`
	UpdateInterval   int                    `json:"update_interval"`
	ConfigChannelID  string                 `json:"config_channel_id,omitempty"`
	DisplayChannelID string                 `json:"display_channel_id,omitempty"`
	Tokens           map[string]*TokenState `json:"tokens"`
	LastUpdateTime   int64                  `json:"-"`
}

// NewGuildConfig returns a config with defaults for a guild seen for
// the first time.
func NewGuildConfig(guildID string) *GuildConfig {
	return &GuildConfig{
		GuildID:        guildID,
		IsTracking:     false,
		UpdateInterval: DefaultUpdateInterval,
		Tokens:         make(map[string]*TokenState),
	}
}

// clone returns a deep copy safe to use outside the store lock.
func (g *GuildConfig) clone() *GuildConfig {
	cp := *g
	cp.Tokens = make(map[string]*TokenState, len(g.Tokens))
	for id, tok := range g.Tokens {
		t := *tok
		cp.Tokens[id] = &t
	}
	return &cp
}
