package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xflawless/TickerBot/internal/clients_api/coingecko"
	"github.com/0xflawless/TickerBot/internal/clients_api/goldilend"
	"github.com/0xflawless/TickerBot/internal/features/pricing"
	"github.com/0xflawless/TickerBot/internal/tracking"
)

// ErrTokenGone marks a token id the price source no longer knows.
// Unlike a transient outage, this is unrecoverable and the scheduler
// removes the token from tracking.
var ErrTokenGone = errors.New("token no longer known to price source")

// Quote is one price observation.
type Quote struct {
	Price     float64
	Change24h *float64 // nil when the source has no 24h data
}

// PriceSource fetches a quote for one tracked token.
type PriceSource interface {
	Quote(ctx context.Context, token tracking.TokenState) (Quote, error)
}

// SourceSet resolves a token's configured source to an implementation.
type SourceSet struct {
	CoinGecko PriceSource
	Contract  PriceSource
}

func (s SourceSet) For(source tracking.TokenSource) (PriceSource, bool) {
	switch source {
	case tracking.SourceCoinGecko:
		return s.CoinGecko, s.CoinGecko != nil
	case tracking.SourceContract:
		return s.Contract, s.Contract != nil
	default:
		return nil, false
	}
}

// CoinGeckoSource adapts the HTTP price client.
type CoinGeckoSource struct {
	client *coingecko.Client
}

func NewCoinGeckoSource(client *coingecko.Client) *CoinGeckoSource {
	return &CoinGeckoSource{client: client}
}

func (s *CoinGeckoSource) Quote(ctx context.Context, token tracking.TokenState) (Quote, error) {
	price, change, err := s.client.SimplePriceWithChange(ctx, token.TokenID)
	if err != nil {
		if coingecko.IsNotFound(err) {
			return Quote{}, fmt.Errorf("%s: %w", token.TokenID, ErrTokenGone)
		}
		return Quote{}, err
	}
	// change stays nil when the API omits the 24h figure, so the
	// status falls back instead of reporting a fake +0.0%.
	return Quote{Price: price, Change24h: change}, nil
}

// ContractSource adapts the Goldilend contract client. Contract reads
// carry no 24h change.
type ContractSource struct {
	client *goldilend.Client
}

func NewContractSource(client *goldilend.Client) *ContractSource {
	return &ContractSource{client: client}
}

func (s *ContractSource) Quote(ctx context.Context, token tracking.TokenState) (Quote, error) {
	data, err := s.client.FetchPriceData(ctx)
	if err != nil {
		return Quote{}, err
	}

	kind := token.Kind
	if kind == "" {
		kind = pricing.PriceKindPremium
	}

	return Quote{Price: data.Price(kind)}, nil
}
