package goldilend

// Package goldilend reads the Goldilend bonding-curve contracts on
// Berachain. Two read-only views: Goldiswap exposes fsl(), psl() and
// totalSupply(); Goldilocked exposes totalSupply() and
// balanceOf(treasury). All values are base-unit integers scaled by
// 10^18. Any single call failing makes the whole fetch fail - there
// are no partial results.

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/0xflawless/TickerBot/internal/features/pricing"
	"github.com/0xflawless/TickerBot/internal/infra/log"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default contract addresses for the Goldilend deployment.
const (
	DefaultGoldiswapAddress   = "0xb7E448E5677D212B8C8Da7D6312E8Afc49800466"
	DefaultGoldilockedAddress = "0xbf2E152f460090aCE91A456e3deE5ACf703f27aD"
	DefaultTreasuryAddress    = "0x895614c89beC7D11454312f740854d08CbF57A78"
)

// Options configures the contract client.
type Options struct {
	RPCURL             string
	RequestTimeout     time.Duration // per-fetch bound, default 10s
	GoldiswapAddress   string
	GoldilockedAddress string
	TreasuryAddress    string
}

// Client reads prices from the Goldilend contracts.
type Client struct {
	eth         *ethclient.Client
	timeout     time.Duration
	rateLimiter *rate.Limiter

	goldiswap   common.Address
	goldilocked common.Address
	treasury    common.Address
}

// Method selectors for the read-only views.
var (
	selectorFSL         = crypto.Keccak256([]byte("fsl()"))[:4]
	selectorPSL         = crypto.Keccak256([]byte("psl()"))[:4]
	selectorTotalSupply = crypto.Keccak256([]byte("totalSupply()"))[:4]
	selectorBalanceOf   = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

// Dial connects to the RPC endpoint and returns a ready client.
func Dial(opts Options) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	goldiswap := opts.GoldiswapAddress
	if goldiswap == "" {
		goldiswap = DefaultGoldiswapAddress
	}
	goldilocked := opts.GoldilockedAddress
	if goldilocked == "" {
		goldilocked = DefaultGoldilockedAddress
	}
	treasury := opts.TreasuryAddress
	if treasury == "" {
		treasury = DefaultTreasuryAddress
	}

	eth, err := ethclient.Dial(opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}

	return &Client{
		eth:         eth,
		timeout:     timeout,
		rateLimiter: rate.NewLimiter(rate.Limit(10), 20),
		goldiswap:   common.HexToAddress(goldiswap),
		goldilocked: common.HexToAddress(goldilocked),
		treasury:    common.HexToAddress(treasury),
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// PriceData is one complete contract read, converted to decimal
// units.
type PriceData struct {
	MarketPrice       float64
	FloorPrice        float64
	CirculatingSupply float64
	FSL               float64
	PSL               float64
	Supply            float64
}

// Price derives the displayed token price for the given kind.
func (d *PriceData) Price(kind pricing.PriceKind) float64 {
	if kind == pricing.PriceKindPremium {
		return d.MarketPrice - d.FloorPrice
	}
	return d.MarketPrice
}

// FetchPriceData reads the five contract values and computes the
// bonding-curve prices. The whole fetch is bounded by the configured
// timeout.
func (c *Client) FetchPriceData(ctx context.Context) (*PriceData, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	startTime := time.Now()

	fsl, err := c.callUint256(ctx, c.goldiswap, selectorFSL)
	if err != nil {
		return nil, fmt.Errorf("failed to read fsl: %w", err)
	}
	psl, err := c.callUint256(ctx, c.goldiswap, selectorPSL)
	if err != nil {
		return nil, fmt.Errorf("failed to read psl: %w", err)
	}
	supply, err := c.callUint256(ctx, c.goldiswap, selectorTotalSupply)
	if err != nil {
		return nil, fmt.Errorf("failed to read goldiswap totalSupply: %w", err)
	}
	lockedSupply, err := c.callUint256(ctx, c.goldilocked, selectorTotalSupply)
	if err != nil {
		return nil, fmt.Errorf("failed to read goldilocked totalSupply: %w", err)
	}
	treasuryBalance, err := c.callUint256(ctx, c.goldilocked, balanceOfCallData(c.treasury))
	if err != nil {
		return nil, fmt.Errorf("failed to read treasury balance: %w", err)
	}

	fslF := weiToFloat(fsl)
	pslF := weiToFloat(psl)
	supplyF := weiToFloat(supply)
	circulating := weiToFloat(new(big.Int).Sub(lockedSupply, treasuryBalance))

	data := &PriceData{
		MarketPrice:       pricing.MarketPrice(fslF, pslF, supplyF),
		FloorPrice:        pricing.FloorPrice(fslF, supplyF),
		CirculatingSupply: circulating,
		FSL:               fslF,
		PSL:               pslF,
		Supply:            supplyF,
	}

	log.LogDebug("Contract price data fetched",
		zap.Float64("fsl", fslF),
		zap.Float64("psl", pslF),
		zap.Float64("supply", supplyF),
		zap.Float64("market", data.MarketPrice),
		zap.Float64("floor", data.FloorPrice),
		zap.Int64("duration_ms", time.Since(startTime).Milliseconds()))

	return data, nil
}

// callUint256 performs a read-only eth_call and decodes a single
// uint256 return value.
func (c *Client) callUint256(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}
	result, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("eth call failed: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("eth call returned empty result for %s", to.Hex())
	}

	return new(big.Int).SetBytes(result), nil
}

func balanceOfCallData(account common.Address) []byte {
	return append(append([]byte{}, selectorBalanceOf...), common.LeftPadBytes(account.Bytes(), 32)...)
}

// weiToFloat converts an 18-decimals base-unit integer to a float64.
func weiToFloat(x *big.Int) float64 {
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	value := new(big.Float).Quo(new(big.Float).SetInt(x), divisor)
	f, _ := value.Float64()
	return f
}
