package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all bot settings.
type Config struct {
	Discord   DiscordConfig   `mapstructure:"discord"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Berachain BerachainConfig `mapstructure:"berachain"`
	App       AppConfig       `mapstructure:"app"`
}

type DiscordConfig struct {
	Token string `mapstructure:"token"`
}

// CoinGeckoConfig - settings for the public price API
type CoinGeckoConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	RequestTimeout int    `mapstructure:"request_timeout"` // seconds
	MaxRetries     int    `mapstructure:"max_retries"`
	RetryDelay     int    `mapstructure:"retry_delay"`      // seconds between attempts
	RateLimit      int    `mapstructure:"rate_limit"`       // requests per window
	RateWindowSecs int    `mapstructure:"rate_window_secs"` // window length
}

// BerachainConfig - settings for on-chain contract reads
type BerachainConfig struct {
	RPCURL             string `mapstructure:"rpc_url"`
	RequestTimeout     int    `mapstructure:"request_timeout"` // seconds
	GoldiswapAddress   string `mapstructure:"goldiswap_address"`
	GoldilockedAddress string `mapstructure:"goldilocked_address"`
	TreasuryAddress    string `mapstructure:"treasury_address"`
}

// AppConfig - scheduler and storage settings
type AppConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	TickInterval int    `mapstructure:"tick_interval"` // scheduler tick in seconds
	Debug        bool   `mapstructure:"debug"`
}

// LoadConfig merges settings from defaults, config.yaml, .env, environment and flags.
// Priority (lowest to highest):
// 1. defaults
// 2. config.yaml
// 3. .env file
// 4. environment
// 5. flags
func LoadConfig() (*Config, error) {
	godotenv.Load(".env")

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.ReadInConfig() // missing file is fine

	v.SetConfigType("env")
	v.SetConfigFile(".env")
	v.ReadInConfig() // missing file is fine

	v.AutomaticEnv()

	setupEnvAliases(v)

	setupFlags(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setupEnvAliases(v *viper.Viper) {
	// DISCORD_TOKEN -> discord.token etc.
	v.BindEnv("discord.token", "DISCORD_TOKEN")

	v.BindEnv("coingecko.base_url", "COINGECKO_BASE_URL")
	v.BindEnv("coingecko.request_timeout", "COINGECKO_REQUEST_TIMEOUT")
	v.BindEnv("coingecko.max_retries", "COINGECKO_MAX_RETRIES")
	v.BindEnv("coingecko.retry_delay", "COINGECKO_RETRY_DELAY")
	v.BindEnv("coingecko.rate_limit", "COINGECKO_RATE_LIMIT")
	v.BindEnv("coingecko.rate_window_secs", "COINGECKO_RATE_WINDOW_SECS")

	v.BindEnv("berachain.rpc_url", "BERACHAIN_RPC_URL")
	v.BindEnv("berachain.request_timeout", "BERACHAIN_REQUEST_TIMEOUT")
	v.BindEnv("berachain.goldiswap_address", "GOLDISWAP_ADDRESS")
	v.BindEnv("berachain.goldilocked_address", "GOLDILOCKED_ADDRESS")
	v.BindEnv("berachain.treasury_address", "TREASURY_ADDRESS")

	v.BindEnv("app.data_dir", "TICKER_DATA_DIR")
	v.BindEnv("app.tick_interval", "TICKER_TICK_INTERVAL")
	v.BindEnv("app.debug", "DEBUG")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.request_timeout", 10)
	v.SetDefault("coingecko.max_retries", 2) // 3 total attempts
	v.SetDefault("coingecko.retry_delay", 5)
	v.SetDefault("coingecko.rate_limit", 50)
	v.SetDefault("coingecko.rate_window_secs", 60)

	v.SetDefault("berachain.rpc_url", "https://rpc.berachain.com/")
	v.SetDefault("berachain.request_timeout", 10)
	// Goldilend contract addresses
	v.SetDefault("berachain.goldiswap_address", "0xb7E448E5677D212B8C8Da7D6312E8Afc49800466")
	v.SetDefault("berachain.goldilocked_address", "0xbf2E152f460090aCE91A456e3deE5ACf703f27aD")
	v.SetDefault("berachain.treasury_address", "0x895614c89beC7D11454312f740854d08CbF57A78")

	v.SetDefault("app.data_dir", "data")
	v.SetDefault("app.tick_interval", 60)
	v.SetDefault("app.debug", false)
}

func setupFlags(v *viper.Viper) {
	pflag.String("discord.token", "", "Discord bot token (env: DISCORD_TOKEN)")

	pflag.String("coingecko.base_url", "https://api.coingecko.com/api/v3", "CoinGecko API base URL (env: COINGECKO_BASE_URL)")
	pflag.Int("coingecko.request_timeout", 10, "CoinGecko request timeout in seconds (env: COINGECKO_REQUEST_TIMEOUT)")
	pflag.Int("coingecko.max_retries", 2, "Max retries for failed price requests (env: COINGECKO_MAX_RETRIES)")
	pflag.Int("coingecko.retry_delay", 5, "Delay between retries in seconds (env: COINGECKO_RETRY_DELAY)")
	pflag.Int("coingecko.rate_limit", 50, "Requests allowed per rate window (env: COINGECKO_RATE_LIMIT)")
	pflag.Int("coingecko.rate_window_secs", 60, "Rate window length in seconds (env: COINGECKO_RATE_WINDOW_SECS)")

	pflag.String("berachain.rpc_url", "https://rpc.berachain.com/", "Berachain RPC endpoint (env: BERACHAIN_RPC_URL)")
	pflag.Int("berachain.request_timeout", 10, "Contract read timeout in seconds (env: BERACHAIN_REQUEST_TIMEOUT)")
	pflag.String("berachain.goldiswap_address", "", "Goldiswap contract address (env: GOLDISWAP_ADDRESS)")
	pflag.String("berachain.goldilocked_address", "", "Goldilocked contract address (env: GOLDILOCKED_ADDRESS)")
	pflag.String("berachain.treasury_address", "", "Treasury address (env: TREASURY_ADDRESS)")

	pflag.String("app.data_dir", "data", "Data directory for persisted tracking state (env: TICKER_DATA_DIR)")
	pflag.Int("app.tick_interval", 60, "Scheduler tick interval in seconds (env: TICKER_TICK_INTERVAL)")
	pflag.Bool("app.debug", false, "Enable debug logging (env: DEBUG)")

	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)
}

func validateConfig(cfg *Config) error {
	if cfg.Discord.Token == "" {
		return fmt.Errorf("discord bot token is required: discord.token (env: DISCORD_TOKEN)")
	}

	if cfg.App.TickInterval <= 0 {
		return fmt.Errorf("app.tick_interval must be positive, got %d", cfg.App.TickInterval)
	}

	return nil
}
