package commands

// Command to run the Discord bot
// Initializes configuration, the Discord session and the price clients
// Starts the update scheduler and implements graceful shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/0xflawless/TickerBot/bot"
	"github.com/0xflawless/TickerBot/internal/clients_api/coingecko"
	"github.com/0xflawless/TickerBot/internal/clients_api/goldilend"
	"github.com/0xflawless/TickerBot/internal/infra/config"
	logging "github.com/0xflawless/TickerBot/internal/infra/log"
	"github.com/0xflawless/TickerBot/internal/infra/ratelimit"
	"github.com/0xflawless/TickerBot/internal/tracking"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Discord price bot",
	Long:  `Run the Discord bot: slash commands, periodic price updates from CoinGecko and the Goldilend contracts, nickname and status pushes.`,
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.LogError("Failed to load config", zap.Error(err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := tracking.NewStore(cfg.App.DataDir)
	if err := store.Load(); err != nil {
		logging.LogError("Failed to load tracking state", zap.Error(err))
		return fmt.Errorf("failed to load tracking state: %w", err)
	}
	total, active := store.Counts()
	logging.LogInfo("Tracking state loaded",
		zap.Int("guilds", total),
		zap.Int("active", active))

	limiter := ratelimit.NewWindow(cfg.CoinGecko.RateLimit,
		time.Duration(cfg.CoinGecko.RateWindowSecs)*time.Second)
	cgClient := coingecko.NewClient(coingecko.Options{
		BaseURL:        cfg.CoinGecko.BaseURL,
		RequestTimeout: time.Duration(cfg.CoinGecko.RequestTimeout) * time.Second,
		MaxRetries:     cfg.CoinGecko.MaxRetries,
		RetryDelay:     time.Duration(cfg.CoinGecko.RetryDelay) * time.Second,
	}, limiter)

	sources := bot.SourceSet{CoinGecko: bot.NewCoinGeckoSource(cgClient)}

	var glClient *goldilend.Client
	if cfg.Berachain.RPCURL != "" {
		glClient, err = goldilend.Dial(goldilend.Options{
			RPCURL:             cfg.Berachain.RPCURL,
			RequestTimeout:     time.Duration(cfg.Berachain.RequestTimeout) * time.Second,
			GoldiswapAddress:   cfg.Berachain.GoldiswapAddress,
			GoldilockedAddress: cfg.Berachain.GoldilockedAddress,
			TreasuryAddress:    cfg.Berachain.TreasuryAddress,
		})
		if err != nil {
			logging.LogError("Failed to connect to Berachain RPC", zap.Error(err))
			return fmt.Errorf("failed to connect to Berachain RPC: %w", err)
		}
		defer glClient.Close()
		sources.Contract = bot.NewContractSource(glClient)
		logging.LogSuccess("Berachain RPC connected", zap.String("url", cfg.Berachain.RPCURL))
	} else {
		logging.LogWarn("BERACHAIN_RPC_URL not provided, contract price tracking disabled")
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logging.LogError("Failed to create Discord session", zap.Error(err))
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		logging.LogError("Failed to open Discord connection", zap.Error(err))
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	defer session.Close()
	logging.LogSuccess("Discord connected", zap.String("username", session.State.User.Username))

	scheduler := bot.NewScheduler(store, sources, bot.NewDiscordPresence(session),
		time.Duration(cfg.App.TickInterval)*time.Second)

	handler := bot.NewCommandHandler(store, scheduler, cgClient, glClient)
	if err := handler.Register(session); err != nil {
		logging.LogError("Failed to register slash commands", zap.Error(err))
		return err
	}
	logging.LogSuccess("Slash commands registered")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	logging.LogSuccess("Bot is running", zap.String("status", "active"))

	<-ctx.Done()
	logging.LogInfo("Shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.LogSuccess("Scheduler stopped gracefully")
	case <-time.After(10 * time.Second):
		logging.LogWarn("Timeout waiting for scheduler to stop, forcing shutdown")
	}

	// Final flush so in-memory state survives the restart.
	if err := store.Save(); err != nil {
		logging.LogError("Failed to save tracking state on shutdown", zap.Error(err))
	}

	return nil
}
