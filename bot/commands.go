package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xflawless/TickerBot/internal/clients_api/coingecko"
	"github.com/0xflawless/TickerBot/internal/clients_api/goldilend"
	"github.com/0xflawless/TickerBot/internal/features/pricing"
	logging "github.com/0xflawless/TickerBot/internal/infra/log"
	"github.com/0xflawless/TickerBot/internal/tracking"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const embedColor = 0x3498db

// interactionTimeout bounds the work done for one slash command.
const interactionTimeout = 30 * time.Second

// CommandHandler wires the slash commands to the store, the scheduler
// and the price clients.
type CommandHandler struct {
	store     *tracking.Store
	scheduler *Scheduler
	coingecko *coingecko.Client
	goldilend *goldilend.Client
}

func NewCommandHandler(store *tracking.Store, scheduler *Scheduler, cg *coingecko.Client, gl *goldilend.Client) *CommandHandler {
	return &CommandHandler{
		store:     store,
		scheduler: scheduler,
		coingecko: cg,
		goldilend: gl,
	}
}

var adminOnly = int64(discordgo.PermissionAdministrator)

// Commands returns the application command definitions to register.
func (h *CommandHandler) Commands() []*discordgo.ApplicationCommand {
	minInterval := float64(tracking.MinUpdateInterval)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "add_token",
			Description:              "Track a CoinGecko token's price in this server",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "token_id",
					Description: "CoinGecko token id, e.g. bitcoin",
					Required:    true,
				},
			},
		},
		{
			Name:                     "track_prg",
			Description:              "Track PRG price from Goldilend smart contracts",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     "track_locks",
			Description:              "Track LOCKS market price from Goldilend smart contracts",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     "remove_token",
			Description:              "Stop tracking a token by its symbol",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "symbol",
					Description: "Token symbol, e.g. BTC",
					Required:    true,
				},
			},
		},
		{
			Name:                     "stop_tracking",
			Description:              "Stop all price tracking in this server",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:                     "set_interval",
			Description:              "Set the price update interval (60 seconds to 24 hours)",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: "Update interval in seconds (60 to 86400)",
					Required:    true,
					MinValue:    &minInterval,
					MaxValue:    float64(tracking.MaxUpdateInterval),
				},
			},
		},
		{
			Name:        "get_interval",
			Description: "Show the current price update interval",
		},
		{
			Name:                     "force_update",
			Description:              "Force an immediate price update",
			DefaultMemberPermissions: &adminOnly,
		},
		{
			Name:        "status",
			Description: "Check bot status and price source health",
		},
		{
			Name:                     "setup",
			Description:              "Setup bot configuration and display channels",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "config_channel",
					Description: "Channel for bot configuration commands",
					Required:    true,
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "display_channel",
					Description: "Channel where price updates will be shown",
					Required:    true,
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
				},
			},
		},
	}
}

// Register installs the gateway handlers and overwrites the global
// application commands.
func (h *CommandHandler) Register(session *discordgo.Session) error {
	session.AddHandler(h.onInteraction)
	session.AddHandler(h.onGuildRemove)

	_, err := session.ApplicationCommandBulkOverwrite(session.State.User.ID, "", h.Commands())
	if err != nil {
		return fmt.Errorf("failed to register application commands: %w", err)
	}
	return nil
}

func (h *CommandHandler) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	logging.LogDebug("Slash command received",
		zap.String("command", name),
		zap.String("guild_id", i.GuildID))

	if i.GuildID == "" {
		respond(s, i, "This command can only be used in a server.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	switch name {
	case "add_token":
		h.handleAddToken(ctx, s, i)
	case "track_prg":
		h.handleTrackContract(ctx, s, i, "prg", "PRG", pricing.PriceKindPremium)
	case "track_locks":
		h.handleTrackContract(ctx, s, i, "locks", "LOCKS", pricing.PriceKindMarket)
	case "remove_token":
		h.handleRemoveToken(s, i)
	case "stop_tracking":
		h.handleStopTracking(s, i)
	case "set_interval":
		h.handleSetInterval(s, i)
	case "get_interval":
		h.handleGetInterval(s, i)
	case "force_update":
		h.handleForceUpdate(ctx, s, i)
	case "status":
		h.handleStatus(ctx, s, i)
	case "setup":
		h.handleSetup(s, i)
	}
}

// onGuildRemove drops the tracking record when the bot leaves a guild.
// Outage-driven unavailability is not a removal.
func (h *CommandHandler) onGuildRemove(_ *discordgo.Session, e *discordgo.GuildDelete) {
	if e.Guild != nil && e.Guild.Unavailable {
		return
	}
	if _, ok := h.store.Guild(e.ID); !ok {
		return
	}
	h.store.RemoveGuild(e.ID)
	logging.LogInfo("Cleaned up tracking for removed guild", zap.String("guild_id", e.ID))
}

func (h *CommandHandler) handleAddToken(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferResponse(s, i)

	tokenID := stringOption(i, "token_id")
	if tokenID == "" {
		followUp(s, i, "❌ A CoinGecko token id is required, e.g. `bitcoin`.")
		return
	}

	symbol, found, err := h.coingecko.VerifyToken(ctx, tokenID)
	if err != nil {
		logging.LogError("Token verification failed",
			zap.String("token_id", tokenID), zap.Error(err))
		followUp(s, i, "❌ Could not reach CoinGecko to verify the token. Try again later.")
		return
	}
	if !found {
		followUp(s, i, fmt.Sprintf("❌ Token `%s` was not found on CoinGecko.", tokenID))
		return
	}

	price, err := h.coingecko.SimplePrice(ctx, tokenID)
	if err != nil {
		logging.LogWarn("Initial price fetch failed",
			zap.String("token_id", tokenID), zap.Error(err))
		price = 0
	}

	h.store.AddToken(i.GuildID, tracking.TokenState{
		TokenID:   tokenID,
		Symbol:    symbol,
		Source:    tracking.SourceCoinGecko,
		LastPrice: price,
	})

	interval, _ := h.store.Interval(i.GuildID)
	embed := &discordgo.MessageEmbed{
		Title: "✅ Token Added",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Token", Value: fmt.Sprintf("%s (`%s`)", symbol, tokenID), Inline: true},
			{Name: "Current Price", Value: fmt.Sprintf("$%.6f", price), Inline: true},
			{Name: "Update Interval", Value: HumanReadableTime(interval), Inline: true},
		},
	}
	followUpEmbed(s, i, embed)
}

func (h *CommandHandler) handleTrackContract(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, tokenID, symbol string, kind pricing.PriceKind) {
	deferResponse(s, i)

	if h.goldilend == nil {
		followUp(s, i, "❌ Contract price tracking is not configured on this bot.")
		return
	}

	h.store.AddToken(i.GuildID, tracking.TokenState{
		TokenID: tokenID,
		Symbol:  symbol,
		Source:  tracking.SourceContract,
		Kind:    kind,
	})

	data, err := h.goldilend.FetchPriceData(ctx)
	if err != nil {
		logging.LogWarn("Initial contract fetch failed", zap.Error(err))
		followUp(s, i, fmt.Sprintf(
			"⚠️ %s tracking started, but the initial contract read failed.\nThe bot will retry in the next update cycle.", symbol))
		return
	}

	interval, _ := h.store.Interval(i.GuildID)
	followUp(s, i, fmt.Sprintf(
		"✅ Successfully started %s tracking from Goldilend smart contracts!\n"+
			"Current %s price: $%.6f\n"+
			"Market price: $%.6f\n"+
			"Floor price: $%.6f\n"+
			"The bot will update prices every %s.",
		symbol, symbol, data.Price(kind), data.MarketPrice, data.FloorPrice,
		HumanReadableTime(interval)))
}

func (h *CommandHandler) handleRemoveToken(s *discordgo.Session, i *discordgo.InteractionCreate) {
	symbol := stringOption(i, "symbol")
	removed, err := h.store.RemoveTokenBySymbol(i.GuildID, symbol)
	if err != nil {
		respond(s, i, fmt.Sprintf("❌ `%s` is not being tracked in this server.", symbol))
		return
	}

	reply := fmt.Sprintf("✅ Stopped tracking %s.", removed.Symbol)
	if cfg, ok := h.store.Guild(i.GuildID); ok && !cfg.IsTracking {
		reply += "\nThat was the last token, so price tracking is now off."
	}
	respond(s, i, reply)
}

func (h *CommandHandler) handleStopTracking(s *discordgo.Session, i *discordgo.InteractionCreate) {
	cfg, ok := h.store.Guild(i.GuildID)
	if !ok || !cfg.IsTracking {
		respond(s, i, "❌ No prices are being tracked in this server.")
		return
	}

	if err := h.store.SetTracking(i.GuildID, false); err != nil {
		respond(s, i, "❌ No prices are being tracked in this server.")
		return
	}
	respond(s, i, "✅ Stopped price tracking.")
}

func (h *CommandHandler) handleSetInterval(s *discordgo.Session, i *discordgo.InteractionCreate) {
	seconds := intOption(i, "seconds")
	if seconds < tracking.MinUpdateInterval || seconds > tracking.MaxUpdateInterval {
		respond(s, i, fmt.Sprintf(
			"❌ Update interval must be between %d seconds and 24 hours (%d seconds).",
			tracking.MinUpdateInterval, tracking.MaxUpdateInterval))
		return
	}

	old, err := h.store.SetInterval(i.GuildID, seconds)
	if err != nil {
		respond(s, i, "❌ Could not change the update interval.")
		return
	}

	respond(s, i, fmt.Sprintf("✅ Update interval changed from %s to %s",
		HumanReadableTime(old), HumanReadableTime(seconds)))
}

func (h *CommandHandler) handleGetInterval(s *discordgo.Session, i *discordgo.InteractionCreate) {
	interval, ok := h.store.Interval(i.GuildID)
	if !ok {
		respond(s, i, "No tokens are being tracked in this server yet.")
		return
	}
	respond(s, i, fmt.Sprintf("Current update interval: %s", HumanReadableTime(interval)))
}

func (h *CommandHandler) handleForceUpdate(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferResponse(s, i)

	if err := h.scheduler.ForceUpdate(ctx, i.GuildID); err != nil {
		if errors.Is(err, ErrUpdateInProgress) {
			followUp(s, i, "⚠️ An update is already running for this server. Try again in a moment.")
			return
		}
		followUp(s, i, "❌ No prices are being tracked in this server.")
		return
	}
	followUp(s, i, "✅ Forced price update completed!")
}

func (h *CommandHandler) handleStatus(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferResponse(s, i)

	embed := &discordgo.MessageEmbed{
		Title: "Price Bot Status",
		Color: embedColor,
	}

	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "CoinGecko API",
		Value:  h.coingeckoHealth(ctx),
		Inline: true,
	})
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:   "Goldilend Contracts",
		Value:  h.contractHealth(ctx),
		Inline: true,
	})

	var settings string
	if cfg, ok := h.store.Guild(i.GuildID); ok {
		state := "❌ Inactive"
		if cfg.IsTracking {
			state = "✅ Active"
		}
		settings = fmt.Sprintf("Update Interval: %s\nTracking: %s\nTokens: %d",
			HumanReadableTime(cfg.UpdateInterval), state, len(cfg.Tokens))
	} else {
		settings = fmt.Sprintf("Update Interval: %s (default)\nTracking: ❌ Not configured",
			HumanReadableTime(tracking.DefaultUpdateInterval))
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:  "Server Settings",
		Value: settings,
	})

	total, active := h.store.Counts()
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:  "Global Statistics",
		Value: fmt.Sprintf("Total Servers: %d\nActive Tracking: %d", total, active),
	})

	followUpEmbed(s, i, embed)
}

func (h *CommandHandler) coingeckoHealth(ctx context.Context) string {
	if h.coingecko == nil {
		return "❌ Not configured"
	}
	price, err := h.coingecko.SimplePrice(ctx, "bitcoin")
	if err != nil {
		return "❌ Not responding"
	}
	return fmt.Sprintf("✅ Operational\nBTC Price: $%.2f", price)
}

func (h *CommandHandler) contractHealth(ctx context.Context) string {
	if h.goldilend == nil {
		return "❌ Not configured"
	}
	data, err := h.goldilend.FetchPriceData(ctx)
	if err != nil {
		return "❌ Not responding"
	}
	return fmt.Sprintf("✅ Operational\nLOCKS Price: $%.6f", data.MarketPrice)
}

func (h *CommandHandler) handleSetup(s *discordgo.Session, i *discordgo.InteractionCreate) {
	deferResponse(s, i)

	configChannel := channelOption(i, "config_channel")
	displayChannel := channelOption(i, "display_channel")
	if configChannel == "" || displayChannel == "" {
		followUp(s, i, "❌ Both a config channel and a display channel are required.")
		return
	}

	h.store.SetChannels(i.GuildID, configChannel, displayChannel)

	embed := &discordgo.MessageEmbed{
		Title:       "🔧 Bot Setup",
		Description: "Configure the bot by using these commands:",
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "1️⃣ Track a Token",
				Value: "`/add_token [token_id]` - Track any CoinGecko token\n`/track_prg` or `/track_locks` - Track Goldilend contract prices",
			},
			{
				Name:  "2️⃣ Set Update Interval",
				Value: "`/set_interval [seconds]` - Set how often prices update\nExample: `/set_interval 300` for 5 minutes",
			},
			{
				Name:  "📊 Display Channel",
				Value: fmt.Sprintf("Price updates will be shown in <#%s>", displayChannel),
			},
			{
				Name:  "⚙️ Config Channel",
				Value: fmt.Sprintf("Use commands in <#%s>", configChannel),
			},
			{
				Name: "Other Commands",
				Value: "`/status` - Check bot status\n" +
					"`/remove_token [symbol]` - Stop tracking one token\n" +
					"`/stop_tracking` - Stop all tracking\n" +
					"`/force_update` - Force immediate update",
			},
		},
	}

	if _, err := s.ChannelMessageSendEmbed(configChannel, embed); err != nil {
		logging.LogError("Failed to send setup message",
			zap.String("channel_id", configChannel), zap.Error(err))
		followUp(s, i, "❌ Error: Make sure the bot has permission to send messages in the configured channels.")
		return
	}

	followUp(s, i, fmt.Sprintf("✅ Setup complete! Check <#%s> for configuration instructions.", configChannel))
}

// Interaction helpers.

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		logging.LogWarn("Failed to respond to interaction", zap.Error(err))
	}
}

func deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		logging.LogWarn("Failed to defer interaction", zap.Error(err))
	}
}

func followUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: content})
	if err != nil {
		logging.LogWarn("Failed to send follow-up", zap.Error(err))
	}
}

func followUpEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		logging.LogWarn("Failed to send follow-up embed", zap.Error(err))
	}
}

func stringOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func intOption(i *discordgo.InteractionCreate, name string) int {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionInteger {
			return int(opt.IntValue())
		}
	}
	return 0
}

func channelOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionChannel {
			if id, ok := opt.Value.(string); ok {
				return id
			}
		}
	}
	return ""
}
