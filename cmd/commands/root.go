package commands

// Root command for Cobra CLI
// Defines the main command structure of the application
// Registers the bot subcommand

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tickerbot",
	Short: "TickerBot - Discord bot reflecting token prices in server nicknames",
	Long: `TickerBot is a Discord bot that tracks token prices from CoinGecko and
Goldilend smart contracts on Berachain, showing them in the bot's per-server
nickname and global watching status.`,
	Version: "1.0.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(botCmd)
}
