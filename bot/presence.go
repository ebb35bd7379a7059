package bot

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// ErrGuildNotFound is returned by a PresenceSink when the guild handle
// cannot be resolved anymore (bot kicked, guild deleted). The
// scheduler prunes such guilds from tracking.
var ErrGuildNotFound = errors.New("guild not found")

// PresenceSink is the externally visible identity of the bot: a
// per-guild display name (Discord caps it at 32 characters) and one
// global watching-status line.
type PresenceSink interface {
	SetGuildNickname(guildID, nick string) error
	SetGlobalStatus(status string) error
}

// DiscordPresence implements PresenceSink over a gateway session.
type DiscordPresence struct {
	session *discordgo.Session
}

func NewDiscordPresence(session *discordgo.Session) *DiscordPresence {
	return &DiscordPresence{session: session}
}

func (p *DiscordPresence) SetGuildNickname(guildID, nick string) error {
	err := p.session.GuildMemberNickname(guildID, "@me", nick)
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownGuild, discordgo.ErrCodeUnknownMember:
			return fmt.Errorf("guild %s: %w", guildID, ErrGuildNotFound)
		}
	}

	return fmt.Errorf("failed to set nickname in guild %s: %w", guildID, err)
}

func (p *DiscordPresence) SetGlobalStatus(status string) error {
	return p.session.UpdateWatchStatus(0, status)
}
