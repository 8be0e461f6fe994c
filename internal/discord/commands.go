package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	logx "trackbot/pkg/logx"
)

func categoryChoices() []*discordgo.ApplicationCommandOptionChoice {
	return []*discordgo.ApplicationCommandOptionChoice{
		{Name: "times", Value: "times"},
		{Name: "ranks", Value: "ranks"},
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	minRankMin := 1.0
	// Guild configuration commands require Manage Server; owner-only
	// commands are gated in their handlers instead.
	adminPerms := int64(discordgo.PermissionManageServer)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "register",
			Description: "Track a Trackmania account for a server member",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "account_id",
					Description: "Trackmania account id (UUID)",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to bind (defaults to you)",
				},
			},
		},
		{
			Name:        "unregister",
			Description: "Stop tracking a server member",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to unbind (defaults to you)",
				},
			},
		},
		{
			Name:        "list",
			Description: "List tracked players in this server",
		},
		{
			Name:                     "channel",
			Description:              "Set the announcement channel for a category",
			DefaultMemberPermissions: &adminPerms,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Announcement category",
					Required:    true,
					Choices:     categoryChoices(),
				},
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "target",
					Description:  "Channel to announce in",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
			},
		},
		{
			Name:                     "threshold",
			Description:              "Set the worst world rank still announced here",
			DefaultMemberPermissions: &adminPerms,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "min_rank",
					Description: "Announce ranks at or above this position",
					Required:    true,
					MinValue:    &minRankMin,
				},
			},
		},
		{
			Name:                     "toggle",
			Description:              "Enable or disable an announcement category",
			DefaultMemberPermissions: &adminPerms,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Announcement category",
					Required:    true,
					Choices:     categoryChoices(),
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Whether announcements are sent",
					Required:    true,
				},
			},
		},
		{
			Name:        "poll",
			Description: "Run a poll cycle now (bot owners only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Cycle to run",
					Required:    true,
					Choices:     categoryChoices(),
				},
			},
		},
		{
			Name:        "interval",
			Description: "Change a poll interval (bot owners only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Cycle to reschedule",
					Required:    true,
					Choices:     categoryChoices(),
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minutes",
					Description: "Minutes between cycles",
					Required:    true,
					MinValue:    &minRankMin,
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	defs := commandDefinitions()
	registered := make([]*discordgo.ApplicationCommand, 0, len(defs))
	for _, def := range defs {
		cmd, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", def)
		if err != nil {
			return fmt.Errorf("registering %q: %w", def.Name, err)
		}
		registered = append(registered, cmd)
	}
	b.registered = registered
	b.log.Info("slash commands registered", logx.Int("count", len(registered)))
	return nil
}
