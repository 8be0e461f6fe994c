package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"trackbot/internal/announce"
	"trackbot/internal/poller"
	"trackbot/internal/store"
	"trackbot/internal/taskqueue"
	logx "trackbot/pkg/logx"
)

const busyReply = "The bot is busy right now, please try again in a moment."

// handleInteraction acknowledges immediately, then runs the actual work on
// the commands queue so gateway callbacks never block on storage or upstream
// calls. A full queue turns into a visible "try again" instead of silence.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if i.GuildID == "" || i.Member == nil {
		b.respond(i, "This command only works inside a server.")
		return
	}

	handler, ok := b.commandHandler(data.Name)
	if !ok {
		b.log.Warn("unknown command", logx.String("command", data.Name))
		b.respond(i, "Unknown command.")
		return
	}

	if err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		b.log.Warn("deferring interaction", logx.Err(err), logx.String("command", data.Name))
		return
	}

	_, err := b.commands.Submit(func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		reply, err := handler(ctx, i)
		if err != nil {
			b.log.Warn("command failed", logx.Err(err),
				logx.String("command", data.Name), logx.String("guild", i.GuildID))
			if reply == "" {
				reply = "Something went wrong, please try again."
			}
		}
		b.edit(i, reply)
		return nil, nil
	})
	if errors.Is(err, taskqueue.ErrQueueFull) {
		b.edit(i, busyReply)
	} else if err != nil {
		b.log.Warn("command submit failed", logx.Err(err), logx.String("command", data.Name))
		b.edit(i, "Something went wrong, please try again.")
	}
}

type handlerFunc func(ctx context.Context, i *discordgo.InteractionCreate) (string, error)

func (b *Bot) commandHandler(name string) (handlerFunc, bool) {
	switch name {
	case "register":
		return b.handleRegister, true
	case "unregister":
		return b.handleUnregister, true
	case "list":
		return b.handleList, true
	case "channel":
		return b.handleChannel, true
	case "threshold":
		return b.handleThreshold, true
	case "toggle":
		return b.handleToggle, true
	case "poll":
		return b.handlePoll, true
	case "interval":
		return b.handleInterval, true
	}
	return nil, false
}

func (b *Bot) handleRegister(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := optionMap(i)
	accountID := strings.TrimSpace(opts["account_id"].StringValue())
	target := i.Member.User
	if opt, ok := opts["user"]; ok {
		target = opt.UserValue(b.session)
	}

	names, err := b.client.DisplayNames(ctx, []string{accountID})
	if err != nil {
		return "Could not reach the Trackmania services, please try again later.", err
	}
	displayName, ok := names[accountID]
	if !ok || displayName == "" {
		return fmt.Sprintf("No Trackmania account found for `%s`.", accountID), nil
	}

	g, err := b.store.EnsureGuild(ctx, i.GuildID)
	if err != nil {
		return "", err
	}
	if _, err := b.store.UpsertPlayer(ctx, g.ID, target.ID, accountID, displayName); err != nil {
		return "", err
	}
	return fmt.Sprintf("Now tracking **%s** for <@%s>.", displayName, target.ID), nil
}

func (b *Bot) handleUnregister(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := optionMap(i)
	target := i.Member.User
	if opt, ok := opts["user"]; ok {
		target = opt.UserValue(b.session)
	}

	g, err := b.store.GetGuild(ctx, i.GuildID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("<@%s> is not being tracked here.", target.ID), nil
	}
	if err != nil {
		return "", err
	}
	deleted, err := b.store.DeletePlayer(ctx, g.ID, target.ID)
	if err != nil {
		return "", err
	}
	if !deleted {
		return fmt.Sprintf("<@%s> is not being tracked here.", target.ID), nil
	}
	return fmt.Sprintf("Stopped tracking <@%s>.", target.ID), nil
}

func (b *Bot) handleList(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	g, err := b.store.GetGuild(ctx, i.GuildID)
	if errors.Is(err, store.ErrNotFound) {
		return "No players are tracked in this server yet. Use `/register` to add one.", nil
	}
	if err != nil {
		return "", err
	}
	players, err := b.store.ListPlayersByGuild(ctx, g.ID)
	if err != nil {
		return "", err
	}
	if len(players) == 0 {
		return "No players are tracked in this server yet. Use `/register` to add one.", nil
	}

	var sb strings.Builder
	sb.WriteString("**Tracked players:**\n")
	for _, p := range players {
		fmt.Fprintf(&sb, "- **%s** (<@%s>)\n", p.DisplayName, p.UserID)
	}
	return sb.String(), nil
}

func (b *Bot) handleChannel(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := optionMap(i)
	category := opts["category"].StringValue()
	channel := opts["target"].ChannelValue(b.session)

	if _, err := b.store.EnsureGuild(ctx, i.GuildID); err != nil {
		return "", err
	}
	if err := b.store.SetGuildChannel(ctx, i.GuildID, category, channel.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s announcements will be sent to <#%s>.",
		titleCase(category), channel.ID), nil
}

func (b *Bot) handleThreshold(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	minRank := int(optionMap(i)["min_rank"].IntValue())

	if _, err := b.store.EnsureGuild(ctx, i.GuildID); err != nil {
		return "", err
	}
	if err := b.store.SetGuildMinRank(ctx, i.GuildID, minRank); err != nil {
		return "", err
	}
	return fmt.Sprintf("World ranks up to **#%d** will be announced here.", minRank), nil
}

func (b *Bot) handleToggle(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	opts := optionMap(i)
	category := opts["category"].StringValue()
	enabled := opts["enabled"].BoolValue()

	if _, err := b.store.EnsureGuild(ctx, i.GuildID); err != nil {
		return "", err
	}
	if err := b.store.SetGuildCategoryEnabled(ctx, i.GuildID, category, enabled); err != nil {
		return "", err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s announcements are now %s.", titleCase(category), state), nil
}

func (b *Bot) handlePoll(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	if !b.isOwner(i.Member.User.ID) {
		return "Only bot owners may run manual polls.", nil
	}
	category := optionMap(i)["category"].StringValue()

	var err error
	if category == "ranks" {
		err = b.poller.TriggerRanks()
	} else {
		err = b.poller.TriggerTimes()
	}
	if errors.Is(err, poller.ErrBusy) {
		return busyReply, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("A %s cycle has been queued.", category), nil
}

func (b *Bot) handleInterval(ctx context.Context, i *discordgo.InteractionCreate) (string, error) {
	if !b.isOwner(i.Member.User.ID) {
		return "Only bot owners may change poll intervals.", nil
	}
	opts := optionMap(i)
	category := opts["category"].StringValue()
	minutes := int(opts["minutes"].IntValue())

	if b.interval == nil {
		return "Interval changes are not available.", nil
	}
	if err := b.interval(category, time.Duration(minutes)*time.Minute); err != nil {
		return "", err
	}
	return fmt.Sprintf("The %s cycle now runs every %d minutes.", category, minutes), nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (b *Bot) respond(i *discordgo.InteractionCreate, content string) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		b.log.Warn("responding to interaction", logx.Err(err))
	}
}

func (b *Bot) edit(i *discordgo.InteractionCreate, content string) {
	_, err := b.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	})
	if err != nil {
		b.log.Warn("editing interaction response", logx.Err(err))
	}
}

// compile-time conformance with the dispatcher's platform boundary
var _ announce.Platform = (*Bot)(nil)
