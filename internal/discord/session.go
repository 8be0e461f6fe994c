// Package discord is the chat-platform adapter: one discordgo session that
// delivers announcements and serves the slash-command surface.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"trackbot/internal/announce"
	"trackbot/internal/poller"
	"trackbot/internal/store"
	"trackbot/internal/taskqueue"
	"trackbot/internal/upstream"
	logx "trackbot/pkg/logx"
)

type Config struct {
	Token string
	// OwnerUserIDs may run the administrative commands (manual poll,
	// interval changes) in any guild.
	OwnerUserIDs []string
}

// SetInterval is provided by the wiring layer so interval commands can
// reschedule the poll triggers without this package knowing the scheduler.
type SetInterval func(kind string, every time.Duration) error

type Bot struct {
	cfg      Config
	session  *discordgo.Session
	store    *store.Store
	client   *upstream.Client
	poller   *poller.Poller
	commands *taskqueue.Queue
	interval SetInterval
	log      logx.Logger

	owners     map[string]struct{}
	registered []*discordgo.ApplicationCommand
}

// New builds the session without opening it. The poller is late-bound via
// SetPoller because announcement dispatch sits between the two at wiring
// time.
func New(cfg Config, st *store.Store, client *upstream.Client,
	commands *taskqueue.Queue, interval SetInterval, log logx.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	if log.IsZero() {
		log = logx.Nop()
	}
	owners := make(map[string]struct{}, len(cfg.OwnerUserIDs))
	for _, id := range cfg.OwnerUserIDs {
		owners[id] = struct{}{}
	}
	b := &Bot{
		cfg:      cfg,
		session:  session,
		store:    st,
		client:   client,
		commands: commands,
		interval: interval,
		log:      log,
		owners:   owners,
	}
	session.AddHandler(b.handleInteraction)
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("gateway ready", logx.Int("guilds", len(r.Guilds)))
	})
	return b, nil
}

// SetPoller must be called before Start.
func (b *Bot) SetPoller(p *poller.Poller) { b.poller = p }

func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening gateway: %w", err)
	}
	if err := b.registerCommands(); err != nil {
		// The bot still announces without commands; keep running.
		b.log.Error("registering commands", logx.Err(err))
	}
	return nil
}

func (b *Bot) Stop(ctx context.Context) error {
	return b.session.Close()
}

// Send delivers one announcement as an embed.
func (b *Bot) Send(ctx context.Context, channelID string, msg announce.Message) error {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       msg.Color,
	}
	if msg.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: msg.ThumbnailURL}
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	_, err := b.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	return err
}

// FallbackChannelID picks the guild's system channel, or its first text
// channel the bot can see, when no announcement channel is configured.
func (b *Bot) FallbackChannelID(guildID string) (string, bool) {
	g, err := b.session.State.Guild(guildID)
	if err != nil {
		g, err = b.session.Guild(guildID)
		if err != nil {
			return "", false
		}
	}
	if g.SystemChannelID != "" {
		return g.SystemChannelID, true
	}
	for _, ch := range g.Channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			return ch.ID, true
		}
	}
	return "", false
}

func (b *Bot) isOwner(userID string) bool {
	_, ok := b.owners[userID]
	return ok
}
