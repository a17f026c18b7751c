package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/bot/constants"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/report"
	"github.com/robalyx/jointracker/internal/setup/config"
	"go.uber.org/zap"
)

const (
	// commandTimeout bounds the work done for one slash command.
	commandTimeout = 30 * time.Second
	// eventTimeout bounds the recording of one member event.
	eventTimeout = 10 * time.Second
)

// ErrNotAttached indicates the bot received work before a tracker was attached.
var ErrNotAttached = errors.New("bot has no tracker attached")

// Recorder records member events.
type Recorder interface {
	RecordJoin(ctx context.Context, guildID, userID snowflake.ID, username string) (*types.DailyStat, error)
	RecordLeave(ctx context.Context, guildID, userID snowflake.ID, username string) (*types.DailyStat, error)
}

// Bot connects the tracker to Discord. It listens for member joins and leaves,
// serves the slash commands and delivers reports to channels.
type Bot struct {
	client     bot.Client
	handler    *Handler
	recorder   Recorder
	devGuildID snowflake.ID
	logger     *zap.Logger
}

// New configures the Discord client with the intents and listeners the tracker needs.
// The gateway is not opened until Start.
func New(cfg *config.Discord, logger *zap.Logger) (*Bot, error) {
	b := &Bot{
		devGuildID: snowflake.ID(cfg.DevGuildID),
		logger:     logger.Named("bot"),
	}

	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnGuildMemberJoin:               b.handleMemberJoin,
			OnGuildMemberLeave:              b.handleMemberLeave,
			OnApplicationCommandInteraction: b.handleApplicationCommandInteraction,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}

	b.client = client

	return b, nil
}

// Attach wires the tracker into the bot. It must be called before Start.
func (b *Bot) Attach(recorder Recorder, handler *Handler) {
	b.recorder = recorder
	b.handler = handler
}

// Start registers the slash commands and opens the gateway connection. Commands are
// registered in the development guild when one is configured.
func (b *Bot) Start(ctx context.Context) error {
	if b.recorder == nil || b.handler == nil {
		return ErrNotAttached
	}

	b.logger.Info("Registering commands")

	var err error
	if b.devGuildID != 0 {
		_, err = b.client.Rest().SetGuildCommands(b.client.ApplicationID(), b.devGuildID, Commands(), rest.WithCtx(ctx))
	} else {
		_, err = b.client.Rest().SetGlobalCommands(b.client.ApplicationID(), Commands(), rest.WithCtx(ctx))
	}
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	b.logger.Info("Starting bot")

	return b.client.OpenGateway(ctx)
}

// Close gracefully shuts down the Discord gateway connection.
func (b *Bot) Close(ctx context.Context) {
	b.logger.Info("Closing bot")
	b.client.Close(ctx)
}

// PublishReport posts a report payload as an embed in the channel.
func (b *Bot) PublishReport(ctx context.Context, channelID snowflake.ID, payload *report.Payload) error {
	message := discord.NewMessageCreateBuilder().
		SetEmbeds(PayloadEmbed(payload)).
		Build()

	if _, err := b.client.Rest().CreateMessage(channelID, message, rest.WithCtx(ctx)); err != nil {
		return fmt.Errorf("failed to post report in channel %d: %w", channelID, err)
	}

	return nil
}

// MemberCount returns the approximate member count of the guild.
func (b *Bot) MemberCount(ctx context.Context, guildID snowflake.ID) (int64, error) {
	guild, err := b.client.Rest().GetGuild(guildID, true, rest.WithCtx(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to get guild %d: %w", guildID, err)
	}

	return int64(guild.ApproximateMemberCount), nil
}

// memberPageSize is the largest page the list guild members endpoint returns.
const memberPageSize = 1000

// ListMemberJoins pages through the guild's members and returns their join dates.
func (b *Bot) ListMemberJoins(ctx context.Context, guildID snowflake.ID) ([]report.MemberJoin, error) {
	var (
		joins []report.MemberJoin
		after snowflake.ID
	)

	for {
		chunk, err := b.client.Rest().GetMembers(guildID, memberPageSize, after, rest.WithCtx(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to get members of guild %d: %w", guildID, err)
		}

		for _, member := range chunk {
			joins = append(joins, report.MemberJoin{
				JoinedAt: member.JoinedAt,
				Bot:      member.User.Bot,
			})
		}

		// A short page is the last one
		if len(chunk) < memberPageSize {
			break
		}

		after = chunk[len(chunk)-1].User.ID
	}

	return joins, nil
}

// handleMemberJoin records a member joining a guild.
func (b *Bot) handleMemberJoin(event *events.GuildMemberJoin) {
	b.recordMemberEvent(types.EventJoin, event.GuildID, event.Member.User)
}

// handleMemberLeave records a member leaving a guild.
func (b *Bot) handleMemberLeave(event *events.GuildMemberLeave) {
	b.recordMemberEvent(types.EventLeave, event.GuildID, event.User)
}

func (b *Bot) recordMemberEvent(eventType types.EventType, guildID snowflake.ID, user discord.User) {
	if b.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var err error
	if eventType == types.EventJoin {
		_, err = b.recorder.RecordJoin(ctx, guildID, user.ID, user.Username)
	} else {
		_, err = b.recorder.RecordLeave(ctx, guildID, user.ID, user.Username)
	}

	if err != nil {
		b.logger.Error("Failed to record member event",
			zap.String("type", string(eventType)),
			zap.Uint64("guildID", uint64(guildID)),
			zap.Uint64("userID", uint64(user.ID)),
			zap.Error(err))

		return
	}

	b.logger.Debug("Recorded member event",
		zap.String("type", string(eventType)),
		zap.Uint64("guildID", uint64(guildID)),
		zap.String("username", user.Username))
}

// handleApplicationCommandInteraction defers the response, runs the command in a
// goroutine and updates the deferred response with the result.
func (b *Bot) handleApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	go func() {
		// Defer response to prevent Discord timeout while processing
		if err := event.DeferCreateMessage(true); err != nil {
			b.logger.Error("Failed to defer create message", zap.Error(err))
			return
		}

		if b.handler == nil || event.Data.Type() != discord.ApplicationCommandTypeSlash {
			b.respond(event, &Response{Content: "❌ This command is not available."})
			return
		}

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Panic in application command interaction handler", zap.Any("panic", r))
				b.respond(event, &Response{Content: "❌ Internal error. Please report this to an administrator."})
			}

			b.logger.Debug("Application command interaction handled",
				zap.String("command", event.SlashCommandInteractionData().CommandName()),
				zap.Duration("duration", time.Since(start)))
		}()

		cmd := parseCommand(event)

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		b.respond(event, b.handler.Execute(ctx, cmd))
	}()
}

// respond replaces the deferred response with the command's reply.
func (b *Bot) respond(event *events.ApplicationCommandInteractionCreate, resp *Response) {
	_, err := event.Client().Rest().UpdateInteractionResponse(event.ApplicationID(), event.Token(), resp.MessageUpdate())
	if err != nil {
		b.logger.Error("Failed to update interaction response", zap.Error(err))
	}
}

// parseCommand reads the invocation and its options from a slash command event.
func parseCommand(event *events.ApplicationCommandInteractionCreate) *Command {
	data := event.SlashCommandInteractionData()

	cmd := &Command{
		UserID: event.User().ID,
		Name:   data.CommandName(),
	}

	if guildID := event.GuildID(); guildID != nil {
		cmd.GuildID = *guildID
	}

	if member := event.Member(); member != nil {
		cmd.Permissions = member.Permissions
	}

	if data.SubCommandName != nil {
		cmd.Subcommand = *data.SubCommandName
	}

	if channel, ok := data.OptChannel(constants.ChannelOption); ok {
		cmd.ChannelID = channel.ID
		cmd.ChannelType = channel.Type
	}

	cmd.Time, _ = data.OptString(constants.TimeOption)
	cmd.Timezone, _ = data.OptString(constants.TimezoneOption)
	cmd.URL, _ = data.OptString(constants.URLOption)
	cmd.Limit, _ = data.OptInt(constants.LimitOption)

	return cmd
}
