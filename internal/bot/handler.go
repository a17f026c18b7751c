package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
	"github.com/robalyx/jointracker/internal/bot/constants"
	"github.com/robalyx/jointracker/internal/calendar"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/report"
	"github.com/robalyx/jointracker/internal/tracker"
	"github.com/robalyx/jointracker/internal/webhook"
	"go.uber.org/zap"
)

var (
	// ErrInvalidChannel indicates a report channel that is not a text channel.
	ErrInvalidChannel = errors.New("report channel must be a text channel")
	// ErrGuildOnly indicates a command used outside of a server.
	ErrGuildOnly = errors.New("command can only be used in a server")
	// ErrMissingPermission indicates a member without the Manage Server permission.
	ErrMissingPermission = errors.New("missing manage server permission")
	// ErrUnknownCommand indicates a command the bot does not handle.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMembersUnavailable indicates the guild's member list could not be fetched.
	ErrMembersUnavailable = errors.New("member list unavailable")
)

// Service is the tracker surface the commands use.
type Service interface {
	GetGuildConfig(ctx context.Context, guildID snowflake.ID) (*types.GuildConfig, error)
	SetGuildConfig(ctx context.Context, guildID snowflake.ID, update *types.GuildConfigUpdate) (*types.GuildConfig, error)
	Location(ctx context.Context, guildID snowflake.ID) (*time.Location, error)
	GetTodayStats(ctx context.Context, guildID snowflake.ID) (*types.DailyStat, error)
	GetYesterdayStats(ctx context.Context, guildID snowflake.ID) (*types.DailyStat, error)
	GetStatsRange(ctx context.Context, guildID snowflake.ID, days int) (*types.RangeStats, error)
	GetDailyBreakdown(ctx context.Context, guildID snowflake.ID, days int) ([]*types.DailyStat, error)
	CheckToday(ctx context.Context, guildID snowflake.ID) (*tracker.CheckResult, error)
	SendDailyReportForGuild(ctx context.Context, guildID snowflake.ID) (*report.Payload, error)
	RecentEvents(ctx context.Context, guildID snowflake.ID, limit int) ([]*types.MemberEvent, error)
}

// MemberLister lists the join dates of a guild's current members.
type MemberLister interface {
	ListMemberJoins(ctx context.Context, guildID snowflake.ID) ([]report.MemberJoin, error)
}

// Command is a parsed slash command invocation.
type Command struct {
	GuildID     snowflake.ID
	UserID      snowflake.ID
	Permissions discord.Permissions
	Name        string
	Subcommand  string
	ChannelID   snowflake.ID
	ChannelType discord.ChannelType
	Time        string
	Timezone    string
	URL         string
	Limit       int
}

// Response is the reply to a command.
type Response struct {
	Content string
	Embeds  []discord.Embed
	Files   []*discord.File
}

// MessageUpdate converts the response into an interaction response update.
func (r *Response) MessageUpdate() discord.MessageUpdate {
	builder := discord.NewMessageUpdateBuilder().
		SetContent(r.Content).
		SetEmbeds(r.Embeds...)

	if len(r.Files) > 0 {
		builder.SetFiles(r.Files...)
	}

	return builder.Build()
}

// Handler executes slash commands against the tracker.
type Handler struct {
	service Service
	members MemberLister
	clock   clockwork.Clock
	logger  *zap.Logger
}

// NewHandler creates a command handler. The member lister may be nil, in which
// case the join history is unavailable.
func NewHandler(service Service, members MemberLister, clock clockwork.Clock, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		members: members,
		clock:   clock,
		logger:  logger.Named("commands"),
	}
}

// Execute runs the command and always returns a response to show the user.
func (h *Handler) Execute(ctx context.Context, cmd *Command) *Response {
	resp, err := h.execute(ctx, cmd)
	if err != nil {
		return h.errorResponse(cmd, err)
	}
	return resp
}

func (h *Handler) execute(ctx context.Context, cmd *Command) (*Response, error) {
	if cmd.GuildID == 0 {
		return nil, ErrGuildOnly
	}

	switch cmd.Name {
	case constants.SetupCommandName:
		if !canManage(cmd) {
			return nil, ErrMissingPermission
		}
		return h.setup(ctx, cmd)
	case constants.StatsCommandName:
		return h.stats(ctx, cmd)
	case constants.CheckCommandName:
		return h.check(ctx, cmd)
	case constants.ReportCommandName:
		if !canManage(cmd) {
			return nil, ErrMissingPermission
		}
		return h.report(ctx, cmd)
	case constants.HistoryCommandName:
		if !canManage(cmd) {
			return nil, ErrMissingPermission
		}
		return h.history(ctx, cmd)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
}

func canManage(cmd *Command) bool {
	return cmd.Permissions.Has(discord.PermissionManageGuild)
}

func (h *Handler) setup(ctx context.Context, cmd *Command) (*Response, error) {
	now := h.clock.Now()

	if cmd.Subcommand == constants.SetupViewSubcommand {
		cfg, err := h.service.GetGuildConfig(ctx, cmd.GuildID)
		if err != nil {
			if !errors.Is(err, types.ErrGuildConfigNotFound) {
				return nil, err
			}

			return &Response{Embeds: []discord.Embed{noticeEmbed("⚙️ Join Tracker Configuration",
				"This server has not been configured yet. Use `/setup channel` to get started.",
				constants.DefaultEmbedColor, now)}}, nil
		}

		return &Response{Embeds: []discord.Embed{ConfigEmbed(cfg, now)}}, nil
	}

	var update types.GuildConfigUpdate

	switch cmd.Subcommand {
	case constants.SetupChannelSubcommand:
		if cmd.ChannelID == 0 || !isTextChannel(cmd.ChannelType) {
			return nil, ErrInvalidChannel
		}
		update.ReportChannelID = &cmd.ChannelID
	case constants.SetupTimeSubcommand:
		update.ReportTime = &cmd.Time
	case constants.SetupTimezoneSubcommand:
		update.Timezone = &cmd.Timezone
	case constants.SetupEnableSubcommand:
		enabled := true
		update.Enabled = &enabled
	case constants.SetupDisableSubcommand:
		enabled := false
		update.Enabled = &enabled
	case constants.SetupWebhookSubcommand:
		update.NotifyEndpoint = &cmd.URL
	default:
		return nil, fmt.Errorf("%w: setup %s", ErrUnknownCommand, cmd.Subcommand)
	}

	cfg, err := h.service.SetGuildConfig(ctx, cmd.GuildID, &update)
	if err != nil {
		return nil, err
	}

	h.logger.Info("Guild settings changed",
		zap.Uint64("guildID", uint64(cmd.GuildID)),
		zap.Uint64("userID", uint64(cmd.UserID)),
		zap.String("setting", cmd.Subcommand))

	var embed discord.Embed

	switch cmd.Subcommand {
	case constants.SetupChannelSubcommand:
		embed = noticeEmbed("✅ Report Channel Updated",
			fmt.Sprintf("Daily reports will be sent to <#%d>", cfg.ReportChannelID), constants.SuccessEmbedColor, now)
	case constants.SetupTimeSubcommand:
		embed = noticeEmbed("✅ Report Time Updated",
			fmt.Sprintf("Daily reports will be sent at **%s** (%s)", cfg.ReportTime, cfg.Timezone),
			constants.SuccessEmbedColor, now)
	case constants.SetupTimezoneSubcommand:
		embed = noticeEmbed("✅ Timezone Updated",
			fmt.Sprintf("Timezone set to **%s**\nReports scheduled for **%s**", cfg.Timezone, cfg.ReportTime),
			constants.SuccessEmbedColor, now)
	case constants.SetupEnableSubcommand:
		description := "The bot will now send daily join reports."
		if !cfg.HasDestination() {
			description += "\nSet a report channel with `/setup channel` to start receiving them."
		}
		embed = noticeEmbed("✅ Daily Reports Enabled", description, constants.SuccessEmbedColor, now)
	case constants.SetupDisableSubcommand:
		embed = noticeEmbed("⏸️ Daily Reports Disabled",
			"Daily reports have been paused. Use `/setup enable` to resume.", constants.WarningEmbedColor, now)
	case constants.SetupWebhookSubcommand:
		description := "Report copies will be posted to the configured webhook."
		if cfg.NotifyEndpoint == "" {
			description = "The webhook has been removed."
		}
		embed = noticeEmbed("✅ Webhook Updated", description, constants.SuccessEmbedColor, now)
	}

	return &Response{Embeds: []discord.Embed{embed}}, nil
}

func isTextChannel(channelType discord.ChannelType) bool {
	return channelType == discord.ChannelTypeGuildText || channelType == discord.ChannelTypeGuildNews
}

func (h *Handler) stats(ctx context.Context, cmd *Command) (*Response, error) {
	loc, err := h.service.Location(ctx, cmd.GuildID)
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()

	switch cmd.Subcommand {
	case constants.StatsTodaySubcommand:
		stat, err := h.service.GetTodayStats(ctx, cmd.GuildID)
		if err != nil {
			return nil, err
		}
		return payloadResponse(report.BuildToday(stat, stat.TotalMembers, loc, now)), nil

	case constants.StatsYesterdaySubcommand:
		stat, err := h.service.GetYesterdayStats(ctx, cmd.GuildID)
		if err != nil {
			return nil, err
		}
		return payloadResponse(report.BuildYesterday(stat, stat.TotalMembers, loc, now)), nil

	case constants.StatsWeekSubcommand:
		return h.rangeStats(ctx, cmd.GuildID, constants.WeekDays, true, loc, now)

	case constants.StatsMonthSubcommand:
		return h.rangeStats(ctx, cmd.GuildID, constants.MonthDays, false, loc, now)

	default:
		return nil, fmt.Errorf("%w: stats %s", ErrUnknownCommand, cmd.Subcommand)
	}
}

// rangeStats renders a multi-day window with a chart of the days. The daily lines
// are only listed when listDays is set.
func (h *Handler) rangeStats(
	ctx context.Context, guildID snowflake.ID, days int, listDays bool, loc *time.Location, now time.Time,
) (*Response, error) {
	summary, err := h.service.GetStatsRange(ctx, guildID, days)
	if err != nil {
		return nil, err
	}

	breakdown, err := h.service.GetDailyBreakdown(ctx, guildID, days)
	if err != nil {
		return nil, err
	}

	var listed []*types.DailyStat
	if listDays {
		listed = breakdown
		if listed == nil {
			listed = []*types.DailyStat{}
		}
	}

	embed := PayloadEmbed(report.BuildRange(summary, listed, loc, now))
	resp := &Response{}

	buf, err := report.NewChartBuilder(breakdown, days, loc, now).Build()
	if err != nil {
		h.logger.Warn("Failed to build breakdown chart",
			zap.Uint64("guildID", uint64(guildID)),
			zap.Error(err))
	} else {
		embed.Image = &discord.EmbedResource{URL: "attachment://" + constants.ChartFileName}
		resp.Files = []*discord.File{discord.NewFile(constants.ChartFileName, "", bytes.NewReader(buf.Bytes()))}
	}

	resp.Embeds = []discord.Embed{embed}

	return resp, nil
}

func (h *Handler) check(ctx context.Context, cmd *Command) (*Response, error) {
	result, err := h.service.CheckToday(ctx, cmd.GuildID)
	if err != nil {
		return nil, err
	}

	resp := payloadResponse(result.Payload)

	switch {
	case result.Notified:
		resp.Content = "Also sent to the configured webhook."
	case result.NotifyErr != nil && !errors.Is(result.NotifyErr, tracker.ErrNoEndpoint):
		resp.Content = "⚠️ Could not send these stats to the configured webhook."
	}

	return resp, nil
}

func (h *Handler) report(ctx context.Context, cmd *Command) (*Response, error) {
	payload, err := h.service.SendDailyReportForGuild(ctx, cmd.GuildID)
	if err != nil {
		return nil, err
	}

	return &Response{
		Content: fmt.Sprintf("✅ The daily report for %s has been sent to the configured channel!",
			calendar.LongDate(payload.Date)),
	}, nil
}

func (h *Handler) history(ctx context.Context, cmd *Command) (*Response, error) {
	switch cmd.Subcommand {
	case constants.HistoryEventsSubcommand:
		events, err := h.service.RecentEvents(ctx, cmd.GuildID, cmd.Limit)
		if err != nil {
			return nil, err
		}

		return &Response{Embeds: []discord.Embed{HistoryEmbed(events, h.clock.Now())}}, nil

	case constants.HistoryJoinsSubcommand:
		return h.joinHistory(ctx, cmd)

	default:
		return nil, fmt.Errorf("%w: history %s", ErrUnknownCommand, cmd.Subcommand)
	}
}

// joinHistory buckets the join dates of the current members in the guild's timezone.
func (h *Handler) joinHistory(ctx context.Context, cmd *Command) (*Response, error) {
	if h.members == nil {
		return nil, ErrMembersUnavailable
	}

	loc, err := h.service.Location(ctx, cmd.GuildID)
	if err != nil {
		return nil, err
	}

	members, err := h.members.ListMemberJoins(ctx, cmd.GuildID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMembersUnavailable, err)
	}

	now := h.clock.Now()

	return &Response{Embeds: []discord.Embed{
		JoinHistoryEmbed(report.BuildJoinHistory(members, loc, now), now),
	}}, nil
}

func payloadResponse(payload *report.Payload) *Response {
	return &Response{Embeds: []discord.Embed{PayloadEmbed(payload)}}
}

// errorResponse maps an error to a message for the user. Unexpected errors are logged
// and shown generically.
func (h *Handler) errorResponse(cmd *Command, err error) *Response {
	var message string

	switch {
	case errors.Is(err, ErrGuildOnly):
		message = "This command can only be used in a server."
	case errors.Is(err, ErrMissingPermission):
		message = "You need the **Manage Server** permission to use this command."
	case errors.Is(err, ErrInvalidChannel):
		message = "Please pick a text channel for daily reports."
	case errors.Is(err, calendar.ErrInvalidClock):
		message = "Invalid time format. Use 24-hour format like `10:00` or `09:30`."
	case errors.Is(err, calendar.ErrUnknownTimezone):
		message = "Unknown timezone. Use an IANA name such as `Europe/Berlin`."
	case errors.Is(err, webhook.ErrInvalidEndpoint):
		message = "Invalid webhook URL. It must be an absolute `https://` or `http://` URL."
	case errors.Is(err, tracker.ErrNoDestination), errors.Is(err, types.ErrGuildConfigNotFound):
		message = "No report channel configured. Use `/setup channel` first."
	case errors.Is(err, ErrUnknownCommand):
		message = "This command is not available."
	case errors.Is(err, ErrMembersUnavailable):
		h.logger.Warn("Failed to fetch guild members",
			zap.Uint64("guildID", uint64(cmd.GuildID)),
			zap.Error(err))

		message = "Failed to fetch member history. Make sure the bot has the SERVER MEMBERS INTENT enabled."
	default:
		h.logger.Error("Command failed",
			zap.Uint64("guildID", uint64(cmd.GuildID)),
			zap.String("command", cmd.Name),
			zap.String("subcommand", cmd.Subcommand),
			zap.Error(err))

		message = "Something went wrong. Please try again later."
	}

	return &Response{Content: "❌ " + message}
}
