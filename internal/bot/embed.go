package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/robalyx/jointracker/internal/bot/constants"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/report"
)

// Maximum length of an embed description.
const maxDescriptionLength = 4096

// PayloadEmbed renders a report payload as an embed.
func PayloadEmbed(payload *report.Payload) discord.Embed {
	builder := discord.NewEmbedBuilder().
		SetTitle("📊 " + payload.Title).
		SetDescription(truncate(payload.Description, maxDescriptionLength)).
		SetColor(payload.Trend.Color()).
		SetFooterText(payload.Footer).
		SetTimestamp(payload.GeneratedAt)

	for _, field := range payload.Fields {
		builder.AddField(field.Name, field.Value, field.Inline)
	}

	return builder.Build()
}

// ConfigEmbed renders a guild's configuration.
func ConfigEmbed(cfg *types.GuildConfig, now time.Time) discord.Embed {
	channel := constants.NotConfigured
	if cfg.HasDestination() {
		channel = fmt.Sprintf("<#%d>", cfg.ReportChannelID)
	}

	status := "❌ Disabled"
	if cfg.Enabled {
		status = "✅ Enabled"
	}

	webhook := constants.NotConfigured
	if cfg.NotifyEndpoint != "" {
		webhook = "Configured"
	}

	return discord.NewEmbedBuilder().
		SetTitle("⚙️ Join Tracker Configuration").
		SetColor(constants.DefaultEmbedColor).
		AddField("📢 Report Channel", channel, true).
		AddField("🕐 Report Time", cfg.ReportTime, true).
		AddField("🌍 Timezone", cfg.Timezone, true).
		AddField("📊 Status", status, true).
		AddField("🔗 Webhook", webhook, true).
		SetFooterText("Use /setup commands to modify settings").
		SetTimestamp(now).
		Build()
}

// HistoryEmbed renders recent member events, newest first.
func HistoryEmbed(events []*types.MemberEvent, now time.Time) discord.Embed {
	description := "No member activity recorded yet."

	if len(events) > 0 {
		var b strings.Builder
		for i, event := range events {
			if i > 0 {
				b.WriteByte('\n')
			}

			icon := "📥"
			verb := "joined"
			if event.EventType == types.EventLeave {
				icon = "📤"
				verb = "left"
			}

			fmt.Fprintf(&b, "%s **%s** (<@%d>) %s <t:%d:R>",
				icon, escapeMarkdown(event.Username), event.UserID, verb, event.Timestamp.Unix())
		}
		description = truncate(b.String(), maxDescriptionLength)
	}

	return discord.NewEmbedBuilder().
		SetTitle("🕘 Recent Member Activity").
		SetDescription(description).
		SetColor(constants.DefaultEmbedColor).
		SetFooterText(fmt.Sprintf("Showing %d event(s)", len(events))).
		SetTimestamp(now).
		Build()
}

// JoinHistoryEmbed renders the join dates of the current members.
func JoinHistoryEmbed(history *report.JoinHistory, now time.Time) discord.Embed {
	var b strings.Builder
	for i, day := range history.Days {
		if i > 0 {
			b.WriteByte('\n')
		}

		fmt.Fprintf(&b, "**%s**", day.Date)
		switch i {
		case 0:
			b.WriteString(" (Today)")
		case 1:
			b.WriteString(" (Yesterday)")
		}
		fmt.Fprintf(&b, ": %d joined", day.Joins)
	}

	breakdown := b.String()
	if breakdown == "" {
		breakdown = "No data"
	}

	return discord.NewEmbedBuilder().
		SetTitle("📊 Historical Member Joins").
		SetDescription("Based on the join dates of current members\n*(Does not include members who left)*").
		SetColor(constants.DefaultEmbedColor).
		AddField("📅 Today", strconv.FormatInt(history.Today, 10), true).
		AddField("📅 Yesterday", strconv.FormatInt(history.Yesterday, 10), true).
		AddField("📅 This Week", strconv.FormatInt(history.Week, 10), true).
		AddField("📅 Last 30 Days", strconv.FormatInt(history.Month, 10), true).
		AddField("📅 Older", strconv.FormatInt(history.Older, 10), true).
		AddField("👥 Total Members", strconv.FormatInt(history.Members, 10), true).
		AddField("📈 Last 7 Days Breakdown", breakdown, false).
		SetFooterText("Note: Only shows members still in the server").
		SetTimestamp(now).
		Build()
}

// noticeEmbed renders a short confirmation.
func noticeEmbed(title, description string, color int, now time.Time) discord.Embed {
	return discord.NewEmbedBuilder().
		SetTitle(title).
		SetDescription(description).
		SetColor(color).
		SetTimestamp(now).
		Build()
}

// truncate shortens s to at most maxLength bytes without splitting a rune.
func truncate(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}

	cut := maxLength - len("...")
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// escapeMarkdown keeps usernames from breaking embed formatting.
func escapeMarkdown(s string) string {
	return strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "~", "\\~", "|", "\\|").Replace(s)
}
