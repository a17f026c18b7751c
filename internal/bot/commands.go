package bot

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/robalyx/jointracker/internal/bot/constants"
	"github.com/robalyx/jointracker/internal/tracker"
)

// Commands returns the slash commands the bot registers.
func Commands() []discord.ApplicationCommandCreate {
	timezoneChoices := make([]discord.ApplicationCommandOptionChoiceString, 0, len(constants.TimezoneChoices))
	for _, tz := range constants.TimezoneChoices {
		timezoneChoices = append(timezoneChoices, discord.ApplicationCommandOptionChoiceString{
			Name:  tz.Name,
			Value: tz.Value,
		})
	}

	minLimit := 1
	maxLimit := tracker.MaxHistoryLimit

	return []discord.ApplicationCommandCreate{
		discord.SlashCommandCreate{
			Name:        constants.SetupCommandName,
			Description: "Configure the join tracker for this server",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.SetupChannelSubcommand,
					Description: "Set the channel for daily reports",
					Options: []discord.ApplicationCommandOption{
						discord.ApplicationCommandOptionChannel{
							Name:         constants.ChannelOption,
							Description:  "Channel to send daily reports",
							Required:     true,
							ChannelTypes: []discord.ChannelType{discord.ChannelTypeGuildText},
						},
					},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.SetupTimeSubcommand,
					Description: "Set the time for daily reports",
					Options: []discord.ApplicationCommandOption{
						discord.ApplicationCommandOptionString{
							Name:        constants.TimeOption,
							Description: "Time in 24-hour format (e.g., 10:00, 09:30)",
							Required:    true,
						},
					},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.SetupTimezoneSubcommand,
					Description: "Set the timezone for this server",
					Options: []discord.ApplicationCommandOption{
						discord.ApplicationCommandOptionString{
							Name:        constants.TimezoneOption,
							Description: "Select your timezone",
							Required:    true,
							Choices:     timezoneChoices,
						},
					},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.SetupEnableSubcommand,
					Description: "Enable daily reports",
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.SetupDisableSubcommand,
					Description: "Disable daily reports",
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.SetupWebhookSubcommand,
					Description: "Set or clear the Slack-compatible webhook for report copies",
					Options: []discord.ApplicationCommandOption{
						discord.ApplicationCommandOptionString{
							Name:        constants.URLOption,
							Description: "Webhook URL, leave empty to remove it",
						},
					},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.SetupViewSubcommand,
					Description: "View current configuration",
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        constants.StatsCommandName,
			Description: "View member join/leave statistics",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.StatsTodaySubcommand,
					Description: "Stats for today so far",
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.StatsYesterdaySubcommand,
					Description: "Stats for yesterday",
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.StatsWeekSubcommand,
					Description: "Stats for the last 7 days",
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.StatsMonthSubcommand,
					Description: "Stats for the last 30 days",
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        constants.CheckCommandName,
			Description: "Quickly check today's join/leave statistics",
		},
		discord.SlashCommandCreate{
			Name:        constants.ReportCommandName,
			Description: "Manually send the daily report for this server",
		},
		discord.SlashCommandCreate{
			Name:        constants.HistoryCommandName,
			Description: "Review member joins and leaves",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.HistoryEventsSubcommand,
					Description: "Show the most recent recorded joins and leaves",
					Options: []discord.ApplicationCommandOption{
						discord.ApplicationCommandOptionInt{
							Name:        constants.LimitOption,
							Description: "Number of events to show",
							MinValue:    &minLimit,
							MaxValue:    &maxLimit,
						},
					},
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        constants.HistoryJoinsSubcommand,
					Description: "Analyze when the current members joined",
				},
			},
		},
	}
}
