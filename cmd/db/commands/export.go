package commands

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// csvHeader is the first row of an export.
var csvHeader = []string{"date", "joins", "leaves", "net", "total_members"}

// ExportCommands returns the commands that read tracked data.
func ExportCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:      "export",
			Usage:     "Export a guild's daily stats as CSV",
			ArgsUsage: "GUILD_ID",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "days",
					Usage: "Number of days to export, today included",
					Value: 30,
				},
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Usage:   "File to write, stdout when empty",
				},
			},
			Action: handleExport(deps),
		},
		{
			Name:   "guilds",
			Usage:  "List the configuration of every tracked guild",
			Action: handleGuilds(deps),
		},
	}
}

// handleExport handles the 'export' command.
func handleExport(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrGuildIDRequired
		}

		guildID, err := snowflake.Parse(c.Args().First())
		if err != nil {
			return fmt.Errorf("invalid guild ID: %w", err)
		}

		stats, err := deps.Stats.DailyBreakdown(ctx, guildID, int(c.Int("days")))
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout

		if path := c.String("output"); path != "" {
			file, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer file.Close()

			w = file
		}

		if err := WriteDailyCSV(w, stats); err != nil {
			return err
		}

		deps.Logger.Info("Exported daily stats",
			zap.Uint64("guildID", uint64(guildID)),
			zap.Int("rows", len(stats)))

		return nil
	}
}

// WriteDailyCSV writes the rows oldest first. Days without a snapshot leave the
// total members column empty.
func WriteDailyCSV(w io.Writer, stats []*types.DailyStat) error {
	ordered := slices.Clone(stats)
	slices.SortFunc(ordered, func(a, b *types.DailyStat) int {
		return strings.Compare(a.Date, b.Date)
	})

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, stat := range ordered {
		total := ""
		if stat.TotalMembers != nil {
			total = strconv.FormatInt(*stat.TotalMembers, 10)
		}

		record := []string{
			stat.Date,
			strconv.FormatInt(stat.Joins, 10),
			strconv.FormatInt(stat.Leaves, 10),
			strconv.FormatInt(stat.Net(), 10),
			total,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}

// handleGuilds handles the 'guilds' command.
func handleGuilds(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		configs, err := deps.DB.Config().List(ctx)
		if err != nil {
			return err
		}

		for _, cfg := range configs {
			deps.Logger.Info("Guild",
				zap.Uint64("guildID", uint64(cfg.GuildID)),
				zap.Uint64("channelID", uint64(cfg.ReportChannelID)),
				zap.String("reportTime", cfg.ReportTime),
				zap.String("timezone", cfg.Timezone),
				zap.Bool("enabled", cfg.Enabled),
				zap.Bool("webhook", cfg.NotifyEndpoint != ""))
		}

		deps.Logger.Info("Tracked guilds", zap.Int("count", len(configs)))

		return nil
	}
}
