package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
	"github.com/robalyx/jointracker/internal/bot"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/scheduler"
	"github.com/robalyx/jointracker/internal/setup"
	"github.com/robalyx/jointracker/internal/setup/telemetry"
	"github.com/robalyx/jointracker/internal/tracker"
	"github.com/robalyx/jointracker/internal/webhook"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// BotLogDir specifies where bot log files are stored.
	BotLogDir = "logs/bot_logs"
	// shutdownTimeout bounds the graceful shutdown.
	shutdownTimeout = 30 * time.Second
)

var (
	ErrGuildIDRequired = errors.New("GUILD_ID argument required")
	ErrRedisDisabled   = errors.New("job statuses require redis to be enabled")
)

func main() {
	app := &cli.Command{
		Name:   "bot",
		Usage:  "Discord member join tracker",
		Action: runBot,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Connect to Discord and run the report scheduler",
				Action: runBot,
			},
			{
				Name:   "jobs",
				Usage:  "Show the last recorded status of every scheduled job",
				Action: showJobs,
			},
			{
				Name:      "report",
				Usage:     "Send the daily report of a guild now",
				ArgsUsage: "GUILD_ID",
				Action:    sendReport,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// newTracker creates the Discord client and the tracker and links them together.
func newTracker(app *setup.App) (*bot.Bot, *tracker.Tracker, error) {
	discordBot, err := bot.New(&app.Config.Bot.Discord, app.Logger)
	if err != nil {
		return nil, nil, err
	}

	cfg := app.Config.Bot

	var status scheduler.StatusRecorder
	if app.StatusMonitor != nil {
		status = app.StatusMonitor
	}

	clock := clockwork.NewRealClock()
	trk := tracker.New(
		app.DB,
		discordBot,
		discordBot,
		webhook.NewSender(&cfg.Webhook, app.Logger),
		status,
		clock,
		tracker.Options{
			Defaults: types.GuildDefaults{
				ReportTime: cfg.Defaults.ReportTime,
				Timezone:   cfg.Defaults.Timezone,
			},
			DeliveryTimeout: time.Duration(cfg.Scheduler.DeliveryTimeout) * time.Millisecond,
			Scheduler: scheduler.Options{
				Workers:            cfg.Scheduler.Workers,
				StartupConcurrency: cfg.Scheduler.StartupConcurrency,
			},
		},
		app.Logger,
	)

	discordBot.Attach(trk, bot.NewHandler(trk, discordBot, clock, app.Logger))

	return discordBot, trk, nil
}

func runBot(ctx context.Context, _ *cli.Command) error {
	// Initialize application with required dependencies
	app, err := setup.InitializeApp(ctx, telemetry.ServiceBot, BotLogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		app.Cleanup(cleanupCtx)
	}()

	discordBot, trk, err := newTracker(app)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// Start the bot and connect to Discord
	if err := discordBot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	// Schedule every tracked guild once the gateway is open
	if err := trk.Start(ctx); err != nil {
		discordBot.Close(ctx)
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	log.Println("Bot has been started. Waiting for interrupt signal to gracefully shutdown...")

	// Wait for interrupt signal to gracefully shutdown the bot
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop scheduling before the client goes away so running fires can still deliver
	trk.Stop(shutdownCtx)
	discordBot.Close(shutdownCtx)

	return nil
}

func showJobs(ctx context.Context, _ *cli.Command) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceCLI, BotLogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(ctx)

	if app.StatusMonitor == nil {
		return ErrRedisDisabled
	}

	statuses, err := app.StatusMonitor.GetAllStatuses(ctx)
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		log.Println("No job statuses recorded")
		return nil
	}

	for _, status := range statuses {
		line := fmt.Sprintf("%-20d %-9s %-8s last=%s next=%s took=%s",
			status.GuildID, status.Kind, status.Outcome,
			status.LastRun.Format(time.RFC3339), status.NextRun.Format(time.RFC3339), status.Duration)
		if status.Error != "" {
			line += " error=" + status.Error
		}
		log.Println(line)
	}

	return nil
}

func sendReport(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return ErrGuildIDRequired
	}

	guildID, err := snowflake.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid guild ID: %w", err)
	}

	app, err := setup.InitializeApp(ctx, telemetry.ServiceCLI, BotLogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(ctx)

	_, trk, err := newTracker(app)
	if err != nil {
		return err
	}

	payload, err := trk.SendDailyReportForGuild(ctx, guildID)
	if err != nil {
		return err
	}

	app.Logger.Info("Sent daily report",
		zap.Uint64("guildID", uint64(guildID)),
		zap.String("date", payload.Date),
		zap.Int64("joins", payload.Joins),
		zap.Int64("leaves", payload.Leaves))

	return nil
}
