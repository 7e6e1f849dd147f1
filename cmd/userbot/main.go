package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/provtools/userbot/internal/ai"
	"github.com/provtools/userbot/internal/backend"
	"github.com/provtools/userbot/internal/config"
	"github.com/provtools/userbot/internal/jira"
	"github.com/provtools/userbot/internal/processor"
	"github.com/provtools/userbot/internal/runlog"
	"github.com/provtools/userbot/internal/secrets"
	"github.com/provtools/userbot/internal/status"
	"github.com/provtools/userbot/pkg/database"
	"github.com/provtools/userbot/pkg/logging"
)

func main() {
	var (
		configPath = pflag.String("config", "configs/config.yaml", "path to the configuration file")
		watch      = pflag.Bool("watch", false, "keep running, processing tickets on an interval")
		interval   = pflag.Duration("interval", 0, "watch interval (overrides config)")
		ticketKey  = pflag.String("ticket", "", "process a single ticket by key and exit")
		historyKey = pflag.String("history", "", "print the run journal for a ticket and exit")
		dryRun     = pflag.Bool("dry-run", false, "compute everything, post and upload nothing")
		verbose    = pflag.Bool("verbose", false, "debug logging")
	)
	pflag.Parse()

	// Optional .env for local development; ignore absence.
	_ = gotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Processor.DryRun = true
	}
	if *interval > 0 {
		cfg.Processor.Interval = *interval
	}

	logLevel := cfg.Logger.Level
	if *verbose {
		logLevel = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:      logLevel,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting userbot",
		zap.Bool("watch", *watch),
		zap.Bool("dry_run", cfg.Processor.DryRun),
		zap.String("project", cfg.Jira.Project))

	db, err := database.New(database.Config{Path: cfg.Runlog.Path}, logger)
	if err != nil {
		logger.Fatal("Failed to open run journal database", zap.Error(err))
	}
	defer db.Close()

	journal, err := runlog.NewStore(db, logger)
	if err != nil {
		logger.Fatal("Failed to initialize run journal", zap.Error(err))
	}

	if *historyKey != "" {
		printHistory(journal, *historyKey)
		return
	}

	ticketStore := jira.NewClient(jira.Config{
		BaseURL:  cfg.Jira.BaseURL,
		Email:    cfg.Jira.Email,
		APIToken: cfg.Jira.APIToken,
		Timeout:  cfg.Jira.APITimeout,
	}, logger)

	credCache := secrets.NewCache(&secrets.CLISource{
		Command: cfg.Secrets.Command,
		Timeout: cfg.Secrets.Timeout,
		Logger:  logger,
	}, logger)

	tokenHolder := backend.NewTokenHolder()
	backendAPI := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.APITimeout,
	}, tokenHolder, logger)

	intel := ai.NewClient(ai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     cfg.OpenAI.Timeout,
	}, logger)

	proc := processor.New(processor.Config{
		BotAccountID: cfg.Jira.BotAccountID,
		Project:      cfg.Jira.Project,
		DryRun:       cfg.Processor.DryRun,
	}, ticketStore, credCache, backendAPI, intel, journal, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *ticketKey != "" {
		if err := proc.ProcessKey(ctx, *ticketKey); err != nil {
			logger.Error("Ticket processing failed", zap.String("ticket", *ticketKey), zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if !*watch {
		if err := proc.RunOnce(ctx); err != nil {
			logger.Error("Run failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.NewServer(status.Config{
			Host: cfg.Status.Host,
			Port: cfg.Status.Port,
		}, credCache, journal, logger)
		statusServer.Start()
	}

	runWatch(ctx, proc, cfg.Processor.Interval, logger)

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Status server shutdown failed", zap.Error(err))
		}
	}
	logger.Info("Shutdown complete")
}

func printHistory(journal *runlog.Store, ticketKey string) {
	events, err := journal.History(context.Background(), ticketKey, 100)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read run journal: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Printf("No journal entries for %s\n", ticketKey)
		return
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-11s %-9s", e.CreatedAt.Format(time.RFC3339), e.Step, e.Status)
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
}

// runWatch processes tickets immediately, then on every tick until the
// context is cancelled. Runs never overlap: the loop is strictly sequential.
func runWatch(ctx context.Context, proc *processor.Processor, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := proc.RunOnce(ctx); err != nil {
			logger.Error("Run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
