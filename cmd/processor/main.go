package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"news_processor/internal/config"
	"news_processor/internal/domain"
	"news_processor/internal/processor/api"
	"news_processor/internal/publisher"
	"news_processor/internal/scheduler"
	"news_processor/internal/service"
	"news_processor/internal/storage/postgres"
	"news_processor/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	registerFile := flag.String("register", "", "register a JSON batch of discovered links and exit")
	taskName := flag.String("task", "manual", "source task name for -register")
	showStats := flag.Bool("stats", false, "print ledger statistics and exit")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	linkStore := postgres.NewLinkStore(db)
	taskStore := postgres.NewTaskStateStore(db)
	statsStore := postgres.NewStatsStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if *showStats {
		if err := printStats(ctx, statsStore); err != nil {
			logger.Error("failed to read statistics", "error", err)
			os.Exit(1)
		}
		return
	}

	if *registerFile != "" {
		registerSvc := service.NewRegisterService(linkStore, taskStore, logger)
		if err := registerBatchFile(ctx, registerSvc, *registerFile, *taskName); err != nil {
			logger.Error("failed to register batch", "error", err)
			os.Exit(1)
		}
		return
	}

	// Initialize RabbitMQ publisher (optional)
	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	processorClient := api.New(api.Config{
		BaseURL: cfg.Processor.BaseURL,
		APIKey:  cfg.Processor.APIKey,
	}, logger)

	w := worker.New(linkStore, processorClient, pub, logger, worker.Config{
		SameDomainDelay:      cfg.Processing.SameDomainDelay,
		MaxConcurrentDomains: cfg.Processing.MaxConcurrentDomains,
		MaxRetries:           cfg.Processing.MaxRetries,
		ProcessingTimeout:    cfg.Processing.ProcessingTimeout,
		ClaimBatch:           cfg.Processing.ClaimBatch,
		BackoffBase:          cfg.Processing.BackoffBase,
	})

	sched := scheduler.NewScheduler(w, cfg.Worker.Interval, cfg.Worker.DrainTimeout, logger)

	logger.Info("starting news processor",
		"interval", cfg.Worker.Interval,
		"max_concurrent_domains", cfg.Processing.MaxConcurrentDomains,
		"same_domain_delay", cfg.Processing.SameDomainDelay,
	)

	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func registerBatchFile(ctx context.Context, svc *service.RegisterService, path, task string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}

	var items []domain.DiscoveredLink
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}

	_, err = svc.RegisterBatch(ctx, task, items)
	return err
}

func printStats(ctx context.Context, store *postgres.StatsStore) error {
	stats, err := store.LedgerStats(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
