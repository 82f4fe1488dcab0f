// Package main is the entry point for the guild-sentinel detection service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guild-sentinel/internal/alerting"
	"guild-sentinel/internal/config"
	"guild-sentinel/internal/consumer"
	"guild-sentinel/internal/detector"
	senterrors "guild-sentinel/internal/errors"
	"guild-sentinel/internal/ingest"
	"guild-sentinel/internal/kafka"
	"guild-sentinel/internal/ledger"
	"guild-sentinel/internal/logging"
	"guild-sentinel/internal/platform"
	"guild-sentinel/internal/policy"
	"guild-sentinel/internal/queue"
	"guild-sentinel/internal/schema"
	"guild-sentinel/internal/secrets"
	"guild-sentinel/internal/storage"
)

func main() {
	// Load configuration first; the log level comes from it.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	senterrors.SetProductionMode(cfg.Server.Production)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolve the gateway token through the secrets manager.
	secretsMgr, err := secrets.NewManager(secrets.Config{
		EnableEnv:  cfg.Secrets.EnableEnv,
		EnableFile: cfg.Secrets.EnableFile,
		FileDir:    cfg.Secrets.FileDir,
		CacheTTL:   cfg.Secrets.CacheTTL,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to initialize secrets manager", "error", err)
		os.Exit(1)
	}

	apiToken, err := secretsMgr.ResolveSecret(ctx, cfg.Platform.APITokenRef)
	if err != nil {
		slog.Warn("gateway token not resolved, enforcement calls will be unauthenticated",
			"ref", cfg.Platform.APITokenRef, "error", err)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"queue_size", cfg.Queue.Size,
		"auth_enabled", cfg.Auth.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_consumer", cfg.Kafka.ConsumerEnabled,
		"platform_url", cfg.Platform.BaseURL,
		"platform_token", logging.MaskAPIKey(apiToken),
	)

	// Core detection state.
	validator := schema.NewValidatorWithConfig(schema.ValidatorConfig{
		MaxAge:    cfg.Validation.MaxEventAge,
		MaxFuture: cfg.Validation.MaxFuture,
	})

	eventQueue := queue.NewRingBuffer(cfg.Queue.Size)

	policies := policy.NewStore(cfg.Policy.GlobalExemptions)

	actionLedger := ledger.New()
	actionLedger.StartSweeper(ctx, cfg.Detector.SweepInterval, cfg.Detector.MaxIdleWindow)

	gateway := platform.NewClient(platform.ClientConfig{
		BaseURL:  cfg.Platform.BaseURL,
		APIToken: apiToken,
		Timeout:  cfg.Platform.Timeout,
	})

	// Alerting pipeline.
	var cooldown alerting.CooldownStore
	if cfg.Alerting.RedisEnabled {
		cooldown, err = alerting.NewRedisCooldown(alerting.RedisCooldownConfig{
			Addr:     cfg.Alerting.Redis.Addr,
			Password: cfg.Alerting.Redis.Password,
			DB:       cfg.Alerting.Redis.DB,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	} else {
		cooldown = alerting.NewMemoryCooldown()
	}

	channels := []alerting.NotificationChannel{alerting.NewLogChannel()}

	if cfg.Alerting.Webhook.Enabled {
		channels = append(channels,
			alerting.NewWebhookChannel("webhook", cfg.Alerting.Webhook.URL, cfg.Alerting.Webhook.Headers))
	}

	var alertProducer *kafka.Producer
	if cfg.Kafka.AlertsEnabled {
		producerCfg := kafka.DefaultConfig()
		producerCfg.Brokers = cfg.Kafka.Brokers
		producerCfg.Topic = cfg.Kafka.AlertsTopic
		producerCfg.SecurityProtocol = cfg.Kafka.SecurityProtocol
		producerCfg.SASLMechanism = cfg.Kafka.SASLMechanism
		producerCfg.SASLUsername = cfg.Kafka.SASLUsername
		producerCfg.SASLPassword = cfg.Kafka.SASLPassword
		producerCfg.TLSEnabled = cfg.Kafka.TLSEnabled

		alertProducer, err = kafka.NewProducer(producerCfg, slog.Default())
		if err != nil {
			slog.Error("failed to create alert producer", "error", err)
			os.Exit(1)
		}
		channels = append(channels, alerting.NewKafkaChannel(alertProducer))
	}

	notifier := alerting.NewNotifier(alerting.NotifierConfig{
		WarnCooldown: cfg.Alerting.WarnCooldown,
		SendTimeout:  cfg.Alerting.SendTimeout,
	}, cooldown, channels...)

	// Optional incident archive.
	var chClient *storage.ClickHouseClient
	var archive *storage.IncidentArchive
	var archiver detector.Archiver

	if cfg.Storage.Enabled {
		slog.Info("initializing incident archive",
			"hosts", cfg.Storage.ClickHouse.Hosts,
			"database", cfg.Storage.ClickHouse.Database,
		)

		chClient, err = storage.NewClickHouseClient(storage.ClickHouseConfig{
			Hosts:           cfg.Storage.ClickHouse.Hosts,
			Database:        cfg.Storage.ClickHouse.Database,
			Username:        cfg.Storage.ClickHouse.Username,
			Password:        cfg.Storage.ClickHouse.Password,
			MaxOpenConns:    cfg.Storage.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ClickHouse.ConnMaxLifetime,
			TLSEnabled:      cfg.Storage.ClickHouse.TLSEnabled,
			DialTimeout:     cfg.Storage.ClickHouse.DialTimeout,
		})
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		slog.Info("running database migrations")
		migrator := storage.NewMigrator(chClient)
		if err := migrator.Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		archive = storage.NewIncidentArchive(chClient, storage.ArchiveConfig{
			BatchSize:     cfg.Storage.Archive.BatchSize,
			FlushInterval: cfg.Storage.Archive.FlushInterval,
			MaxRetries:    cfg.Storage.Archive.MaxRetries,
			RetryDelay:    cfg.Storage.Archive.RetryDelay,
		})
		archiver = archive
	}

	// Detection orchestrator and workers.
	detectorCfg := detector.Config{
		RankCheckTimeout: cfg.Detector.RankCheckTimeout,
		EnforceTimeout:   cfg.Detector.EnforceTimeout,
		KickDelay:        cfg.Detector.KickDelay,
		KickStaleness:    cfg.Detector.KickStaleness,
	}
	orchestrator := detector.NewOrchestrator(detectorCfg, policies, actionLedger, gateway, notifier, archiver)

	kicks := detector.NewKickVerifier(detectorCfg, gateway, func(event *schema.ActionEvent) {
		if err := eventQueue.Push(event); err != nil {
			slog.Warn("failed to enqueue verified kick", "error", err, "tenant_id", event.TenantID)
		}
	})

	detectionConsumer := consumer.New(eventQueue, orchestrator, consumer.Config{
		Workers:      cfg.Consumer.Workers,
		PollInterval: cfg.Consumer.PollInterval,
		ShutdownWait: cfg.Consumer.ShutdownWait,
	})
	detectionConsumer.Start(ctx)

	// Optional broker intake alongside HTTP.
	var eventConsumer *kafka.Consumer
	if cfg.Kafka.ConsumerEnabled {
		consumerCfg := kafka.DefaultConfig()
		consumerCfg.Brokers = cfg.Kafka.Brokers
		consumerCfg.Topic = cfg.Kafka.EventsTopic
		consumerCfg.ConsumerGroup = cfg.Kafka.ConsumerGroup
		consumerCfg.SecurityProtocol = cfg.Kafka.SecurityProtocol
		consumerCfg.SASLMechanism = cfg.Kafka.SASLMechanism
		consumerCfg.SASLUsername = cfg.Kafka.SASLUsername
		consumerCfg.SASLPassword = cfg.Kafka.SASLPassword
		consumerCfg.TLSEnabled = cfg.Kafka.TLSEnabled

		eventConsumer, err = kafka.NewConsumer(consumerCfg, brokerEventHandler(validator, eventQueue), slog.Default())
		if err != nil {
			slog.Error("failed to create event consumer", "error", err)
			os.Exit(1)
		}
		if err := eventConsumer.Start(); err != nil {
			slog.Error("failed to start event consumer", "error", err)
			os.Exit(1)
		}
	}

	// HTTP surface.
	ingestHandler := ingest.NewHandler(validator, eventQueue, kicks).
		WithMaxPayload(cfg.Ingest.MaxPayloadSize).
		WithMaxBatch(cfg.Ingest.MaxBatchSize)

	adminHandler := ingest.NewAdminHandler(policies, actionLedger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", ingestHandler.HandleEvents)
	mux.HandleFunc("POST /v1/departures", ingestHandler.HandleDepartures)
	mux.HandleFunc("GET /health", ingestHandler.HealthCheck)
	mux.HandleFunc("GET /metrics", ingestHandler.Metrics)
	adminHandler.Register(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      ingest.WithMiddleware(mux, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting sentinel server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logStartupSummary(cfg)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if eventConsumer != nil {
		if err := eventConsumer.Stop(); err != nil {
			slog.Error("event consumer stop error", "error", err)
		}
	}

	kicks.Stop()
	cancel()
	detectionConsumer.Stop()

	if err := notifier.Close(); err != nil {
		slog.Error("notifier close error", "error", err)
	}

	if alertProducer != nil {
		if err := alertProducer.Close(); err != nil {
			slog.Error("alert producer close error", "error", err)
		}
	}

	if archive != nil {
		if err := archive.Close(); err != nil {
			slog.Error("incident archive close error", "error", err)
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	actionLedger.Stop()
	eventQueue.Close()

	queueMetrics := eventQueue.Metrics()
	ledgerMetrics := actionLedger.Metrics()
	slog.Info("shutdown complete",
		"events_pushed", queueMetrics.Pushed,
		"events_popped", queueMetrics.Popped,
		"events_dropped", queueMetrics.Dropped,
		"ledger_recorded", ledgerMetrics.Recorded,
	)
}

// brokerEventHandler adapts broker messages into queued action events.
func brokerEventHandler(validator *schema.Validator, q *queue.RingBuffer) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		var event schema.ActionEvent
		if err := json.Unmarshal(value, &event); err != nil {
			// Malformed messages are dropped after logging; redelivery
			// would fail the same way.
			slog.Warn("dropping malformed broker event", "error", err)
			return nil
		}

		event.ReceivedAt = time.Now().UTC()
		if event.SchemaVersion == "" {
			event.SchemaVersion = schema.SchemaVersionCurrent
		}

		if err := validator.Validate(&event); err != nil {
			slog.Warn("dropping invalid broker event", "error", err, "event_id", event.EventID)
			return nil
		}

		return q.Push(&event)
	}
}

// logStartupSummary logs the effective detection defaults once at startup.
func logStartupSummary(cfg *config.Config) {
	thresholds := policy.DefaultThresholds()
	attrs := make([]any, 0, len(thresholds)*2+4)
	for action, limit := range thresholds {
		attrs = append(attrs, string(action), limit)
	}
	attrs = append(attrs,
		"window", policy.DefaultWindow,
		"global_exemptions", len(cfg.Policy.GlobalExemptions),
	)
	slog.Info("detection defaults", attrs...)
}
