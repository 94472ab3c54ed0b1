package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	botbridge "github.com/clanops/botbridge"
)

// Runs both halves of the bridge in one process for demonstration: the
// consumer side with no-op collaborators, and a dispatcher call against it.
func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := botbridge.LoadConfig(os.Getenv("BOTBRIDGE_CONFIG"))
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	metrics, metricsHandler, err := botbridge.NewPrometheusMetrics()
	if err != nil {
		logger.Fatal("Failed to set up metrics", zap.Error(err))
	}

	bridge := botbridge.NewBridge(cfg,
		botbridge.WithLogger(logger),
		botbridge.WithMetrics(metrics),
	)
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if report := bridge.Health(ctx); !report.Reachable {
		logger.Fatal("Broker unreachable", zap.String("addr", cfg.RedisAddr))
	}

	// Bot side: full catalog against no-op collaborators.
	bot := botbridge.NewNopBot()
	registry := botbridge.NewCatalogRegistry(bot, bot, bot, bot)
	consumer := bridge.NewConsumer(registry)

	supervisor := botbridge.NewSupervisor(logger,
		consumer,
		consumer.Reclaimer(),
		bridge.Trimmer(),
	)
	go supervisor.Start(ctx)

	opsServer := &http.Server{
		Addr:    cfg.OpsListenAddr,
		Handler: botbridge.NewOpsServer(bridge, metricsHandler).Router(),
	}
	go func() {
		logger.Info("Ops server listening", zap.String("addr", cfg.OpsListenAddr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Ops server failed", zap.Error(err))
		}
	}()

	// Web-backend side: dispatch one command and report the outcome.
	enabled := false
	result, err := bridge.Dispatcher().Dispatch(ctx, botbridge.CommandToggleService, 1001,
		botbridge.ToggleServicePayload{Service: "irc_bridge", Enabled: &enabled}, 0)
	if err != nil {
		logger.Error("Dispatch aborted", zap.Error(err))
	} else {
		logger.Info("Dispatch finished",
			zap.String("command_id", result.CommandID),
			zap.Int("attempts", result.Attempts),
			zap.Bool("acknowledged", result.Acknowledged),
			zap.Bool("dead_lettered", result.DeadLettered),
			zap.String("dead_letter_id", result.DeadLetterID))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = opsServer.Shutdown(shutdownCtx)
	supervisor.Stop()
	cancel()
}
