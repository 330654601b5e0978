// Conversation orchestrator server - mediates between chat clients and the
// project-generation backend over HTTP, WebSocket, and the event bus.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/api"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/config"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convcontext"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/convstate"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/coordinator"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/eventbus"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/intent"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/llmresponder"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/logging"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/mcpclient"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/session"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/workflow"
	"github.com/codeready-toolchain/conversation-orchestrator/pkg/wshub"
)

const eventSource = "conversation-orchestrator"

// cleanupInterval is how often the session TTL sweep runs.
const cleanupInterval = time.Hour

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: Could not load %s file: %v", *envFile, err)
		log.Printf("Continuing with existing environment variables...")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Starting conversation orchestrator", "port", cfg.AppPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session Store.
	redisClient := session.NewRedisClient(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing redis client", "error", err)
		}
	}()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		slog.Error("Failed to connect to session store", "addr", cfg.RedisAddr(), "error", err)
		os.Exit(1)
	}
	cancel()
	store := session.NewRedisStore(redisClient, cfg.SessionTTL)
	slog.Info("Connected to session store", "addr", cfg.RedisAddr())

	// Context Manager, Classifier, State Tracker.
	ctxMgr := convcontext.NewManager(store)
	classifier := intent.NewClassifier(store, ctxMgr)
	tracker := convstate.NewTracker(store)

	// MCP client.
	mcp := mcpclient.New(cfg.MCPServerURL, cfg.MCPServerTimeout)

	// Event bus: consumer, then producer.
	consumer := eventbus.NewConsumer(cfg.KafkaBootstrapServers, cfg.KafkaConsumerGroup, cfg.KafkaTopics)
	producer := eventbus.NewProducer(cfg.KafkaBootstrapServers, eventSource)
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("Error closing event producer", "error", err)
		}
	}()

	// Workflow driver and coordinator.
	driver := workflow.NewDriver(mcp, tracker, ctxMgr, producer)
	coord := coordinator.New(store, ctxMgr, classifier, tracker, driver, llmresponder.NewTemplateResponder(), producer)

	// WebSocket hub, fed by the coordinator for inbound chat frames.
	hub := wshub.New(coord, coord)

	// Core event handlers fan in to the session store and out over the hub.
	handlers := eventbus.NewCoreHandlers(store, ctxMgr, tracker, hub)
	handlers.Register(consumer)
	consumer.Start(ctx)
	defer func() {
		if err := consumer.Stop(); err != nil {
			slog.Error("Error stopping event consumer", "error", err)
		}
	}()
	slog.Info("Event bus consumer started", "topics", cfg.KafkaTopics, "group", cfg.KafkaConsumerGroup)

	// Background session TTL sweep.
	go runCleanupLoop(ctx, store, cfg.SessionTTL)

	// HTTP API.
	srv := api.NewServer(store, ctxMgr, tracker, cfg.CORSOrigins)
	srv.SetCoordinator(coord)
	srv.SetHub(hub)
	srv.AddReadinessCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	if err := srv.ValidateWiring(); err != nil {
		slog.Error("Server wiring incomplete", "error", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", ":"+cfg.AppPort)
		serverErr <- srv.Start(":" + cfg.AppPort)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Shutdown complete")
}

// runCleanupLoop evicts sessions idle past the TTL window. Redis expires the
// session blobs on its own; the sweep keeps the active set honest and
// removes sessions whose last_activity predates the cutoff.
func runCleanupLoop(ctx context.Context, store session.Store, ttl time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Cleanup(ctx, time.Now().Add(-ttl))
			if err != nil {
				slog.Warn("Session cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("Session cleanup removed expired sessions", "count", removed)
			}
		}
	}
}
