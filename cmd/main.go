package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/pubsub"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/search"
	"chat-relay/services"
	"chat-relay/storage"
	"chat-relay/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the HTTP server and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	//  Defer will be executed before run() returned anything to main()
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Search Index (Bluge)
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = writer.Close()
	}()

	// 4. Core Components
	monitoring := observability.NewMonitoringManager(log)

	if log.Enabled(context.Background(), slog.LevelDebug) {
		endpoint := "/inspect"
		log.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		internal.StartDebugServer(db, config.DebugPort, endpoint, internal.MessageMapper, func() map[string]any {
			stats := monitoring.Snapshot()
			return map[string]any{
				"messages_created": stats.MessagesCreated,
				"active_channels":  stats.ActiveChannels,
				"events_delivered": stats.EventsDelivered,
			}
		})
	}

	registry := runtime.NewRegistry()
	dispatcher := runtime.NewDispatcher(registry, log, config.SendTimeout, monitoring)
	events := make(chan event.DomainEvent, config.BufferSize)

	messageRepository := repositories.NewMessageRepository(db, log)
	userRepository := repositories.NewUserRepository(db)

	index := search.NewMessageIndex(writer, log, config.SearchLimit)

	moderator, err := moderation.NewModerator(
		splitWords(config.CensoredWords), config.ModerationCharReplacement, log)
	if err != nil {
		return fmt.Errorf("moderator setup failed: %w", err)
	}

	blobs, err := storage.NewBlobStore(config.MediaDir, config.MediaBaseURL, config.MaxImageBytes, log)
	if err != nil {
		return fmt.Errorf("blob store setup failed: %w", err)
	}

	tokens := auth.NewTokenManager(config.JWTSecret, config.SessionDuration, config.ChannelTokenDuration)

	// 5. Event Sinks & Supervision
	sinks := []contract.EventSink{index}

	sup := workers.NewSupervisor(log)

	var bus *pubsub.Bus
	if config.NATSUrl != "" {
		bus, err = pubsub.Connect(config.NATSUrl, config.InstanceID, log)
		if err != nil {
			return fmt.Errorf("message bus connection failed: %w", err)
		}
		defer bus.Close()
		sinks = append(sinks, bus)
		sup.Add(workers.NewBusBridge(log, bus, dispatcher))
	}

	sup.Add(
		workers.NewEventFanout(log, events, dispatcher, config.SinkTimeout, sinks...),
		workers.NewTelemetryWorker(log, monitoring, config.TelemetryInterval),
	)

	// 6. Services & HTTP Layer
	chatService := services.NewChatService(messageRepository, blobs, &moderator, index,
		events, log, monitoring, config.InstanceID, config.PollInterval, config.PollTimeout)
	authService := services.NewAuthService(userRepository, tokens)

	handler := transport.NewHandler(chatService, authService, monitoring, log, config.SessionDuration)
	gate := transport.NewChannelGate(registry, tokens, chatService, monitoring, log)
	app := transport.NewApp(handler, gate, tokens, blobs.Dir())

	// 7. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sup.Run(ctx)

	// Use an error channel to capture Listen() issues
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := app.Listen(address); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final Cleanup
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("HTTP server shutdown", "error", err)
	}
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

func splitWords(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if w := strings.TrimSpace(p); w != "" {
			words = append(words, w)
		}
	}
	return words
}
