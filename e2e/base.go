package e2e

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"

	"chat-relay/auth"
	"chat-relay/client"
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/search"
	"chat-relay/services"
	"chat-relay/storage"
	"chat-relay/transport"
)

// BaseRelaySuite boots a complete relay instance for scenario tests:
// in-memory Badger, a throwaway Bluge index, the fanout worker and the
// Fiber app on a random localhost port. E2E_SERVER_ADDR skips the boot
// and targets an external instance instead.
type BaseRelaySuite struct {
	suite.Suite
	Config  Config
	BaseURL string

	app    *fiber.App
	db     *badger.DB
	writer *bluge.Writer
	sup    contract.ISupervisor
	cancel context.CancelFunc
}

func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	if s.Config.ServerAddr != "" {
		s.BaseURL = s.Config.ServerAddr
		return
	}
	s.bootRelay()
}

func (s *BaseRelaySuite) TearDownSuite() {
	if s.app == nil {
		return
	}
	_ = s.app.ShutdownWithTimeout(5 * time.Second)
	s.cancel()
	s.sup.Stop()
	_ = s.writer.Close()
	_ = s.db.Close()
}

func (s *BaseRelaySuite) bootRelay() {
	require := s.Require()
	log := logs.GetLoggerFromString("warn")

	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	require.NoError(err)
	s.db = db

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(s.T().TempDir()))
	require.NoError(err)
	s.writer = writer

	monitoring := observability.NewMonitoringManager(log)
	registry := runtime.NewRegistry()
	dispatcher := runtime.NewDispatcher(registry, log, time.Second, monitoring)
	events := make(chan event.DomainEvent, 64)

	index := search.NewMessageIndex(writer, log, 20)
	moderator, err := moderation.NewModerator([]string{"badger"}, '*', log)
	require.NoError(err)
	blobs, err := storage.NewBlobStore(s.T().TempDir(), "/media", 1<<20, log)
	require.NoError(err)
	tokens := auth.NewTokenManager("e2e-secret", time.Hour, time.Minute)

	// Aggressive poll interval keeps the long-poll scenario fast.
	chatService := services.NewChatService(
		repositories.NewMessageRepository(db, log), blobs, &moderator, index,
		events, log, monitoring, "e2e", 20*time.Millisecond, 2*time.Second)
	authService := services.NewAuthService(repositories.NewUserRepository(db), tokens)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sup = workers.NewSupervisor(log).Add(
		workers.NewEventFanout(log, events, dispatcher, time.Second, index),
	)
	go s.sup.Run(ctx)

	handler := transport.NewHandler(chatService, authService, monitoring, log, time.Hour)
	gate := transport.NewChannelGate(registry, tokens, chatService, monitoring, log)
	s.app = transport.NewApp(handler, gate, tokens, blobs.Dir())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	s.BaseURL = "http://" + ln.Addr().String()

	go func() {
		if err := s.app.Listener(ln); err != nil {
			log.Error("Relay listener stopped", "error", err)
		}
	}()
}

// Step prints a colorized header so scenario phases stand out in logs.
func (s *BaseRelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// NewAccount signs up a fresh user and returns a ready client.
func (s *BaseRelaySuite) NewAccount(ctx context.Context, name string) *client.Client {
	c := client.New(s.BaseURL, logs.GetLoggerFromString("warn"))
	email := fmt.Sprintf("%s-%d@example.com", name, time.Now().UnixNano())
	s.Require().NoError(c.Signup(ctx, email, name, "S3cure-pass!"))
	s.Require().NotEmpty(c.UserID())
	return c
}
