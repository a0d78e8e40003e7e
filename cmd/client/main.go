package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/client"
	"chat-relay/domain"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS,default=http://localhost:8080"`
	Email         string `env:"CHAT_EMAIL,required=true"`
	Name          string `env:"CHAT_NAME"`
	Password      string `env:"CHAT_PASSWORD,required=true"`
	PeerID        string `env:"CHAT_PEER_ID,required=true"`
	LogLevel      string `env:"LOG_LEVEL,default=warn"`
}

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(config.ServerAddress, log)

	if err := c.Login(ctx, config.Email, config.Password); err != nil {
		if config.Name == "" {
			return exitRuntime, fmt.Errorf("login failed (set CHAT_NAME to sign up): %w", err)
		}
		if err := c.Signup(ctx, config.Email, config.Name, config.Password); err != nil {
			return exitRuntime, fmt.Errorf("signup failed: %w", err)
		}
		color.Green.Println("Account created")
	}

	history, err := c.History(ctx, config.PeerID)
	if err != nil {
		return exitRuntime, fmt.Errorf("history fetch failed: %w", err)
	}
	for _, m := range history {
		printMessage(m, config.PeerID)
	}

	// Live updates run in the background while stdin drives outgoing commands.
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- c.Listen(ctx, func(m domain.Message) {
			printMessage(m, config.PeerID)
		})
	}()

	color.Gray.Println("Connected. Type a message, /history, /delete <id> or /quit.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case err := <-listenErr:
			if err != nil && ctx.Err() == nil {
				return exitRuntime, fmt.Errorf("live connection lost: %w", err)
			}
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if err := handleLine(ctx, c, config.PeerID, line); err != nil {
				if err == errQuit {
					return exitOK, nil
				}
				color.Red.Println(err)
			}
		}
	}
}

var errQuit = fmt.Errorf("quit")

func handleLine(ctx context.Context, c *client.Client, peerID, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == "/quit":
		return errQuit
	case line == "/history":
		messages, err := c.History(ctx, peerID)
		if err != nil {
			return err
		}
		for _, m := range messages {
			printMessage(m, peerID)
		}
		return nil
	case strings.HasPrefix(line, "/delete "):
		id, err := uuid.Parse(strings.TrimSpace(strings.TrimPrefix(line, "/delete ")))
		if err != nil {
			return fmt.Errorf("invalid message id: %w", err)
		}
		return c.Delete(ctx, id)
	default:
		_, err := c.Send(ctx, peerID, line)
		return err
	}
}

func printMessage(m domain.Message, peerID string) {
	stamp := m.CreatedAt.Local().Format("15:04:05")
	if m.SenderID == peerID {
		fmt.Printf("%s %s %s\n", color.Gray.Render(stamp), color.Cyan.Render("<"), m.Text)
		return
	}
	fmt.Printf("%s %s %s\n", color.Gray.Render(stamp), color.Green.Render(">"), m.Text)
}
