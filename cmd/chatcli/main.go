// Command chatcli is a terminal client for the live channel.
//
//	hello everyone        room message to your branch
//	/w hello world        world message (costs a broadcast horn)
//	/dm <uuid> psst       direct message
//	/quit                 log out
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/client"
	"github.com/lalith-99/stationchat/internal/models"
	"github.com/lalith-99/stationchat/internal/observ"
	"github.com/lalith-99/stationchat/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	url := flag.String("url", "ws://localhost:8081/ws", "websocket endpoint")
	token := flag.String("token", os.Getenv("STATIONCHAT_TOKEN"), "bearer token (default $STATIONCHAT_TOKEN)")
	logLevel := flag.String("log-level", "warn", "client log level")
	flag.Parse()

	if *token == "" {
		return fmt.Errorf("no token: pass -token or set STATIONCHAT_TOKEN")
	}

	logger, err := observ.NewLogger("development", *logLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	done := make(chan struct{})
	m := client.New(client.Options{
		URL:               *url,
		Token:             func() string { return *token },
		KeepaliveInterval: 25 * time.Second,
		Logger:            logger,
		OnStateChange: func(from, to client.State) {
			fmt.Printf("* %s -> %s\n", from, to)
			if to == client.GivenUp {
				close(done)
			}
		},
	})

	for _, kind := range []protocol.Kind{
		protocol.KindRoomMessage,
		protocol.KindBroadcastMessage,
		protocol.KindDirectMessage,
	} {
		m.On(kind, printMessage)
	}
	m.On(protocol.KindPeerOnline, func(env protocol.ServerEnvelope) {
		fmt.Printf("* %s is online\n", env.Identity)
	})
	m.On(protocol.KindPeerOffline, func(env protocol.ServerEnvelope) {
		fmt.Printf("* %s went offline\n", env.Identity)
	})
	m.On(protocol.KindTyping, func(env protocol.ServerEnvelope) {
		if env.IsTyping != nil && *env.IsTyping {
			fmt.Printf("* %s is typing...\n", env.FromIdentity)
		}
	})
	m.On(protocol.KindOperationError, func(env protocol.ServerEnvelope) {
		fmt.Printf("! %s\n", env.Reason)
	})
	m.On(protocol.KindAuthSuccess, func(env protocol.ServerEnvelope) {
		fmt.Printf("* signed in as %s\n", env.Identity)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Connect(ctx); err != nil {
		return err
	}
	defer m.Close()

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
			return nil
		case <-done:
			return fmt.Errorf("gave up after %d attempts", client.DefaultMaxAttempts)
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			if err := dispatch(m, line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

func dispatch(m *client.Manager, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case strings.HasPrefix(line, "/w "):
		return m.SendBroadcast(strings.TrimPrefix(line, "/w "))
	case strings.HasPrefix(line, "/dm "):
		fields := strings.SplitN(strings.TrimPrefix(line, "/dm "), " ", 2)
		if len(fields) != 2 {
			return fmt.Errorf("usage: /dm <uuid> <text>")
		}
		target, err := uuid.Parse(fields[0])
		if err != nil {
			return fmt.Errorf("bad user id: %w", err)
		}
		return m.SendDirect(target, fields[1], models.SubtypeText)
	default:
		return m.SendRoom(line)
	}
}

func printMessage(env protocol.ServerEnvelope) {
	msg := env.Message
	if msg == nil {
		return
	}
	at := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	who := msg.SenderDisplay.Nickname
	if who == "" {
		who = msg.SenderIdentity.String()
	}
	switch env.Kind {
	case protocol.KindBroadcastMessage:
		fmt.Printf("[%s] [world] %s @ %s: %s\n", at, who, msg.SenderDisplay.BranchName, msg.Content)
	case protocol.KindDirectMessage:
		fmt.Printf("[%s] [dm] %s: %s\n", at, who, msg.Content)
	default:
		fmt.Printf("[%s] %s: %s\n", at, who, msg.Content)
	}
}
