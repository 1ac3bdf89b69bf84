package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-gateway/internal/client"
	"github.com/vovakirdan/wirechat-gateway/internal/log"
	"github.com/vovakirdan/wirechat-gateway/internal/proto"
)

func main() {
	if err := newChatCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
}

func newChatCmd() *cobra.Command {
	var (
		cfg      = client.DefaultConfig()
		session  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "chat",
		Short:         "Interactive chat client for the wirechat gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if session == "" {
				return errors.New("--session is required")
			}
			return run(cmd, cfg, session, logLevel)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.URL, "url", "http://localhost:8080", "gateway base URL")
	f.StringVar(&cfg.UserID, "user", "", "user id to announce")
	f.StringVar(&cfg.Token, "token", "", "identity token")
	f.StringVar(&session, "session", "", "session to chat in")
	f.StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

func run(cmd *cobra.Command, cfg client.Config, session, logLevel string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	handler := client.HandlerFuncs{
		Message: func(m proto.Message) {
			if m.SessionID == session {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt, m.SenderID, m.Text)
			}
		},
		Typing: func(sessionID, userID string, typing bool) {
			if sessionID != session {
				return
			}
			if typing {
				fmt.Fprintf(out, "* %s is typing\n", userID)
			}
		},
		Presence: func(userID string, online bool) {
			state := "offline"
			if online {
				state = "online"
			}
			fmt.Fprintf(out, "* %s is %s\n", userID, state)
		},
		State: func(s client.State) {
			fmt.Fprintf(out, "-- %s\n", s)
		},
	}

	driver, err := client.New(cfg, handler, log.New(logLevel))
	if err != nil {
		return err
	}
	driver.Watch(session)

	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	fmt.Fprintf(out, "Chatting in %s. Type messages and press Enter to send, /typing to announce typing. Ctrl+C to exit.\n", session)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return waitDriver(done)
		case line, ok := <-lines:
			if !ok {
				stop()
				return waitDriver(done)
			}
			text := strings.TrimSpace(line)
			switch text {
			case "":
				continue
			case "/typing":
				driver.Typing(session)
				continue
			}
			if err := driver.Send(ctx, session, text); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "send: %v\n", err)
			}
		}
	}
}

func waitDriver(done <-chan error) error {
	err := <-done
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
