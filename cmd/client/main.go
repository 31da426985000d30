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

	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/client/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverURL string
	token     string
	roomID    string
	peerID    string
	verbose   bool

	rootCmd = &cobra.Command{
		Use:          "roomchat-client",
		Short:        "Terminal client for a roomchat room",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd)
		},
	}
)

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server base URL")
	rootCmd.Flags().StringVar(&token, "token", os.Getenv("ROOMCHAT_TOKEN"), "bearer token (defaults to $ROOMCHAT_TOKEN)")
	rootCmd.Flags().StringVar(&roomID, "room", "", "room id to join")
	rootCmd.Flags().StringVar(&peerID, "peer", "", "user id to chat with; resolves the room through the server")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "log connection details")
	rootCmd.MarkFlagsOneRequired("room", "peer")
	rootCmd.MarkFlagsMutuallyExclusive("room", "peer")
}

func run(ctx context.Context, cmd *cobra.Command) error {
	if token == "" {
		return errors.New("token is required. Use --token or ROOMCHAT_TOKEN")
	}
	logger := zap.NewNop()
	if verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()

	room := roomID
	if peerID != "" {
		var err error
		room, err = client.GetOrCreateRoom(ctx, nil, serverURL, token, peerID)
		if err != nil {
			return err
		}
	}

	c := ws.New(ws.RoomURL(serverURL, room, token), logger)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()
	fmt.Fprintf(out, "Joined room %s\n", room)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for msg := range c.Messages() {
			fmt.Fprintf(out, "> %s\n", msg)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Fprintln(out, "Type your messages (or 'quit' to exit):")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			if err := c.Err(); err != nil {
				return fmt.Errorf("disconnected: %w", err)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if text == "quit" || text == "exit" {
				return nil
			}
			if err := c.SendMessage(ctx, text); err != nil {
				logger.Warn("failed to send message", zap.Error(err))
				fmt.Fprintf(cmd.ErrOrStderr(), "send failed: %v\n", err)
			}
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
