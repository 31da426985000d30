package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/identity"
	"github.com/omochice/roomchat/internal/logger"
	"github.com/omochice/roomchat/internal/metrics"
	"github.com/omochice/roomchat/internal/server"
	"github.com/omochice/roomchat/internal/storage"
	"github.com/omochice/roomchat/internal/storage/database"
	"github.com/omochice/roomchat/internal/transport/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string

	tokenUser  string
	tokenRole  string
	tokenEmail string

	rootCmd = &cobra.Command{
		Use:          "roomchat",
		Short:        "Two-party chat room server",
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for the jwt identity provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			issuer, err := identity.NewJWT(cfg.Auth.JWT)
			if err != nil {
				return err
			}
			role := tokenRole
			if role == "" {
				role = cfg.Auth.Role
			}
			token, err := issuer.Issue(tokenUser, role, tokenEmail)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of roomchat",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "roomchat version %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "", "path to configuration file")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id carried in the token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "role claim (defaults to auth.role)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(serveCmd, tokenCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("ROOMCHAT_CONFIG")
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// run wires every component from cfg and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	m := metrics.New("roomchat")

	provider, err := identity.New(cfg.Auth, &http.Client{Timeout: cfg.Auth.Timeout}, log)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store, err := storage.Open(ctx, cfg.Storage, db, log, m)
	if err != nil {
		return err
	}
	m.Gauge("persist_queue_length", "Messages waiting to be persisted.", func() float64 {
		return float64(store.QueueLen())
	})

	registry := chat.NewRegistry()
	engine := chat.NewEngine(chat.Options{
		Registry:   registry,
		Handshaker: chat.NewHandshaker(provider, cfg.Auth.Role, cfg.Auth.Timeout, log, m),
		Sink:       store.Sink(),
		Config: chat.Config{
			SendBuffer:      cfg.Chat.SendBuffer,
			MaxMessageBytes: cfg.Chat.MaxMessageBytes,
		},
		Logger:   log,
		Recorder: m,
	})
	m.TrackRegistry(registry)

	srv := server.New(server.Options{
		Addr:   cfg.Server.Addr,
		Mode:   cfg.Server.Mode,
		Engine: engine,
		Transport: ws.Config{
			PingInterval: cfg.Chat.PingInterval,
			PongWait:     cfg.Chat.PongWait,
			WriteTimeout: cfg.Chat.WriteTimeout,
			ReadLimit:    cfg.Chat.MaxMessageBytes,
		},
		Identity:    provider,
		AuthTimeout: cfg.Auth.Timeout,
		Directory:   db,
		History:     store.History(),
		Metrics:     m,
		Health:      func(context.Context) error { return db.Ping() },
		Logger:      log,
	})

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting roomchat", zap.String("version", version), zap.String("addr", cfg.Server.Addr))
		errChan <- srv.Start()
	}()

	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	stopErr := srv.Stop(shutdownCtx)
	storeErr := store.Close(shutdownCtx)
	if errors.Is(stopErr, context.DeadlineExceeded) {
		log.Warn("shutdown timed out", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	}
	log.Info("roomchat stopped")
	return errors.Join(serveErr, stopErr, storeErr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

