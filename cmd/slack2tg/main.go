package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"slack2tg/internal/audit"
	"slack2tg/internal/config"
	"slack2tg/internal/domain"
	"slack2tg/internal/routing"
	"slack2tg/internal/security"
	"slack2tg/internal/server"
	"slack2tg/internal/telegram"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "slack2tg",
		Short:   "Relay Slack incoming webhooks to Telegram",
		Long:    "slack2tg accepts Slack-style incoming-webhook payloads and delivers them to Telegram chats.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.slack2tg/config.yaml, if present)")

	root.AddCommand(serveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the --config file, or the default file when it exists.
// Without either, defaults and environment variables are used.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
			path = config.DefaultConfigPath()
		}
	}
	return config.Load(path)
}

func newLogger(cfg config.GeneralConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.JSONLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook relay",
		Long:  "Listens for webhooks on /hook/{routeKey} and delivers them to Telegram. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.General)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deliverer := dialTelegram(cfg)

	var store *audit.SQLiteStore
	var auditLog domain.AuditLogger
	if cfg.Audit.Enabled {
		store, err = audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer store.Close()
		auditLog = store
		logger.Info("delivery audit enabled", "db", cfg.Audit.DBPath)
	}

	gate := security.NewGate(security.GateConfig{
		SharedSecret: cfg.Security.SharedSecret,
		AllowIPs:     cfg.Security.AllowIPs,
		Logger:       logger,
	})
	if gate.Open() {
		logger.Warn("no shared secret configured, webhooks are accepted without authentication")
	}

	metricsEndpoint := ""
	if cfg.Metrics.Enabled {
		metricsEndpoint = cfg.Metrics.Endpoint
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.ListenAddr,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		Gate:            gate,
		Resolver:        routing.NewResolver(cfg.Routing.Routes, cfg.Routing.DefaultChatID),
		Deliverer:       deliverer,
		Audit:           auditLog,
		Ready:           func() bool { return deliverer != nil && cfg.Ready() },
		MetricsEndpoint: metricsEndpoint,
		Logger:          logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if store != nil && cfg.Audit.RetentionDays > 0 {
		g.Go(func() error {
			pruneLoop(gctx, store, time.Duration(cfg.Audit.RetentionDays)*24*time.Hour)
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// dialTelegram returns nil when the bot is not configured or the token is
// rejected; the relay then runs but reports not ready.
func dialTelegram(cfg *config.Config) domain.Deliverer {
	if cfg.Telegram.Token == "" {
		logger.Warn("telegram bot token not configured, webhooks will be refused")
		return nil
	}
	bot, err := telegram.Dial(cfg.Telegram.Token, cfg.Telegram.APIEndpoint,
		time.Duration(cfg.Telegram.TimeoutSeconds)*time.Second)
	if err != nil {
		logger.Error("telegram bot unavailable", "err", err)
		return nil
	}
	logger.Info("telegram bot connected", "username", bot.Self.UserName)

	return telegram.NewClient(bot, telegram.Config{
		ParseMode:         cfg.Telegram.ParseMode,
		DisableWebPreview: cfg.Telegram.DisableWebPreview,
		MaxMedia:          cfg.Telegram.MaxMedia,
		Retry: telegram.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Base:        time.Duration(cfg.Retry.BackoffSeconds * float64(time.Second)),
		},
		Throttle: telegram.NewThrottle(cfg.Telegram.RateBurst, cfg.Telegram.RatePerMinute),
		Logger:   logger,
	})
}

func pruneLoop(ctx context.Context, store *audit.SQLiteStore, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := store.Prune(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
			logger.Warn("audit prune failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and create configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (file + environment), secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. telegram.parseMode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	cmd.AddCommand(initCmd())
	return cmd
}
