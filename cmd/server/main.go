package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/artempl88/sozdaibota-sub000/internal/api"
	"github.com/artempl88/sozdaibota-sub000/internal/auth"
	"github.com/artempl88/sozdaibota-sub000/internal/config"
	"github.com/artempl88/sozdaibota-sub000/internal/database"
	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/logging"
	"github.com/artempl88/sozdaibota-sub000/internal/metrics"
	"github.com/artempl88/sozdaibota-sub000/internal/notify"
	"github.com/artempl88/sozdaibota-sub000/internal/repository/memory"
	"github.com/artempl88/sozdaibota-sub000/internal/repository/postgres"
	"github.com/artempl88/sozdaibota-sub000/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "sozdaibota",
		Short: "Chatbot intake service with reviewed project estimates",
		// Running without a subcommand starts the server
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newHashAdminKeyCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the reviewer channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return database.RunMigrations(cfg.Database)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return database.RollbackMigration(cfg.Database)
		},
	})

	return cmd
}

func newHashAdminKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-admin-key [key]",
		Short: "Print the bcrypt hash to put into auth.admin_key_hash",
		Long: `Hash an admin key for the reviewer API. The key is read from the
argument or, when omitted, from the first line of stdin.

Example: echo "$ADMIN_KEY" | sozdaibota hash-admin-key`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read key: %w", err)
				}
				key = strings.TrimSpace(line)
			}

			hash, err := auth.HashAdminKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.New(cfg.Log)

	repos, closeDB, err := openRepositories(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	var (
		notifier notify.Notifier
		tg       *notify.Telegram
	)
	switch cfg.Telegram.Mode {
	case "webhook", "polling":
		tg, err = notify.NewTelegram(cfg.Telegram, logger)
		if err != nil {
			return err
		}
		notifier = tg
	default:
		logger.Warn("Telegram reviewer channel disabled; reviews are only logged")
		notifier = notify.NewLogNotifier(logger)
	}

	svc, err := services.NewServices(cfg, repos, provider, notifier, metrics.NewPrometheusRecorder(), logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Auth.SessionSecret == "change-me-in-production" {
		logger.Warn("Using default session secret. Set SOZDAI_AUTH_SESSION_SECRET in production!")
	}
	if cfg.Auth.AdminKeyHash == "" {
		logger.Warn("auth.admin_key_hash is empty; the reviewer API is closed")
	}

	deps := api.Deps{
		Services:       svc,
		JWT:            auth.NewJWTService(cfg.Auth.SessionSecret, "sozdaibota", cfg.Auth.SessionTTL),
		AdminKeyHash:   cfg.Auth.AdminKeyHash,
		WebhookSecret:  cfg.Telegram.WebhookSecret,
		WSPollInterval: cfg.Server.WSPollInterval,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Logger:         logger,
	}
	if cfg.Telegram.Mode == "webhook" {
		deps.Telegram = tg
	}
	app := api.NewApp(deps)

	if cfg.Telegram.Mode == "polling" && tg != nil {
		go tg.Poll(ctx, svc.Decisions)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.WithField("addr", addr).Info("Sozdaibota starting")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	return app.ShutdownWithTimeout(shutdownTimeout)
}

func openRepositories(cfg *config.Config, logger *logrus.Logger) (services.Repositories, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory storage; sessions are lost on restart")
		return services.Repositories{
			Sessions: memory.NewSessionRepository(),
			Audit:    memory.NewAuditLogRepository(),
		}, func() {}, nil
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return services.Repositories{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(cfg.Database); err != nil {
		db.Close()
		return services.Repositories{}, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return services.Repositories{
		Sessions: postgres.NewSessionRepository(db.DB),
		Audit:    postgres.NewAuditLogRepository(db.DB),
	}, func() { db.Close() }, nil
}

func newProvider(cfg *config.Config, logger *logrus.Logger) (llm.Provider, error) {
	if cfg.LLM.APIKey == "" {
		logger.Warn("No LLM API key configured; using the offline stub provider")
		return llm.NewStubProvider("Расскажите, пожалуйста, подробнее о вашем проекте: какие задачи должен решать бот?"), nil
	}
	p, err := llm.NewOpenAIProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}
	return p, nil
}
