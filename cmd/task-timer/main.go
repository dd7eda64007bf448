package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"task-timer/internal/app"
	"task-timer/internal/auth"
	"task-timer/internal/config"
	"task-timer/internal/domain"
	"task-timer/internal/migrate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globals struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "task-timer",
		Short:         "Per-task timers with live updates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file (environment variables override it)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newMigrateCmd(g))
	root.AddCommand(newTokenCmd(g))
	root.AddCommand(newTaskCmd(g))
	root.AddCommand(newTimerCmd(g))
	return root
}

// load reads the configuration and installs the default logger.
func (g *globals) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, nil, err
	}
	level := parseLevel(cfg.LogLevel)
	if g.verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return cfg, logger, nil
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

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the timer API and live update streams",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, logger, cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer application.Close()
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info("stopped")
			return nil
		},
	}
}

func newMigrateCmd(g *globals) *cobra.Command {
	mysqlDSN := func() (string, *slog.Logger, error) {
		cfg, logger, err := g.load()
		if err != nil {
			return "", nil, err
		}
		if cfg.Store.Driver != config.DriverMySQL {
			return "", nil, errors.New("migrations apply to the mysql store only; sqlite creates its schema on open")
		}
		return cfg.MySQL.DSN, logger, nil
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending MySQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, logger, err := mysqlDSN()
			if err != nil {
				return err
			}
			if err := migrate.Run(cmd.Context(), dsn, logger); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, _, err := mysqlDSN()
			if err != nil {
				return err
			}
			ms, err := migrate.Status(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			for _, m := range ms {
				state := "pending"
				if m.Applied {
					state = "applied"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%04d  %-8s %s\n", m.Version, state, m.File)
			}
			return nil
		},
	})
	return cmd
}

func newTokenCmd(g *globals) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a signed access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			token, err := v.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newTaskCmd(g *globals) *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage seed tasks in the local store"}

	var id, userID, name, status string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or replace a task",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" || name == "" {
				return errors.New("--user and --name are required")
			}
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), logger, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if id == "" {
				id = uuid.NewString()
			}
			t := domain.Task{ID: id, UserID: userID, Name: name, Status: status}
			if err := store.PutTask(cmd.Context(), t); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	add.Flags().StringVar(&id, "id", "", "task id (generated when empty)")
	add.Flags().StringVar(&userID, "user", "", "owner user id")
	add.Flags().StringVar(&name, "name", "", "task name")
	add.Flags().StringVar(&status, "status", "todo", "business status")

	task.AddCommand(add)
	return task
}
