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

	"github.com/spf13/cobra"

	"mealsub-backend/internal/auth"
	"mealsub-backend/internal/config"
	"mealsub-backend/internal/domain"
	"mealsub-backend/internal/env"
	"mealsub-backend/internal/infrastructure/repo"
)

var Version = "dev"

func main() {
	env.Load(".env", ".env.local")
	cfg := config.EnvDefaults()

	rootCmd := &cobra.Command{
		Use:           "mealsub-backend",
		Short:         "Meal subscription orders, payments and provider reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.LoadProviders(cfg.ProvidersFile)
		},
	}
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfg.Env, "env", cfg.Env, "environment name (dev, prod)")
	f.IntVar(&cfg.Port, "port", cfg.Port, "http port")
	f.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log as json")
	f.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret for bearer tokens")
	f.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres dsn; empty keeps state in memory")
	f.StringVar(&cfg.ProvidersFile, "providers", cfg.ProvidersFile, "provider routing yaml")

	rootCmd.AddCommand(serveCmd(&cfg))
	rootCmd.AddCommand(migrateCmd(&cfg))
	rootCmd.AddCommand(tokenCmd(&cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the http api",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cfg)
			app, err := build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&cfg.MenuFile, "menu-file", cfg.MenuFile, "menu seed yaml")
	cmd.Flags().StringVar(&cfg.MenuURL, "menu-url", cfg.MenuURL, "catalog service base url")
	cmd.Flags().StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "redis address for the menu cache")
	cmd.Flags().StringVar(&cfg.RabbitMQURL, "rabbitmq", cfg.RabbitMQURL, "amqp url for domain events")
	cmd.Flags().BoolVar(&cfg.AutoMigrate, "migrate", cfg.AutoMigrate, "apply migrations on start")
	return cmd
}

func migrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("database url required")
			}
			store, err := repo.NewPostgresStore(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.RunMigrations(); err != nil {
				return err
			}
			newLogger(cfg).Info("migrations applied")
			return nil
		},
	}
}

func tokenCmd(cfg *config.Config) *cobra.Command {
	var (
		subject  string
		customer string
		roles    string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt secret required")
			}
			if subject == "" {
				subject = customer
			}
			tok, err := auth.NewTokens(cfg.JWTSecret, ttl).Issue(domain.Actor{
				ID:         subject,
				CustomerID: customer,
				Roles:      strings.Split(roles, ","),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "subject; defaults to the customer id")
	cmd.Flags().StringVar(&customer, "customer", "", "customer id")
	cmd.Flags().StringVar(&roles, "roles", "customer", "comma separated roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "dev" {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if cfg.LogJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h).With("service", "mealsub-backend", "env", cfg.Env)
}
