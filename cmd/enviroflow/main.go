package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"enviroflow/internal/app"
	"enviroflow/internal/config"
	"enviroflow/internal/creds"
	"enviroflow/internal/database"
	"enviroflow/internal/poll"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "enviroflow",
		Short:         "EnviroFlow grow-room monitoring service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	newLogger := func() *slog.Logger {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the polling scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			appInstance, err := app.New(ctx, cfg, store, logger)
			if err != nil {
				return err
			}

			logger.Info("enviroflow starting",
				"version", version, "driver", cfg.Database.Driver, "http_addr", cfg.HTTP.Addr)

			if err := appInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("enviroflow stopped")
			return nil
		},
	}

	pollCmd := &cobra.Command{
		Use:   "poll [controller-id]",
		Short: "Poll one controller (or all) once and print the results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			key, err := cfg.EncryptionKeyBytes()
			if err != nil {
				return err
			}
			decryptor, err := creds.NewAESGCM(key)
			if err != nil {
				return err
			}
			poller := poll.New(store, decryptor, app.NewRegistry(), logger)

			var controllers []database.Controller
			if len(args) == 1 {
				controller, err := store.GetController(ctx, args[0])
				if err != nil {
					return fmt.Errorf("load controller %s: %w", args[0], err)
				}
				controllers = []database.Controller{controller}
			} else {
				controllers, err = store.ListControllers(ctx)
				if err != nil {
					return fmt.Errorf("list controllers: %w", err)
				}
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			failed := 0
			for _, controller := range controllers {
				result := poller.Poll(ctx, controller)
				if result.Status == poll.StatusFailed {
					failed++
				}
				if err := encoder.Encode(result); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d polls failed", failed, len(controllers))
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(runCmd, pollCmd, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore opens and initialises the configured storage backend.
func openStore(ctx context.Context, cfg config.AppConfig) (database.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		store, err := database.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil

	default:
		db, err := sql.Open("sqlite", cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
		}

		// SQLite is a single-writer store; one connection avoids lock churn.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		store, err := database.NewSQLite(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
}
