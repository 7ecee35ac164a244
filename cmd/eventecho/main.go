package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/dukerupert/eventecho/internal/backup"
	"github.com/dukerupert/eventecho/internal/config"
	"github.com/dukerupert/eventecho/internal/database"
	"github.com/dukerupert/eventecho/internal/logging"
	"github.com/dukerupert/eventecho/internal/server"
	"github.com/dukerupert/eventecho/internal/store"
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("eventecho failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "eventecho",
		Usage: "Chat-based personal event reminder.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "eventecho.yaml",
				Usage:   "path to the YAML config file",
				EnvVars: []string{"EVENTECHO_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			backupCommand(),
		},
		DefaultCommand: "serve",
	}
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Setup(cfg.LogLevel, cfg.LogFormat), nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the chat and HTTP server.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			srv := server.New(db, cfg, logger)
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						srv.RateLimiter().Cleanup()
					}
				}
			}()

			httpServer := &http.Server{
				Addr:        ":" + cfg.Port,
				Handler:     srv.Router(),
				ReadTimeout: 5 * time.Second,
				IdleTimeout: 120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("eventecho running", "url", cfg.BaseURL, "db", cfg.DBPath)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			srv.NotifyShutdown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Manage encrypted database backups.",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Take a backup now.",
				Action: func(c *cli.Context) error {
					return withBackupManager(c, func(cfg *config.Config, m *backup.Manager, release func()) error {
						id, err := m.RunNow(c.Context)
						if err != nil {
							return err
						}
						if err := m.Cleanup(c.Context); err != nil {
							slog.Warn("backup cleanup failed", "error", err)
						}
						fmt.Printf("backup %d uploaded\n", id)
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "Show recent backups.",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of backups to show"},
				},
				Action: func(c *cli.Context) error {
					return withBackupManager(c, func(cfg *config.Config, m *backup.Manager, release func()) error {
						backups, err := m.List(c.Int("limit"))
						if err != nil {
							return err
						}
						tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tSIZE\tFILE")
						for _, b := range backups {
							fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", b.ID, b.CreatedAt.Format(time.RFC3339), b.Status, b.SizeBytes, b.Filename)
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:      "restore",
				Usage:     "Replace the database with a backup. Stop the server first.",
				ArgsUsage: "<backup-id>",
				Action: func(c *cli.Context) error {
					id, err := strconv.ParseInt(c.Args().First(), 10, 64)
					if err != nil {
						return fmt.Errorf("backup id must be a number: %q", c.Args().First())
					}
					return withBackupManager(c, func(cfg *config.Config, m *backup.Manager, release func()) error {
						path, err := m.Fetch(c.Context, id)
						if err != nil {
							return err
						}
						defer os.Remove(path)

						release()
						if err := backup.Replace(path, cfg.DBPath); err != nil {
							return err
						}
						fmt.Printf("restored backup %d into %s\n", id, cfg.DBPath)
						return nil
					})
				},
			},
			{
				Name:      "encrypt",
				Usage:     "Encrypt a database file with the configured passphrase.",
				ArgsUsage: "<db-file> <out-file>",
				Action: func(c *cli.Context) error {
					return withPassphrase(c, backup.EncryptFile)
				},
			},
			{
				Name:      "decrypt",
				Usage:     "Decrypt a downloaded backup object for offline restore.",
				ArgsUsage: "<backup-file> <out-file>",
				Action: func(c *cli.Context) error {
					return withPassphrase(c, backup.DecryptFile)
				},
			},
		},
	}
}

// withPassphrase runs fn over the two file arguments using the configured
// backup passphrase. No database or bucket is needed.
func withPassphrase(c *cli.Context, fn func(src, dst, passphrase string) error) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected 2 arguments, got %d", c.NArg())
	}
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Backup.Passphrase == "" {
		return errors.New("backup passphrase not configured")
	}

	src, dst := c.Args().Get(0), c.Args().Get(1)
	if err := fn(src, dst, cfg.Backup.Passphrase); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", dst)
	return nil
}

// withBackupManager opens the database and builds a backup manager for fn.
// fn may call release to close the database early.
func withBackupManager(c *cli.Context, fn func(*config.Config, *backup.Manager, func()) error) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !backup.Enabled(cfg.Backup) {
		return backup.ErrDisabled
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	closed := false
	closeDB := func() {
		if !closed {
			db.Close()
			closed = true
		}
	}
	defer closeDB()

	m := backup.NewManager(cfg.Backup, cfg.DBPath, db, store.NewBackupStore(db), logger.With("component", "backup"))
	return fn(cfg, m, closeDB)
}
