// notifyd keeps a repairman connected to the RepairLink notification service,
// showing toasts on the terminal, desktop notifications and sounds, and
// optionally archiving every notification to PostgreSQL.
//
// Usage: notifyd --config configs/notifyd.example.yaml
//
// Without --config the daemon is configured from REPAIRLINK_* environment
// variables alone (REPAIRLINK_URL and REPAIRLINK_TOKEN at minimum). A .env file
// in the working directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rickgao/repairlink/internal/archive"
	"github.com/rickgao/repairlink/internal/config"
	"github.com/rickgao/repairlink/internal/database"
	"github.com/rickgao/repairlink/internal/presenter"
	"github.com/rickgao/repairlink/internal/realtime"
	"github.com/rickgao/repairlink/internal/version"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config file (environment only when empty)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	statusAddr := flag.String("status-addr", "", "serve /health and /notifications on this address")
	statsInterval := flag.Duration("stats-interval", time.Minute, "how often to log stats (0 disables)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "notifyd: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "notifyd: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting notifyd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"url", cfg.Realtime.URL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, *statusAddr, *statsInterval, logger); err != nil {
		logger.Error("notifyd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notifyd stopped")
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.LoadAndValidate(path)
}

func run(ctx context.Context, cfg *config.Config, statusAddr string, statsInterval time.Duration, logger *slog.Logger) error {
	svc := realtime.NewFromConfig(cfg, newPresenter(cfg, logger), logger)

	var writer *archive.Writer
	if cfg.Archive.Enabled {
		db := cfg.Archive.Database
		logger.Info("connecting to database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		pool, err := database.Connect(ctx, db, version.Product)
		if err != nil {
			return fmt.Errorf("connect archive database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = archive.NewWriter(archive.ConfigFrom(cfg.Archive), pool, logger)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start archive writer: %w", err)
		}
		defer stopArchive(writer, 10*time.Second, logger)

		unsubscribe := svc.AddListener(writer.Listener())
		defer unsubscribe()
	}

	if _, err := svc.Connect(cfg.Realtime.Token); err != nil {
		return err
	}
	defer svc.Disconnect()

	g, ctx := errgroup.WithContext(ctx)

	if statusAddr != "" {
		var archiver archiveStats
		if writer != nil {
			archiver = writer
		}
		srv := &http.Server{
			Addr:              statusAddr,
			Handler:           createStatusHandler(svc, archiver, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting status server", "addr", statusAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if statsInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					logStats(svc, writer, logger)
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")
		return nil
	})

	return g.Wait()
}

func logStats(svc *realtime.Service, writer *archive.Writer, logger *slog.Logger) {
	st := svc.GetConnectionStatus()
	attrs := []any{
		"state", st.State,
		"transport", st.Transport,
		"reconnect_attempts", st.ReconnectAttempts,
		"notifications", len(svc.GetNotifications()),
		"unread", svc.GetUnreadCount(),
	}
	if writer != nil {
		ws := writer.Stats()
		attrs = append(attrs,
			"archive_inserts", ws.Inserts,
			"archive_conflicts", ws.Conflicts,
			"archive_errors", ws.Errors,
		)
	}
	logger.Info("stats", attrs...)
}

type stopper interface {
	Stop(ctx context.Context) error
}

// stopArchive flushes the archive writer, giving up after timeout.
func stopArchive(w stopper, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		logger.Error("failed to stop archive writer", "error", err)
	}
}

func newPresenter(cfg *config.Config, logger *slog.Logger) *presenter.Presenter {
	nc := cfg.Notifications
	opts := presenter.Options{
		Toaster:     presenter.NewConsoleToaster(os.Stdout),
		JobBoardURL: nc.JobBoardURL,
		Logger:      logger,
	}
	if nc.DesktopEnabled() {
		opts.Desktop = presenter.NewExecDesktop(presenter.DesktopOptions{
			AppName:     nc.AppName,
			AutoDismiss: nc.AutoDismiss,
			Opener:      presenter.NewExecOpener(),
			Logger:      logger,
		})
	}
	if nc.SoundEnabled() {
		opts.Player = presenter.NewCommandPlayer(map[presenter.Sound]string{
			presenter.SoundNotification: nc.Sounds.Notification,
			presenter.SoundSuccess:      nc.Sounds.Success,
		}, presenter.NewBellPlayer(os.Stdout), logger)
	}
	return presenter.New(opts)
}
