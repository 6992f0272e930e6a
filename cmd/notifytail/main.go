// notifytail connects to the RepairLink notification service and prints every
// listener event as a JSON line on stdout. Logs go to stderr.
//
// Usage: go run ./cmd/notifytail --config configs/notifyd.example.yaml
//
// Required environment variables when running without --config:
//
//	REPAIRLINK_URL   - Base URL of the notification service
//	REPAIRLINK_TOKEN - Bearer token of the account to watch
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rickgao/repairlink/internal/config"
	"github.com/rickgao/repairlink/internal/listener"
	"github.com/rickgao/repairlink/internal/realtime"
)

func main() {
	configPath := flag.String("config", "", "path to config file (environment only when empty)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	token := flag.String("token", "", "bearer token (overrides config)")
	pretty := flag.Bool("pretty", false, "indent event JSON")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "notifytail: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadAndValidate(*configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "notifytail: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		cfg.Realtime.Token = *token
	}

	logger := cfg.Log.NewLogger(os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// No presenter: this tool only observes.
	svc := realtime.NewFromConfig(cfg, nil, logger)
	svc.AddListener(newEventPrinter(os.Stdout, *pretty, logger))

	if _, err := svc.Connect(cfg.Realtime.Token); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	logger.Info("streaming events - press Ctrl+C to stop", "url", cfg.Realtime.URL)
	<-ctx.Done()

	svc.Disconnect()
	logger.Info("shutdown complete",
		"notifications", len(svc.GetNotifications()),
		"unread", svc.GetUnreadCount(),
	)
}

// newEventPrinter returns a listener that writes each event as one JSON
// document. Writes are serialized.
func newEventPrinter(w io.Writer, indent bool, logger *slog.Logger) listener.Func {
	if logger == nil {
		logger = slog.Default()
	}
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return func(ev listener.Event) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(ev); err != nil {
			logger.Warn("failed to print event", "event", ev.Name, "error", err)
		}
	}
}
