package presenter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Level styles a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is a short in-app message.
type Toast struct {
	Level   Level  `json:"level"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// Toaster shows toasts. Implementations must be safe for concurrent use.
type Toaster interface {
	Toast(ctx context.Context, t Toast)
}

// ConsoleToaster prints one line per toast.
type ConsoleToaster struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleToaster creates a toaster writing to w.
func NewConsoleToaster(w io.Writer) *ConsoleToaster {
	return &ConsoleToaster{w: w}
}

func (c *ConsoleToaster) Toast(_ context.Context, t Toast) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Title != "" {
		fmt.Fprintf(c.w, "[%s] %s: %s\n", t.Level, t.Title, t.Message)
		return
	}
	fmt.Fprintf(c.w, "[%s] %s\n", t.Level, t.Message)
}

// LogToaster records toasts as log entries.
type LogToaster struct {
	logger *slog.Logger
}

// NewLogToaster creates a toaster backed by logger.
func NewLogToaster(logger *slog.Logger) *LogToaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogToaster{logger: logger}
}

func (l *LogToaster) Toast(ctx context.Context, t Toast) {
	level := slog.LevelInfo
	switch t.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, "toast", "level", t.Level, "title", t.Title, "message", t.Message)
}
