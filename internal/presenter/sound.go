package presenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// Sound names an audio cue.
type Sound string

const (
	SoundNotification Sound = "notification"
	SoundSuccess      Sound = "success"
)

// ErrNoAudioTool is returned when no playback command exists for the platform.
var ErrNoAudioTool = errors.New("no audio playback tool")

// Player plays audio cues.
type Player interface {
	Play(ctx context.Context, s Sound) error
}

// BellPlayer rings the terminal bell for every cue.
type BellPlayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBellPlayer creates a player writing the bell character to w.
func NewBellPlayer(w io.Writer) *BellPlayer {
	return &BellPlayer{w: w}
}

func (b *BellPlayer) Play(_ context.Context, _ Sound) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.w, "\a")
	return err
}

// CommandPlayer plays sound files with paplay (Linux) or afplay (macOS).
// Cues without a configured file go to the fallback player.
type CommandPlayer struct {
	files    map[Sound]string
	fallback Player
	logger   *slog.Logger

	goos     string
	lookPath func(string) (string, error)
	command  commandFunc
}

// NewCommandPlayer creates a player for files. fallback may be nil.
func NewCommandPlayer(files map[Sound]string, fallback Player, logger *slog.Logger) *CommandPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandPlayer{
		files:    files,
		fallback: fallback,
		logger:   logger.With("component", "sound"),
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
	}
}

// Play starts playback and returns without waiting for it to finish.
func (p *CommandPlayer) Play(ctx context.Context, s Sound) error {
	file := p.files[s]
	if file == "" {
		if p.fallback != nil {
			return p.fallback.Play(ctx, s)
		}
		return nil
	}

	tool := p.tool()
	if tool == "" {
		return ErrNoAudioTool
	}
	if _, err := p.lookPath(tool); err != nil {
		return fmt.Errorf("%w: %s", ErrNoAudioTool, tool)
	}

	pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	cmd := p.command(pctx, tool, file)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", tool, err)
	}

	go func() {
		defer cancel()
		if err := cmd.Wait(); err != nil {
			p.logger.Warn("sound playback failed", "sound", s, "file", file, "error", err)
		}
	}()
	return nil
}

func (p *CommandPlayer) tool() string {
	switch p.goos {
	case "darwin":
		return "afplay"
	case "linux", "freebsd", "openbsd", "netbsd":
		return "paplay"
	default:
		return ""
	}
}
