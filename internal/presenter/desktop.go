package presenter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrPermissionDenied is returned by Show when notifications are not granted.
var ErrPermissionDenied = errors.New("desktop notifications not permitted")

// Permission is the desktop notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Native is an OS-level notification.
type Native struct {
	Title string
	Body  string
	URL   string // Opened when the notification is clicked

	// OnFailure is called when the notification fails after Show returned nil.
	OnFailure func(error)
}

// Desktop shows OS-level notifications.
type Desktop interface {
	Permission() Permission
	// RequestPermission asks once. Later calls return the stored answer.
	RequestPermission(ctx context.Context) Permission
	Show(ctx context.Context, n Native) error
}

// Opener opens a URL in the user's browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

const clickAction = "default"

// DesktopOptions configures an ExecDesktop.
type DesktopOptions struct {
	AppName     string
	AutoDismiss time.Duration
	Opener      Opener
	Logger      *slog.Logger
}

// ExecDesktop shows notifications through the platform's command-line tool.
type ExecDesktop struct {
	appName     string
	autoDismiss time.Duration
	opener      Opener
	logger      *slog.Logger

	goos     string
	lookPath func(string) (string, error)
	command  commandFunc

	mu         sync.Mutex
	permission Permission
}

// NewExecDesktop creates a desktop notifier for the current OS.
func NewExecDesktop(opts DesktopOptions) *ExecDesktop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AutoDismiss <= 0 {
		opts.AutoDismiss = 10 * time.Second
	}
	if opts.AppName == "" {
		opts.AppName = "RepairLink"
	}
	return &ExecDesktop{
		appName:     opts.AppName,
		autoDismiss: opts.AutoDismiss,
		opener:      opts.Opener,
		logger:      opts.Logger.With("component", "desktop"),
		goos:        runtime.GOOS,
		lookPath:    exec.LookPath,
		command:     exec.CommandContext,
		permission:  PermissionDefault,
	}
}

func (d *ExecDesktop) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permission
}

// RequestPermission grants access when the notification tool is installed.
func (d *ExecDesktop) RequestPermission(_ context.Context) Permission {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.permission != PermissionDefault {
		return d.permission
	}

	d.permission = PermissionDenied
	if tool := d.tool(); tool != "" {
		if _, err := d.lookPath(tool); err == nil {
			d.permission = PermissionGranted
		} else {
			d.logger.Info("desktop notification tool not found", "tool", tool)
		}
	}
	d.logger.Debug("desktop notification permission", "permission", d.permission)
	return d.permission
}

// Show starts the notification and returns. The notification is detached from
// ctx: it dismisses itself after the configured timeout.
func (d *ExecDesktop) Show(_ context.Context, n Native) error {
	if d.Permission() != PermissionGranted {
		return ErrPermissionDenied
	}

	name, args := d.commandLine(n)
	wctx, cancel := context.WithTimeout(context.Background(), d.autoDismiss+time.Second)

	cmd := d.command(wctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", name, err)
	}

	go func() {
		defer cancel()
		if err := cmd.Wait(); err != nil && wctx.Err() == nil {
			d.logger.Debug("desktop notification exited", "error", err)
			if n.OnFailure != nil {
				n.OnFailure(fmt.Errorf("%s: %w", name, err))
			}
			return
		}
		if n.URL == "" || d.opener == nil || strings.TrimSpace(out.String()) != clickAction {
			return
		}
		if err := d.opener.Open(context.Background(), n.URL); err != nil {
			d.logger.Warn("failed to open url", "url", n.URL, "error", err)
		}
	}()

	return nil
}

func (d *ExecDesktop) tool() string {
	switch d.goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return "notify-send"
	case "darwin":
		return "osascript"
	default:
		return ""
	}
}

func (d *ExecDesktop) commandLine(n Native) (string, []string) {
	if d.goos == "darwin" {
		script := fmt.Sprintf("display notification %s with title %s", appleScriptString(n.Body), appleScriptString(n.Title))
		return "osascript", []string{"-e", script}
	}

	args := []string{
		"--app-name=" + d.appName,
		"--expire-time=" + strconv.FormatInt(d.autoDismiss.Milliseconds(), 10),
	}
	if n.URL != "" {
		args = append(args, "--action="+clickAction+"=Open", "--wait")
	}
	args = append(args, n.Title, n.Body)
	return "notify-send", args
}

func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// ExecOpener opens URLs with xdg-open, open or rundll32.
type ExecOpener struct {
	goos    string
	command commandFunc
}

// NewExecOpener creates an opener for the current OS.
func NewExecOpener() *ExecOpener {
	return &ExecOpener{goos: runtime.GOOS, command: exec.CommandContext}
}

func (o *ExecOpener) Open(ctx context.Context, url string) error {
	var cmd *exec.Cmd
	switch o.goos {
	case "darwin":
		cmd = o.command(ctx, "open", url)
	case "windows":
		cmd = o.command(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = o.command(ctx, "xdg-open", url)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return nil
}
