package presenter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test. It stands in for external tools,
// printing HELPER_OUTPUT and exiting with HELPER_EXIT.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("HELPER_OUTPUT"))
	if os.Getenv("HELPER_EXIT") == "1" {
		fmt.Fprint(os.Stderr, "GDBus.Error:org.freedesktop.DBus.Error.ServiceUnknown")
		os.Exit(1)
	}
	os.Exit(0)
}

type commandRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *commandRecorder) command(output string) commandFunc {
	return r.exiting(output, 0)
}

func (r *commandRecorder) exiting(output string, code int) commandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		r.mu.Lock()
		r.calls = append(r.calls, append([]string{name}, args...))
		r.mu.Unlock()

		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_OUTPUT="+output, fmt.Sprintf("HELPER_EXIT=%d", code))
		return cmd
	}
}

func (r *commandRecorder) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

type chanOpener struct {
	urls chan string
}

func (o *chanOpener) Open(_ context.Context, url string) error {
	o.urls <- url
	return nil
}

func found(string) (string, error)   { return "/usr/bin/tool", nil }
func missing(string) (string, error) { return "", exec.ErrNotFound }

func testDesktop(goos string, lookPath func(string) (string, error)) *ExecDesktop {
	d := NewExecDesktop(DesktopOptions{AppName: "RepairLink", AutoDismiss: 2 * time.Second})
	d.goos = goos
	d.lookPath = lookPath
	return d
}

func TestExecDesktop_PermissionStateMachine(t *testing.T) {
	t.Parallel()

	calls := 0
	d := testDesktop("linux", func(s string) (string, error) {
		calls++
		return found(s)
	})

	assert.Equal(t, PermissionDefault, d.Permission())
	assert.Equal(t, PermissionGranted, d.RequestPermission(context.Background()))
	assert.Equal(t, PermissionGranted, d.RequestPermission(context.Background()))
	assert.Equal(t, 1, calls, "permission is requested once")
}

func TestExecDesktop_DeniedWithoutTool(t *testing.T) {
	t.Parallel()

	d := testDesktop("linux", missing)
	assert.Equal(t, PermissionDenied, d.RequestPermission(context.Background()))

	err := d.Show(context.Background(), Native{Title: "t", Body: "b"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestExecDesktop_DeniedOnUnsupportedOS(t *testing.T) {
	t.Parallel()

	d := testDesktop("plan9", found)
	assert.Equal(t, PermissionDenied, d.RequestPermission(context.Background()))
}

func TestExecDesktop_ShowBeforeRequest(t *testing.T) {
	t.Parallel()

	d := testDesktop("linux", found)
	assert.ErrorIs(t, d.Show(context.Background(), Native{}), ErrPermissionDenied)
}

func TestExecDesktop_ShowLinuxClickOpensURL(t *testing.T) {
	t.Parallel()

	rec := &commandRecorder{}
	opener := &chanOpener{urls: make(chan string, 1)}

	d := testDesktop("linux", found)
	d.opener = opener
	d.command = rec.command("default\n")
	d.RequestPermission(context.Background())

	err := d.Show(context.Background(), Native{Title: "New Repair Job", Body: "Device: Apple iPhone 14", URL: "https://repairlink.pk/repairman/jobs"})
	require.NoError(t, err)

	select {
	case u := <-opener.urls:
		assert.Equal(t, "https://repairlink.pk/repairman/jobs", u)
	case <-time.After(5 * time.Second):
		t.Fatal("click did not open the job board")
	}

	args := rec.last()
	require.NotEmpty(t, args)
	assert.Equal(t, "notify-send", args[0])
	assert.Contains(t, args, "--app-name=RepairLink")
	assert.Contains(t, args, "--expire-time=2000")
	assert.Contains(t, args, "--wait")
	assert.Equal(t, []string{"New Repair Job", "Device: Apple iPhone 14"}, args[len(args)-2:])
}

func TestExecDesktop_ShowWithoutClick(t *testing.T) {
	t.Parallel()

	rec := &commandRecorder{}
	opener := &chanOpener{urls: make(chan string, 1)}

	d := testDesktop("linux", found)
	d.opener = opener
	d.command = rec.command("")
	d.RequestPermission(context.Background())

	require.NoError(t, d.Show(context.Background(), Native{Title: "t", Body: "b", URL: "https://example.com"}))

	select {
	case u := <-opener.urls:
		t.Fatalf("unexpected open of %s", u)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestExecDesktop_ToolExitFailure(t *testing.T) {
	t.Parallel()

	rec := &commandRecorder{}
	failures := make(chan error, 1)

	d := testDesktop("linux", found)
	d.command = rec.exiting("", 1)
	d.RequestPermission(context.Background())

	n := Native{Title: "t", Body: "b", OnFailure: func(err error) { failures <- err }}
	require.NoError(t, d.Show(context.Background(), n))

	select {
	case err := <-failures:
		var exitErr *exec.ExitError
		assert.ErrorAs(t, err, &exitErr)
		assert.Contains(t, err.Error(), "notify-send")
	case <-time.After(5 * time.Second):
		t.Fatal("tool failure was not reported")
	}
}

func TestExecDesktop_CommandLineDarwin(t *testing.T) {
	t.Parallel()

	d := testDesktop("darwin", found)
	name, args := d.commandLine(Native{Title: `Offer "Accepted"`, Body: `Ali said \o/`})

	assert.Equal(t, "osascript", name)
	require.Len(t, args, 2)
	assert.Equal(t, "-e", args[0])
	assert.Equal(t, `display notification "Ali said \\o/" with title "Offer \"Accepted\""`, args[1])
}

func TestExecDesktop_CommandLineWithoutURL(t *testing.T) {
	t.Parallel()

	d := testDesktop("linux", found)
	_, args := d.commandLine(Native{Title: "t", Body: "b"})
	assert.NotContains(t, args, "--wait")
}

func TestExecOpener(t *testing.T) {
	t.Parallel()

	for goos, tool := range map[string]string{"linux": "xdg-open", "darwin": "open", "windows": "rundll32"} {
		rec := &commandRecorder{}
		o := &ExecOpener{goos: goos, command: rec.command("")}
		require.NoError(t, o.Open(context.Background(), "https://example.com"))
		args := rec.last()
		assert.Equal(t, tool, args[0], goos)
		assert.Equal(t, "https://example.com", args[len(args)-1], goos)
	}
}

func TestBellPlayer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewBellPlayer(&buf)
	require.NoError(t, p.Play(context.Background(), SoundNotification))
	require.NoError(t, p.Play(context.Background(), SoundSuccess))
	assert.Equal(t, "\a\a", buf.String())
}

func TestCommandPlayer_FallbackWithoutFile(t *testing.T) {
	t.Parallel()

	fallback := &fakePlayer{}
	p := NewCommandPlayer(map[Sound]string{SoundSuccess: "/tmp/success.wav"}, fallback, nil)

	require.NoError(t, p.Play(context.Background(), SoundNotification))
	assert.Equal(t, []Sound{SoundNotification}, fallback.played)
}

func TestCommandPlayer_MissingTool(t *testing.T) {
	t.Parallel()

	p := NewCommandPlayer(map[Sound]string{SoundNotification: "/tmp/ding.wav"}, nil, nil)
	p.goos = "linux"
	p.lookPath = missing

	err := p.Play(context.Background(), SoundNotification)
	assert.True(t, errors.Is(err, ErrNoAudioTool), "err = %v", err)
}

func TestCommandPlayer_Plays(t *testing.T) {
	t.Parallel()

	rec := &commandRecorder{}
	p := NewCommandPlayer(map[Sound]string{SoundNotification: "/tmp/ding.wav"}, nil, nil)
	p.goos = "darwin"
	p.lookPath = found
	p.command = rec.command("")

	require.NoError(t, p.Play(context.Background(), SoundNotification))
	assert.Equal(t, []string{"afplay", "/tmp/ding.wav"}, rec.last())
}

func TestConsoleToaster(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsoleToaster(&buf)
	c.Toast(context.Background(), Toast{Level: LevelSuccess, Title: "Offer Accepted", Message: "Ali accepted your offer"})
	c.Toast(context.Background(), Toast{Level: LevelInfo, Message: FallbackMessage})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[success] Offer Accepted: Ali accepted your offer", lines[0])
	assert.Equal(t, "[info] You have a new notification", lines[1])
}
