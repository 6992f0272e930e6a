package presenter

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/rickgao/repairlink/internal/connection"
	"github.com/rickgao/repairlink/internal/model"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// User-facing text.
const (
	FallbackMessage        = "You have a new notification"
	ReconnectFailedMessage = "Unable to reconnect to notification service. Please restart the client."
	CurrencyCode           = "PKR"
)

var connectionMessages = map[connection.ErrorClass]string{
	connection.ErrorTimeout:     "Connection to notification service timed out. Retrying...",
	connection.ErrorUnreachable: "Notification service is unreachable. Check your internet connection.",
	connection.ErrorCrossOrigin: "Connection rejected by notification service. Please sign in again.",
	connection.ErrorUnknown:     "Failed to connect to notification service.",
}

// Options configures a Presenter. Nil Desktop or Player disables that output.
type Options struct {
	Toaster     Toaster
	Desktop     Desktop
	Player      Player
	JobBoardURL string
	Logger      *slog.Logger
}

// Presenter renders notifications and connection problems.
type Presenter struct {
	toaster     Toaster
	desktop     Desktop
	player      Player
	jobBoardURL string
	printer     *message.Printer
	logger      *slog.Logger
}

// New creates a Presenter. A nil Toaster logs toasts instead.
func New(opts Options) *Presenter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Toaster == nil {
		opts.Toaster = NewLogToaster(opts.Logger)
	}
	return &Presenter{
		toaster:     opts.Toaster,
		desktop:     opts.Desktop,
		player:      opts.Player,
		jobBoardURL: opts.JobBoardURL,
		printer:     message.NewPrinter(language.English),
		logger:      opts.Logger.With("component", "presenter"),
	}
}

// Present renders n according to its kind.
func (p *Presenter) Present(ctx context.Context, n model.Notification) {
	switch n.Kind {
	case model.KindNewJob:
		job, _ := n.NewJob()
		p.toaster.Toast(ctx, Toast{Level: LevelInfo, Title: "New Job Available", Message: p.jobHeadline(job)})
		p.native(ctx, Native{Title: "New Repair Job", Body: p.jobSummary(job), URL: p.jobBoardURL})
		p.play(ctx, SoundNotification)

	case model.KindOfferAccepted:
		offer, _ := n.OfferUpdate()
		msg := firstNonEmpty(offer.Message, "Your offer was accepted! Get ready for the job.")
		p.toaster.Toast(ctx, Toast{Level: LevelSuccess, Title: "Offer Accepted", Message: msg})
		p.native(ctx, Native{Title: "Offer Accepted", Body: msg, URL: p.jobBoardURL})
		p.play(ctx, SoundSuccess)

	case model.KindOfferRejected:
		offer, _ := n.OfferUpdate()
		msg := firstNonEmpty(offer.Message, "Your offer was not selected this time.")
		p.toaster.Toast(ctx, Toast{Level: LevelInfo, Title: "Offer Update", Message: msg})

	case model.KindJobCancelled:
		c, _ := n.JobCancelled()
		msg := "A job you were working on was cancelled."
		if c.Reason != "" {
			msg = "Job cancelled: " + c.Reason
		} else if c.Message != "" {
			msg = c.Message
		}
		p.toaster.Toast(ctx, Toast{Level: LevelError, Title: "Job Cancelled", Message: msg})

	default:
		g, _ := n.Generic()
		p.toaster.Toast(ctx, Toast{Level: LevelInfo, Title: g.Title, Message: firstNonEmpty(g.Message, FallbackMessage)})
	}
}

// ConnectionError shows the message for a dial failure class.
func (p *Presenter) ConnectionError(ctx context.Context, class connection.ErrorClass) {
	msg, ok := connectionMessages[class]
	if !ok {
		msg = connectionMessages[connection.ErrorUnknown]
	}
	p.toaster.Toast(ctx, Toast{Level: LevelError, Title: "Connection Error", Message: msg})
}

// ReconnectFailed shows the terminal message after reconnection gives up.
func (p *Presenter) ReconnectFailed(ctx context.Context) {
	p.toaster.Toast(ctx, Toast{Level: LevelError, Title: "Disconnected", Message: ReconnectFailedMessage})
}

// native follows the permission state machine and degrades to a toast.
func (p *Presenter) native(ctx context.Context, n Native) {
	if p.desktop == nil {
		return
	}

	switch p.desktop.Permission() {
	case PermissionDenied:
		p.logger.Debug("desktop notification skipped", "reason", "permission denied")
		return
	case PermissionDefault:
		if p.desktop.RequestPermission(ctx) != PermissionGranted {
			p.logger.Info("desktop notification permission not granted")
			return
		}
	}

	fallback := func(err error) {
		p.logger.Warn("desktop notification failed, falling back to toast", "error", err)
		p.toaster.Toast(context.WithoutCancel(ctx), Toast{Level: LevelInfo, Title: n.Title, Message: n.Body})
	}
	n.OnFailure = fallback
	if err := p.desktop.Show(ctx, n); err != nil {
		fallback(err)
	}
}

func (p *Presenter) play(ctx context.Context, s Sound) {
	if p.player == nil {
		return
	}
	if err := p.player.Play(ctx, s); err != nil {
		p.logger.Warn("sound playback failed", "sound", s, "error", err)
	}
}

func (p *Presenter) jobHeadline(job model.NewJob) string {
	device := deviceName(job.DeviceInfo)
	switch {
	case device != "" && job.Location.City != "":
		return device + " repair in " + job.Location.City
	case device != "":
		return device + " repair"
	case job.Title != "":
		return job.Title
	default:
		return "A new repair job was posted near you."
	}
}

// jobSummary lists device, budget and location, one per line.
func (p *Presenter) jobSummary(job model.NewJob) string {
	var lines []string
	if d := deviceName(job.DeviceInfo); d != "" {
		lines = append(lines, "Device: "+d)
	}
	if b := p.budget(job.Budget); b != "" {
		lines = append(lines, "Budget: "+b)
	}
	if l := location(job.Location); l != "" {
		lines = append(lines, "Location: "+l)
	}
	if len(lines) == 0 {
		return p.jobHeadline(job)
	}
	return strings.Join(lines, "\n")
}

func (p *Presenter) budget(b model.Budget) string {
	lo, hi := int64(math.Round(b.Min)), int64(math.Round(b.Max))
	switch {
	case lo > 0 && hi > 0 && lo != hi:
		return p.printer.Sprintf("%s %d - %d", CurrencyCode, lo, hi)
	case lo > 0 && lo == hi:
		return p.printer.Sprintf("%s %d", CurrencyCode, lo)
	case hi > 0:
		return p.printer.Sprintf("up to %s %d", CurrencyCode, hi)
	case lo > 0:
		return p.printer.Sprintf("from %s %d", CurrencyCode, lo)
	default:
		return ""
	}
}

func deviceName(d model.DeviceInfo) string {
	return strings.TrimSpace(d.Brand + " " + d.Model)
}

func location(l model.Location) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{l.Area, l.City} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
