package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rickgao/repairlink/internal/config"
	"github.com/rickgao/repairlink/internal/listener"
	"github.com/rickgao/repairlink/internal/model"
)

const insertNotification = `
	INSERT INTO notifications (id, kind, type, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
`

// DB is the subset of *pgxpool.Pool used by the Writer.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config controls batching.
type Config struct {
	BatchSize     int           // Rows per INSERT batch
	FlushInterval time.Duration // Max time a row waits before being written
	BufferSize    int           // Initial queue capacity
}

// ConfigFrom extracts writer settings from the archive config section.
func ConfigFrom(cfg config.ArchiveConfig) Config {
	return Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}
}

// Metrics counts writer activity.
type Metrics struct {
	Inserts   int64 // Rows written
	Conflicts int64 // Rows skipped because the ID already existed
	Flushes   int64 // Batches sent
	Errors    int64 // Batches that failed
	Dropped   int64 // Rows offered after Stop
}

type row struct {
	ID         string
	Kind       string
	Type       string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

func toRow(n model.Notification) row {
	r := row{
		ID:         n.ID,
		Kind:       string(n.Kind),
		Type:       n.Envelope.Type,
		ReceivedAt: n.ReceivedAt,
	}
	if len(n.Envelope.Data) > 0 {
		r.Payload = n.Envelope.Data
	}
	return r
}

// Writer archives notifications in batches.
type Writer struct {
	cfg    Config
	db     DB
	queue  *Queue[row]
	logger *slog.Logger

	mu      sync.Mutex
	pending []row
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a Writer. Zero Config fields take the config package defaults.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultBufferSize
	}
	return &Writer{
		cfg:     cfg,
		db:      db,
		queue:   NewQueue[row](cfg.BufferSize),
		logger:  logger.With("component", "archive"),
		pending: make([]row, 0, cfg.BatchSize),
	}
}

// Listener returns a listener.Func that enqueues every notification event.
func (w *Writer) Listener() listener.Func {
	return func(ev listener.Event) {
		if ev.Name != listener.EventNotification || ev.Notification == nil {
			return
		}
		w.Enqueue(*ev.Notification)
	}
}

// Enqueue schedules n for writing. It never blocks.
func (w *Writer) Enqueue(n model.Notification) bool {
	if w.queue.Push(toRow(n)) {
		return true
	}
	w.mu.Lock()
	w.metrics.Dropped++
	w.mu.Unlock()
	w.logger.Warn("archive stopped, dropping notification", "id", n.ID)
	return false
}

// Start begins consuming the queue.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the queue and writes everything still pending using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	w.queue.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
		return ctx.Err()
	}

	w.collect()
	w.flush(ctx)

	st := w.Stats()
	w.logger.Info("archive writer stopped",
		"inserts", st.Inserts,
		"conflicts", st.Conflicts,
		"errors", st.Errors,
	)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for w.queue.Wait() {
		if w.ctx.Err() != nil {
			return
		}
		if full := w.collect(); full {
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// collect moves queued rows into the pending batch and reports whether the
// batch is full.
func (w *Writer) collect() bool {
	rows := w.queue.Drain(0)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, rows...)
	return len(w.pending) >= w.cfg.BatchSize
}

// flush writes pending rows in chunks of BatchSize.
func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	rows := w.pending
	w.pending = make([]row, 0, w.cfg.BatchSize)
	w.mu.Unlock()

	for len(rows) > 0 {
		n := min(len(rows), w.cfg.BatchSize)
		w.write(ctx, rows[:n])
		rows = rows[n:]
	}
}

func (w *Writer) write(ctx context.Context, rows []row) {
	start := time.Now()
	conflicts, err := w.insert(ctx, rows)

	w.mu.Lock()
	w.metrics.Flushes++
	if err != nil {
		w.metrics.Errors++
	} else {
		w.metrics.Inserts += int64(len(rows) - conflicts)
		w.metrics.Conflicts += int64(conflicts)
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("notification batch insert failed", "error", err, "count", len(rows))
		return
	}
	w.logger.Debug("flushed notifications",
		"rows", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// insert sends rows as one batch and counts rows skipped by ON CONFLICT.
func (w *Writer) insert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertNotification, r.ID, r.Kind, r.Type, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
