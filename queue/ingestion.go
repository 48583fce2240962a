package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zero-day-ai/worldsync/telemetry"
)

const (
	// DefaultRateWindow is the sliding window used to measure snapshot arrivals.
	DefaultRateWindow = 2 * time.Second

	// DefaultRateTarget is the snapshot rate, per second, above which a warning is logged.
	DefaultRateTarget = 1.0

	// DefaultDiagnosticsEvery is how many snapshots pass between diagnostics log lines.
	DefaultDiagnosticsEvery = 10
)

// Stats is a point-in-time view of the ingestion queue.
type Stats struct {
	TotalChats     int64         `json:"total_chats"`
	TotalSnapshots int64         `json:"total_snapshots"`
	CurrentRate    float64       `json:"current_rate"`
	QueueAge       time.Duration `json:"queue_age"`
	ChatDepth      int           `json:"chat_depth"`
	SnapshotDepth  int           `json:"snapshot_depth"`
}

// fifo is an unbounded queue with a wakeup channel for blocked consumers.
type fifo[T any] struct {
	items []T
	ready chan struct{}
}

func newFIFO[T any]() *fifo[T] {
	return &fifo[T]{ready: make(chan struct{}, 1)}
}

// push must be called with the owning lock held.
func (f *fifo[T]) push(v T) {
	f.items = append(f.items, v)
	f.signal()
}

// pop must be called with the owning lock held.
func (f *fifo[T]) pop() (T, bool) {
	var zero T
	if len(f.items) == 0 {
		return zero, false
	}
	v := f.items[0]
	f.items[0] = zero
	f.items = f.items[1:]
	if len(f.items) > 0 {
		f.signal()
	}
	return v, true
}

func (f *fifo[T]) signal() {
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// Ingestion buffers chat and snapshot items for the workers.
type Ingestion struct {
	mu        sync.Mutex
	chats     *fifo[ChatItem]
	snapshots *fifo[SnapshotItem]

	totalChats     int64
	totalSnapshots int64
	arrivals       []time.Time
	lastSnapshot   time.Time
	created        time.Time

	window    time.Duration
	target    float64
	diagEvery int64

	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures an Ingestion.
type Option func(*Ingestion)

// WithRateWindow sets the sliding window for snapshot rate measurement.
func WithRateWindow(d time.Duration) Option {
	return func(q *Ingestion) {
		if d > 0 {
			q.window = d
		}
	}
}

// WithRateTarget sets the snapshots-per-second rate above which a warning is logged.
func WithRateTarget(perSecond float64) Option {
	return func(q *Ingestion) {
		if perSecond > 0 {
			q.target = perSecond
		}
	}
}

// WithDiagnosticsEvery sets how many snapshots pass between diagnostics log lines.
// Zero disables them.
func WithDiagnosticsEvery(n int) Option {
	return func(q *Ingestion) {
		if n >= 0 {
			q.diagEvery = int64(n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(q *Ingestion) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Ingestion) {
		if now != nil {
			q.now = now
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(q *Ingestion) { q.metrics = m }
}

// NewIngestion returns an empty queue.
func NewIngestion(opts ...Option) *Ingestion {
	q := &Ingestion{
		chats:     newFIFO[ChatItem](),
		snapshots: newFIFO[SnapshotItem](),
		window:    DefaultRateWindow,
		target:    DefaultRateTarget,
		diagEvery: DefaultDiagnosticsEvery,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "ingestion")
	q.created = q.now()
	return q
}

// Enqueue dispatches item to the matching FIFO.
func (q *Ingestion) Enqueue(item Item) error {
	switch v := item.(type) {
	case ChatItem:
		return q.EnqueueChat(v)
	case SnapshotItem:
		return q.EnqueueSnapshot(v)
	case *ChatItem:
		return q.EnqueueChat(*v)
	case *SnapshotItem:
		return q.EnqueueSnapshot(*v)
	default:
		return rejected("Ingestion.Enqueue", "unknown item type")
	}
}

// EnqueueChat validates and appends a chat item. An invalid item is rejected
// on its own and leaves the queue untouched.
func (q *Ingestion) EnqueueChat(item ChatItem) error {
	if err := item.Validate(); err != nil {
		q.logger.Warn("rejected chat item", "npc", item.NPCID, "error", err)
		q.metrics.RecordRejected(context.Background(), string(KindChat))
		return err
	}

	q.mu.Lock()
	q.chats.push(item)
	q.totalChats++
	q.mu.Unlock()
	return nil
}

// EnqueueSnapshot validates and appends a snapshot, then updates the arrival
// rate. A rate above the target is only logged.
func (q *Ingestion) EnqueueSnapshot(item SnapshotItem) error {
	if err := item.Validate(); err != nil {
		q.logger.Warn("rejected snapshot", "error", err)
		q.metrics.RecordRejected(context.Background(), string(KindSnapshot))
		return err
	}

	now := q.now()

	q.mu.Lock()
	q.snapshots.push(item)
	q.totalSnapshots++
	q.lastSnapshot = now
	// The rate is measured over earlier arrivals, then this one is counted.
	q.arrivals = q.trimLocked(now)
	rate := q.rateLocked()
	q.arrivals = append(q.arrivals, now)
	total := q.totalSnapshots
	var stats Stats
	diag := q.diagEvery > 0 && total%q.diagEvery == 0
	if diag {
		stats = q.statsLocked(now)
	}
	q.mu.Unlock()

	q.metrics.RecordSnapshotRate(context.Background(), rate)
	if rate > q.target {
		q.logger.Warn("snapshot rate above target",
			"rate", rate,
			"target", q.target,
			"window", q.window)
	}
	if diag {
		q.logger.Info("queue diagnostics",
			"total_chats", stats.TotalChats,
			"total_snapshots", stats.TotalSnapshots,
			"rate", stats.CurrentRate,
			"chat_depth", stats.ChatDepth,
			"snapshot_depth", stats.SnapshotDepth)
	}
	return nil
}

// PopChat blocks until a chat item is available or ctx is done.
func (q *Ingestion) PopChat(ctx context.Context) (ChatItem, error) {
	return popWait(ctx, &q.mu, q.chats)
}

// PopSnapshot blocks until a snapshot is available or ctx is done.
func (q *Ingestion) PopSnapshot(ctx context.Context) (SnapshotItem, error) {
	return popWait(ctx, &q.mu, q.snapshots)
}

func popWait[T any](ctx context.Context, mu *sync.Mutex, f *fifo[T]) (T, error) {
	for {
		mu.Lock()
		v, ok := f.pop()
		mu.Unlock()
		if ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-f.ready:
		}
	}
}

// Stats returns the current counters. CurrentRate only counts arrivals still
// inside the window.
func (q *Ingestion) Stats() Stats {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.arrivals = q.trimLocked(now)
	return q.statsLocked(now)
}

func (q *Ingestion) statsLocked(now time.Time) Stats {
	since := q.lastSnapshot
	if since.IsZero() {
		since = q.created
	}
	return Stats{
		TotalChats:     q.totalChats,
		TotalSnapshots: q.totalSnapshots,
		CurrentRate:    q.rateLocked(),
		QueueAge:       now.Sub(since),
		ChatDepth:      len(q.chats.items),
		SnapshotDepth:  len(q.snapshots.items),
	}
}

// trimLocked drops arrivals that are a full window old or older.
func (q *Ingestion) trimLocked(now time.Time) []time.Time {
	cut := 0
	for cut < len(q.arrivals) && now.Sub(q.arrivals[cut]) >= q.window {
		cut++
	}
	return q.arrivals[cut:]
}

func (q *Ingestion) rateLocked() float64 {
	return float64(len(q.arrivals)) / q.window.Seconds()
}
