package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/conversation"
	"github.com/zero-day-ai/worldsync/queue"
	"github.com/zero-day-ai/worldsync/snapshot"
)

const (
	DefaultConcurrency       = 4
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second

	cleanupTimeout = 5 * time.Second
)

// Source is the queue a Worker drains.
type Source interface {
	PopChat(ctx context.Context) (queue.ChatItem, error)
	PopSnapshot(ctx context.Context) (queue.SnapshotItem, error)
}

// SnapshotProcessor runs one batch through enrichment and sync.
type SnapshotProcessor interface {
	Process(ctx context.Context, batch snapshot.Batch) snapshot.SyncReport
}

// ChatHandler turns one chat item into an NPC reply.
type ChatHandler interface {
	Handle(ctx context.Context, item queue.ChatItem) conversation.Reply
}

// ReplySink receives every reply the worker produces.
type ReplySink interface {
	PublishReply(ctx context.Context, reply queue.Reply) error
}

// Registry tracks live workers across processes.
type Registry interface {
	Heartbeat(ctx context.Context, workerID string) error
	IncrementWorkers(ctx context.Context) error
	DecrementWorkers(ctx context.Context) error
}

// Options configures a Worker.
type Options struct {
	// Queue is required.
	Queue Source

	// Snapshots handles snapshot items. Nil disables the snapshot loop.
	Snapshots SnapshotProcessor

	// Chats handles chat items. Nil disables the chat loops.
	Chats ChatHandler

	Sinks    []ReplySink
	Registry Registry

	// Concurrency is the number of chat loops. Default: 4.
	Concurrency int

	// ShutdownTimeout bounds the wait for in-flight items. Default: 30s.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often the registry heartbeat is refreshed.
	// Default: 10s.
	HeartbeatInterval time.Duration

	// ID overrides the generated worker id.
	ID string

	Logger *slog.Logger
	Now    func() time.Time
}

// Stats counts processed items since the worker started.
type Stats struct {
	Snapshots     int64 `json:"snapshots"`
	Chats         int64 `json:"chats"`
	Replies       int64 `json:"replies"`
	SinkFailures  int64 `json:"sink_failures"`
	Panics        int64 `json:"panics"`
	ChatsInFlight int64 `json:"chats_in_flight"`
}

// Worker pops queued items and dispatches them.
type Worker struct {
	opts   Options
	id     string
	logger *slog.Logger

	snapshots     atomic.Int64
	chats         atomic.Int64
	replies       atomic.Int64
	sinkFailures  atomic.Int64
	panics        atomic.Int64
	chatsInFlight atomic.Int64
}

// New validates opts and applies defaults.
func New(opts Options) (*Worker, error) {
	if opts.Queue == nil {
		return nil, worldsync.NewConfigurationError("worker.New", fmt.Errorf("%w: queue is required", worldsync.ErrInvalidConfig))
	}
	if opts.Snapshots == nil && opts.Chats == nil {
		return nil, worldsync.NewConfigurationError("worker.New", fmt.Errorf("%w: snapshots or chats handler is required", worldsync.ErrInvalidConfig))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ID == "" {
		opts.ID = generateWorkerID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		opts:   opts,
		id:     opts.ID,
		logger: logger.With("component", "worker", "worker_id", opts.ID),
	}, nil
}

// ID returns the worker id used for heartbeats and logs.
func (w *Worker) ID() string {
	return w.id
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Snapshots:     w.snapshots.Load(),
		Chats:         w.chats.Load(),
		Replies:       w.replies.Load(),
		SinkFailures:  w.sinkFailures.Load(),
		Panics:        w.panics.Load(),
		ChatsInFlight: w.chatsInFlight.Load(),
	}
}

// Run starts the loops and blocks until ctx is cancelled. It returns nil
// after a clean shutdown, including one that exceeded ShutdownTimeout.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting",
		"concurrency", w.opts.Concurrency,
		"snapshots", w.opts.Snapshots != nil,
		"chats", w.opts.Chats != nil,
		"sinks", len(w.opts.Sinks),
	)

	if reg := w.opts.Registry; reg != nil {
		if err := reg.IncrementWorkers(ctx); err != nil {
			w.logger.Error("failed to increment worker count", "error", err)
		}
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			if err := reg.DecrementWorkers(cleanupCtx); err != nil {
				w.logger.Error("failed to decrement worker count", "error", err)
			}
		}()
		if err := reg.Heartbeat(ctx, w.id); err != nil {
			w.logger.Debug("heartbeat failed", "error", err)
		}
		go w.runHeartbeat(ctx, reg)
	}

	// Pops observe ctx. A popped item is processed on a detached context.
	var wg sync.WaitGroup
	if w.opts.Snapshots != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.snapshotLoop(ctx)
		}()
	}
	if w.opts.Chats != nil {
		for i := 0; i < w.opts.Concurrency; i++ {
			wg.Add(1)
			go func(num int) {
				defer wg.Done()
				w.chatLoop(ctx, num)
			}(i)
		}
	}

	w.logger.Info("worker started")
	<-ctx.Done()
	w.logger.Info("shutdown requested, waiting for in-flight items")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker shutdown complete", "stats", w.Stats())
	case <-time.After(w.opts.ShutdownTimeout):
		w.logger.Warn("worker shutdown timeout exceeded", "timeout", w.opts.ShutdownTimeout)
	}
	return nil
}

func (w *Worker) runHeartbeat(ctx context.Context, reg Registry) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reg.Heartbeat(ctx, w.id); err != nil {
				// transient; the key simply expires if this keeps failing
				w.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) snapshotLoop(ctx context.Context) {
	logger := w.logger.With("loop", "snapshot")
	for {
		item, err := w.opts.Queue.PopSnapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("snapshot loop stopped")
				return
			}
			logger.Error("failed to pop snapshot", "error", err)
			continue
		}
		w.processSnapshot(detach(ctx), logger, item)
	}
}

func (w *Worker) processSnapshot(ctx context.Context, logger *slog.Logger, item queue.SnapshotItem) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			logger.Error("panic while processing snapshot", "panic", r, "timestamp", item.Batch.Timestamp)
		}
	}()

	start := w.opts.Now()
	report := w.opts.Snapshots.Process(ctx, item.Batch)
	w.snapshots.Add(1)

	logger.Debug("snapshot processed",
		"timestamp", item.Batch.Timestamp,
		"entities", len(item.Batch.Entities),
		"status_updates", report.StatusUpdates,
		"status_failures", report.StatusFailures,
		"groups", len(report.Groups),
		"errors", len(report.Errors),
		"duration", w.opts.Now().Sub(start),
	)
}

func (w *Worker) chatLoop(ctx context.Context, num int) {
	logger := w.logger.With("loop", "chat", "worker_num", num)
	for {
		item, err := w.opts.Queue.PopChat(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("chat loop stopped")
				return
			}
			logger.Error("failed to pop chat", "error", err)
			continue
		}
		w.processChat(detach(ctx), logger, item)
	}
}

func (w *Worker) processChat(ctx context.Context, logger *slog.Logger, item queue.ChatItem) {
	w.chatsInFlight.Add(1)
	defer w.chatsInFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			logger.Error("panic while processing chat", "panic", r, "npc_id", item.NPCID)
		}
	}()

	reply := w.opts.Chats.Handle(ctx, item)
	w.chats.Add(1)

	out := reply.Queue(item, w.opts.Now())
	for _, sink := range w.opts.Sinks {
		if err := sink.PublishReply(ctx, out); err != nil {
			w.sinkFailures.Add(1)
			logger.Warn("failed to publish reply", "npc_id", item.NPCID, "error", err)
			continue
		}
		w.replies.Add(1)
	}

	logger.Debug("chat handled",
		"npc_id", item.NPCID,
		"participant_id", item.Context.ParticipantID,
		"session_id", reply.SessionID,
		"responder", reply.Responder,
		"action", reply.Action,
		"ended", reply.Ended,
	)
}

// detach keeps values from ctx but drops its cancellation, so an item that
// was already popped runs to completion during shutdown.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// generateWorkerID combines hostname, pid and a short uuid.
func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}
