package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/zero-day-ai/worldsync"
	"github.com/zero-day-ai/worldsync/catalog"
	"github.com/zero-day-ai/worldsync/config"
	"github.com/zero-day-ai/worldsync/conversation"
	"github.com/zero-day-ai/worldsync/group"
	"github.com/zero-day-ai/worldsync/health"
	"github.com/zero-day-ai/worldsync/ingress"
	"github.com/zero-day-ai/worldsync/journal"
	"github.com/zero-day-ai/worldsync/llm"
	"github.com/zero-day-ai/worldsync/location"
	"github.com/zero-day-ai/worldsync/memory"
	"github.com/zero-day-ai/worldsync/queue"
	"github.com/zero-day-ai/worldsync/serve"
	"github.com/zero-day-ai/worldsync/snapshot"
	"github.com/zero-day-ai/worldsync/telemetry"
	"github.com/zero-day-ai/worldsync/worker"
)

const (
	catalogMaxAgeFactor = 3
	queueQuietAfter     = 2 * time.Minute
	httpShutdownTimeout = 5 * time.Second
)

// run wires every component from cfg and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Memory.BaseURL == "" {
		return worldsync.NewConfigurationError("worldsyncd",
			fmt.Errorf("%w: memory.base_url is required", worldsync.ErrInvalidConfig))
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.GetServiceName(),
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.GetSampleRatio(),
	})
	if err != nil {
		return worldsync.WrapError("worldsyncd", worldsync.KindConfiguration, fmt.Errorf("failed to set up tracing: %w", err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter(telemetry.InstrumentationName))
	if err != nil {
		return worldsync.WrapError("worldsyncd", worldsync.KindInternal, fmt.Errorf("failed to create metrics: %w", err))
	}

	cat, err := catalog.Open(ctx, cfg.Catalog.GetPath(), catalog.WithLogger(logger))
	if err != nil {
		return err
	}
	defer worldsync.CloseWithLog(cat, logger, "catalog")

	if cfg.Catalog.SeedFile != "" {
		seed, err := loadSeed(cfg.Catalog.SeedFile)
		if err != nil {
			return err
		}
		if err := cat.Import(ctx, seed); err != nil {
			return worldsync.WrapError("worldsyncd", worldsync.KindConfiguration, fmt.Errorf("failed to import catalog seed: %w", err))
		}
		logger.Info("catalog seed imported",
			"file", cfg.Catalog.SeedFile,
			"locations", len(seed.Locations),
			"agents", len(seed.Agents),
			"appearances", len(seed.Appearances),
		)
	}

	mem := memory.NewHTTPService(memory.HTTPOptions{
		BaseURL: cfg.Memory.BaseURL,
		Token:   cfg.Memory.Token,
		Timeout: cfg.Memory.GetTimeout(),
		Logger:  logger,
	})

	var journalWriter *journal.Writer
	var recorder snapshot.Recorder
	if cfg.Journal.Dir != "" {
		journalWriter = journal.NewWriter(cfg.Journal.Dir)
		defer worldsync.CloseWithLog(journalWriter, logger, "journal")
		recorder = journalWriter
	}

	pipeline := snapshot.NewPipeline(snapshot.Options{
		Resolver: location.NewResolver(cat),
		Tracker:  group.NewTracker(cfg.Groups.GetGraceTimeout()),
		Batcher: group.NewBatcher(mem, cat,
			group.WithCallTimeout(cfg.Groups.GetCallTimeout()),
			group.WithLogger(logger),
		),
		Status:  snapshot.NewStatusPublisher(mem, cfg.Groups.GetCallTimeout(), logger),
		Agents:  cat,
		Journal: recorder,
		Metrics: metrics,
		Logger:  logger,
	})

	manager := conversation.NewManager(
		conversation.WithExpiry(cfg.Conversations.GetExpiry()),
		conversation.WithLogger(logger),
		conversation.WithMetrics(metrics),
	)
	chat := conversation.NewChat(conversation.ChatOptions{
		Manager:      manager,
		Memory:       mem,
		Agents:       cat,
		Responder:    newResponder(cfg.LLM, logger),
		HistoryLimit: cfg.Conversations.GetHistoryLimit(),
		CallTimeout:  cfg.LLM.GetTimeout(),
		Metrics:      metrics,
		Logger:       logger,
	})

	ingestion := queue.NewIngestion(
		queue.WithRateWindow(cfg.Queue.GetRateWindow()),
		queue.WithRateTarget(cfg.Queue.GetRateTarget()),
		queue.WithDiagnosticsEvery(cfg.Queue.GetDiagnosticsEvery()),
		queue.WithLogger(logger),
		queue.WithMetrics(metrics),
	)

	ws, err := ingress.NewServer(ingestion, ingress.WithLogger(logger))
	if err != nil {
		return err
	}
	sinks := []worker.ReplySink{ws}

	var feed *queue.RedisFeed
	if cfg.Redis.URL != "" {
		feed, err = queue.NewRedisFeed(queue.RedisOptions{
			URL:            cfg.Redis.URL,
			ItemsKey:       cfg.Redis.ItemsKey,
			RepliesChannel: cfg.Redis.RepliesChannel,
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		defer worldsync.CloseWithLog(feed, logger, "redis feed")
		sinks = append(sinks, feed)
	}

	wopts := worker.Options{
		Queue:             ingestion,
		Snapshots:         pipeline,
		Chats:             chat,
		Sinks:             sinks,
		Concurrency:       cfg.Worker.GetChatConcurrency(),
		ShutdownTimeout:   cfg.Worker.GetShutdownTimeout(),
		HeartbeatInterval: cfg.Worker.GetHeartbeatInterval(),
		Logger:            logger,
	}
	if feed != nil {
		wopts.Registry = feed
	}
	w, err := worker.New(wopts)
	if err != nil {
		return err
	}

	grpcServer, err := serve.NewServer(&serve.Config{
		Port:            cfg.Server.GetHealthPort(),
		GracefulTimeout: cfg.Worker.GetShutdownTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(grpcServer.HealthServer(),
		healthChecks(cfg, cat, ingestion, feed, journalWriter),
		health.WithServices(serve.ServiceName),
		health.WithLogger(logger),
	)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.GetWebsocketPath(), ws.Handler())
	mux.Handle("/stats", statsHandler(ingestion, w, manager, ws, monitor))
	httpServer := &http.Server{
		Addr:              cfg.Server.GetWebsocketAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	goRun("catalog refresh", func() error {
		cat.Run(runCtx, cfg.Catalog.GetRefreshInterval())
		return nil
	})
	goRun("session sweeper", func() error {
		conversation.NewSweeper(manager, cfg.Conversations.GetSweepInterval(), logger).Run(runCtx)
		return nil
	})
	goRun("worker", func() error { return w.Run(runCtx) })
	goRun("health monitor", func() error {
		monitor.Run(runCtx)
		return nil
	})
	goRun("health server", func() error { return grpcServer.Serve(runCtx) })
	if feed != nil {
		goRun("redis feed", func() error { return feed.Forward(runCtx, ingestion) })
	}
	goRun("ingress", func() error {
		logger.Info("ingress listening", "addr", httpServer.Addr, "path", cfg.Server.GetWebsocketPath())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	logger.Info("worldsyncd started",
		"redis", feed != nil,
		"journal", journalWriter != nil,
		"llm", cfg.LLM.APIKey != "",
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("component failed, shutting down", "error", runErr)
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ingress shutdown", "error", err)
	}
	wg.Wait()

	logger.Info("worldsyncd stopped", "worker", w.Stats(), "conversations", manager.Metrics())
	return runErr
}

// newResponder returns nil when no API key is configured; chat then falls
// back to agent replies or the canned greeting.
func newResponder(cfg config.LLMConfig, logger *slog.Logger) *llm.Responder {
	if cfg.APIKey == "" {
		return nil
	}
	client := llm.NewOpenAI(llm.OpenAIOptions{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.GetTimeout(),
	})
	return llm.NewResponder(client, logger,
		llm.WithResponderMaxTokens(cfg.GetMaxTokens()),
		llm.WithResponderTemperature(cfg.GetTemperature()),
	)
}

func healthChecks(cfg *config.Config, cat *catalog.Catalog, in *queue.Ingestion, feed *queue.RedisFeed, jw *journal.Writer) []health.Check {
	catalogMaxAge := catalogMaxAgeFactor * cfg.Catalog.GetRefreshInterval()
	checks := []health.Check{
		{Name: "catalog", Run: func(context.Context) health.Status {
			return health.FreshnessCheck("catalog", cat.LoadedAt(), catalogMaxAge, time.Now())
		}},
		{Name: "queue", Run: func(context.Context) health.Status {
			return health.QueueCheck(in.Stats(), queueQuietAfter, 0)
		}},
		{Name: "memory", Run: func(ctx context.Context) health.Status {
			return health.EndpointCheck(ctx, cfg.Memory.BaseURL)
		}},
	}
	if feed != nil {
		checks = append(checks, health.Check{Name: "redis", Run: func(ctx context.Context) health.Status {
			return health.PingCheck(ctx, "redis", feed)
		}})
	}
	if jw != nil {
		checks = append(checks, health.Check{Name: "journal", Run: func(context.Context) health.Status {
			// the directory only exists after the first record
			if jw.Records() == 0 {
				return health.Healthy("journal idle")
			}
			return health.FileCheck(cfg.Journal.Dir)
		}})
	}
	return checks
}

type statsResponse struct {
	Queue         queue.Stats          `json:"queue"`
	Worker        worker.Stats         `json:"worker"`
	Conversations conversation.Metrics `json:"conversations"`
	Ingress       ingressStats         `json:"ingress"`
	Health        health.Status        `json:"health"`
}

type ingressStats struct {
	Clients  int   `json:"clients"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

func statsHandler(in *queue.Ingestion, w *worker.Worker, m *conversation.Manager, ws *ingress.Server, mon *health.Monitor) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		accepted, rejected := ws.Counts()
		status, _ := mon.Last()
		resp := statsResponse{
			Queue:         in.Stats(),
			Worker:        w.Stats(),
			Conversations: m.Metrics(),
			Ingress:       ingressStats{Clients: ws.Clients(), Accepted: accepted, Rejected: rejected},
			Health:        status,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	})
}
