package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	chttp "github.com/consilium-health/consilium/internal/adapter/http"
	"github.com/consilium-health/consilium/internal/adapter/litellm"
	cnats "github.com/consilium-health/consilium/internal/adapter/nats"
	"github.com/consilium-health/consilium/internal/adapter/natsknowledge"
	"github.com/consilium-health/consilium/internal/adapter/otel"
	"github.com/consilium-health/consilium/internal/adapter/postgres"
	"github.com/consilium-health/consilium/internal/adapter/ristretto"
	"github.com/consilium-health/consilium/internal/adapter/ws"
	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain/intent"
	"github.com/consilium-health/consilium/internal/logger"
	"github.com/consilium-health/consilium/internal/middleware"
	"github.com/consilium-health/consilium/internal/resilience"
	"github.com/consilium-health/consilium/internal/service"
)

const serviceName = "consilium"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogger := logger.New(cfg.Logging)
	defer closeLogger.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Observability ---
	shutdownOtel, err := otel.Setup(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := cnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	cache, err := ristretto.New(cfg.Directory.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	llmClient := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.Executor.AgentTimeout)
	llmClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	retriever := natsknowledge.New(queue, cfg.Retrieval.Timeout)
	cancelRetrieval, err := retriever.Start(ctx)
	if err != nil {
		return fmt.Errorf("retrieval subscriber: %w", err)
	}
	defer cancelRetrieval()

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	events := postgres.NewEventStore(pool)

	classifier := intent.NewClassifier(intent.DefaultRules())
	directory := service.NewDirectoryService(store, cache, &cfg.Directory)
	directory.SetQueue(queue)
	selector := service.NewSelectorService(directory, &cfg.Selector)
	retrieval := service.NewRetrievalService(retriever, &cfg.Retrieval)
	executor := service.NewExecutorService(llmClient, &cfg.Executor)
	executor.SetMetrics(metrics)
	synthesis := service.NewSynthesisService(llmClient, &cfg.Synthesis)
	planner := service.NewPlannerService(llmClient, &cfg.Mission)
	cost := service.NewCostService(store)
	cost.SetMetrics(metrics)

	orchestrator := service.NewOrchestrator(classifier, selector, retrieval, executor, synthesis, directory, cost, store)
	missions := service.NewMissionService(store, events, classifier, planner, selector, retrieval, executor, synthesis, cost, hub, &cfg.Mission)
	missions.SetMetrics(metrics)
	missions.SetQueue(queue)

	cancelInvalidation, err := directory.StartInvalidationSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("directory subscriber: %w", err)
	}
	defer cancelInvalidation()

	cancelAborts, err := missions.StartAbortSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("abort subscriber: %w", err)
	}
	defer cancelAborts()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go missions.StartJanitor(janitorCtx)

	// --- HTTP ---

	handlers := &chttp.Handlers{
		Orchestrator: orchestrator,
		Missions:     missions,
		Directory:    directory,
		Cost:         cost,
		Store:        store,
		LiteLLM:      llmClient,
		Hub:          hub,
		Metrics:      metrics,
	}

	r := chi.NewRouter()

	r.Use(chttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.HTTPMiddleware(serviceName))

	r.Get("/health", healthHandler(cfg))
	r.Get("/ws", hub.HandleWS)

	chttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long enough for a full consultation to stream over SSE.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}

	return srv.Shutdown(shutdownCtx)
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(cfg *config.Config) http.HandlerFunc {
	type healthStatus struct {
		Status  string `json:"status"`
		NATS    string `json:"nats"`
		LiteLLM string `json:"litellm"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:  "ok",
			NATS:    cfg.NATS.URL,
			LiteLLM: cfg.LiteLLM.URL,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
