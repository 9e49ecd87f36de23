package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/qmind/internal/agent"
	"github.com/ashureev/qmind/internal/api"
	"github.com/ashureev/qmind/internal/assessment"
	"github.com/ashureev/qmind/internal/chatws"
	"github.com/ashureev/qmind/internal/healthsrv"
	"github.com/ashureev/qmind/internal/identity"
	"github.com/ashureev/qmind/internal/memory"
	"github.com/ashureev/qmind/internal/middleware"
	"github.com/ashureev/qmind/internal/qcli"
	"github.com/ashureev/qmind/internal/store"
	"github.com/ashureev/qmind/internal/worker"
	"github.com/ashureev/qmind/web"
)

func runServe(parent context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.QCLI.Backend)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(parent); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	notes, err := memory.NewStore(cfg.NotesDir)
	if err != nil {
		return fmt.Errorf("open notes directory: %w", err)
	}

	catalog := assessment.DefaultCatalog()
	if cfg.CatalogFile != "" {
		catalog, err = assessment.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return fmt.Errorf("load question catalog: %w", err)
		}
		slog.Info("Question catalog loaded", "path", cfg.CatalogFile)
	}

	registry := qcli.NewRegistry()
	runner, err := newRunner(parent, cfg, registry)
	if err != nil {
		return fmt.Errorf("initialize q cli runner: %w", err)
	}
	client := qcli.NewClient(runner, cfg.QCLI.WorkDir, cfg.QCLI.Timeout)
	prober := qcli.NewProber(runner, cfg.QCLI.ProbeTimeout, cfg.QCLI.ProbeCache)

	// Initialize services.
	svc := agent.NewService(agent.ServiceOptions{
		Catalog:        catalog,
		Sessions:       assessment.NewMemoryStore(),
		Invoker:        client,
		Prober:         prober,
		Notes:          notes,
		Repo:           repo,
		TranscriptPath: cfg.TranscriptPath(),
		Kill:           registry.KillTag,
	})
	defer svc.Close()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}

	// Initialize handlers.
	agentHandler := agent.NewHandler(svc, conversationLogger, cfg)
	defer agentHandler.Close()

	baseHandler := api.NewHandler(notes, repo, cfg.ConversationLog.GlobalPath)
	healthHandler := api.NewHealthHandler(repo, prober)

	wsLimiter := agent.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer wsLimiter.Stop()
	sm := chatws.NewSessionManager()
	defer sm.CloseAll()
	wsHandler := chatws.NewHandler(svc, sm, wsLimiter, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg.FrontendURL)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	agentHandler.RegisterRoutes(r)
	baseHandler.RegisterMemoryRoutes(r)
	baseHandler.RegisterEvaluationRoutes(r)
	baseHandler.RegisterLogRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: a chat turn may run for the full CLI timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := memory.NewWatcher(notes)
	if err != nil {
		slog.Warn("Notes watcher disabled, relying on explicit refresh", "error", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	sweeper, err := worker.NewSweeper(worker.Config{
		Schedule:   cfg.Sessions.SweepSchedule,
		SessionTTL: cfg.Sessions.TTL,
		ProcessTTL: cfg.Sessions.ProcessTTL,
	}, svc, registry, repo)
	if err != nil {
		return fmt.Errorf("initialize sweeper: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()
	slog.Info("Sweeper started", "schedule", cfg.Sessions.SweepSchedule, "session_ttl", cfg.Sessions.TTL)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPCAddr != "" {
		health := healthsrv.New(prober, healthsrv.DefaultInterval)
		g.Go(func() error {
			return health.ListenAndServe(gctx, cfg.GRPCAddr)
		})
	}

	g.Go(func() error {
		// Wait for shutdown signal or a failed listener.
		<-gctx.Done()
		stop()

		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sm.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if n := registry.KillOlderThan(0); n > 0 {
		slog.Info("Killed in-flight CLI processes", "count", n)
	}
	slog.Info("Server stopped successfully")
	return nil
}

func allowedOrigins(frontendURL string) []string {
	if frontendURL == "" {
		return []string{"*"}
	}
	return []string{frontendURL}
}
