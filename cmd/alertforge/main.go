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
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alertforge/alertforge/internal/adapter/agentd"
	afhttp "github.com/alertforge/alertforge/internal/adapter/http"
	afnats "github.com/alertforge/alertforge/internal/adapter/nats"
	"github.com/alertforge/alertforge/internal/adapter/natskv"
	afotel "github.com/alertforge/alertforge/internal/adapter/otel"
	"github.com/alertforge/alertforge/internal/adapter/postgres"
	"github.com/alertforge/alertforge/internal/adapter/ristretto"
	"github.com/alertforge/alertforge/internal/adapter/tiered"
	"github.com/alertforge/alertforge/internal/adapter/ws"
	"github.com/alertforge/alertforge/internal/config"
	"github.com/alertforge/alertforge/internal/logger"
	"github.com/alertforge/alertforge/internal/middleware"
	"github.com/alertforge/alertforge/internal/port/agentruntime"
	"github.com/alertforge/alertforge/internal/port/cache"
	"github.com/alertforge/alertforge/internal/resilience"
	"github.com/alertforge/alertforge/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	cfg, configPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"path", configPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_attempts", cfg.Orchestrator.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	otelShutdown, err := afotel.Init(ctx, cfg.Logging.Service, cfg.Orchestrator.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := afotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := afnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()
	log.Info("nats connected", "url", cfg.NATS.URL)

	interactionCache, err := buildCache(ctx, cfg, queue)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	// --- Agent runtime ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	runtime := agentd.NewClient(cfg.AgentRuntime.URL, cfg.AgentRuntime.APIKey)
	runtime.SetBreaker(breaker)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	investigationSvc := service.NewInvestigationService(
		runtime, store, queue, hub, breaker, metrics,
		localFunctions(log),
		service.InvestigationConfig{
			MaxAttempts:    cfg.Orchestrator.MaxAttempts,
			StreamTimeout:  cfg.Orchestrator.StreamTimeout,
			BridgeCapacity: cfg.Orchestrator.BridgeCapacity,
		},
		log,
	)

	audit := service.NewAuditLogger(queue, log)
	stopAudit, err := audit.Start(ctx)
	if err != nil {
		return fmt.Errorf("audit consumer: %w", err)
	}
	defer stopAudit()

	// --- HTTP ---
	handlers := afhttp.NewHandlers(investigationSvc, store, interactionCache, hub, afhttp.HealthDeps{
		Postgres: pool.Ping,
		Queue:    queue.IsConnected,
		Runtime:  runtime.Health,
	}, log)

	r := chi.NewRouter()
	r.Use(afhttp.SecurityHeaders)
	r.Use(afhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(afhttp.Logger)
	r.Use(afotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	// No global timeout: the investigation SSE stream outlives any
	// reasonable per-request bound. Read paths get their own deadline.

	r.Get("/health", handlers.Health)
	r.Get("/ws", hub.HandleWS)
	afhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown", "error", err)
		}
		hub.Shutdown()
		if err := queue.Drain(); err != nil {
			log.Warn("nats drain", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// buildCache assembles the tiered interaction cache: ristretto in-process
// with a NATS KV second level shared across replicas.
func buildCache(ctx context.Context, cfg *config.Config, queue *afnats.Queue) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}

	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return nil, fmt.Errorf("kv bucket: %w", err)
	}

	return tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL), nil
}

// localFunctions returns the side-effecting capabilities exposed to the
// remote conversation. Outputs are captured per run and surfaced to clients
// as action_executed events.
func localFunctions(log *slog.Logger) []agentruntime.LocalFunction {
	return []agentruntime.LocalFunction{
		{
			Name: "create_ticket",
			Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
				var req struct {
					Severity string `json:"severity"`
					Summary  string `json:"summary"`
				}
				if err := json.Unmarshal(args, &req); err != nil {
					return nil, fmt.Errorf("create_ticket arguments: %w", err)
				}
				if req.Summary == "" {
					return nil, fmt.Errorf("create_ticket requires a summary")
				}
				ticket := map[string]string{
					"ticket_id": "INC-" + uuid.NewString()[:8],
					"severity":  req.Severity,
					"summary":   req.Summary,
					"status":    "open",
				}
				log.Info("ticket created", "ticket_id", ticket["ticket_id"], "severity", req.Severity)
				out, err := json.Marshal(ticket)
				if err != nil {
					return nil, err
				}
				return out, nil
			},
		},
		{
			Name: "annotate_timeline",
			Handler: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
				var req struct {
					Text string `json:"text"`
				}
				if err := json.Unmarshal(args, &req); err != nil {
					return nil, fmt.Errorf("annotate_timeline arguments: %w", err)
				}
				out, err := json.Marshal(map[string]string{
					"annotation_id": uuid.NewString(),
					"text":          req.Text,
					"recorded_at":   time.Now().UTC().Format(time.RFC3339),
				})
				if err != nil {
					return nil, err
				}
				return out, nil
			},
		},
	}
}
