// fabricd runs the coordination fabric: the receipt ledger, the task
// coordinator with its lease reaper, and the delegation planner, behind one
// HTTP surface. --stdio serves the same operations as an NDJSON tool loop
// for agent runtimes that do not speak HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/fabric/pkg/api"
	"github.com/Mindburn-Labs/fabric/pkg/auth"
	"github.com/Mindburn-Labs/fabric/pkg/config"
	"github.com/Mindburn-Labs/fabric/pkg/emission"
	"github.com/Mindburn-Labs/fabric/pkg/ledger"
	"github.com/Mindburn-Labs/fabric/pkg/limiter"
	"github.com/Mindburn-Labs/fabric/pkg/observability"
	"github.com/Mindburn-Labs/fabric/pkg/planner"
	"github.com/Mindburn-Labs/fabric/pkg/reaper"
	"github.com/Mindburn-Labs/fabric/pkg/sqldb"
	"github.com/Mindburn-Labs/fabric/pkg/tasks"
	"github.com/Mindburn-Labs/fabric/pkg/toolio"
)

func main() {
	var (
		stdio       = flag.Bool("stdio", false, "serve the NDJSON tool loop on stdin/stdout instead of HTTP")
		stdioTenant = flag.String("tenant", "", "tenant for --stdio mode (required with --stdio)")
		withLedger  = flag.Bool("ledger", true, "serve the receipt ledger")
		withCoord   = flag.Bool("coordinator", true, "serve the task coordinator and reaper")
		withPlanner = flag.Bool("planner", true, "serve the delegation planner")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, options{
		stdio:       *stdio,
		stdioTenant: *stdioTenant,
		ledger:      *withLedger,
		coordinator: *withCoord,
		planner:     *withPlanner,
	}); err != nil {
		slog.Error("fabricd exited", "error", err)
		os.Exit(1)
	}
}

type options struct {
	stdio       bool
	stdioTenant string
	ledger      bool
	coordinator bool
	planner     bool
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	logger := slog.Default().With("component", "fabricd")

	db, dialect, err := sqldb.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	// The emission client posts to the ledger surface even when the ledger
	// is in-process; every producer shares the same audit path and the
	// overflow queue covers ledger downtime uniformly.
	emitter := emission.New(emission.Config{
		LedgerURL:       cfg.LedgerURL,
		APIKey:          cfg.LedgerAPIKey,
		Timeout:         cfg.EmissionTimeout,
		QueueCapacity:   cfg.QueueCapacity,
		DrainInterval:   cfg.DrainInterval,
		DrainBatch:      cfg.DrainBatch,
		MaxDrainRetries: cfg.MaxDrainRetries,
	})

	var led *ledger.SQLLedger
	if opts.ledger {
		led = ledger.NewSQLLedger(db)
		if err := led.Init(ctx); err != nil {
			return fmt.Errorf("init ledger: %w", err)
		}
		logger.InfoContext(ctx, "ledger ready")
	}

	var co *tasks.Coordinator
	if opts.coordinator {
		store := tasks.NewSQLTaskStore(db, dialect)
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init task store: %w", err)
		}
		co = tasks.NewCoordinator(store, emitter, tasks.CoordinatorConfig{
			LeaseDuration:       cfg.LeaseDuration,
			EscalationRecipient: cfg.EscalationRecipient,
		})
		logger.InfoContext(ctx, "coordinator ready",
			"lease_duration", cfg.LeaseDuration, "escalation_recipient", cfg.EscalationRecipient)
	}

	var plan *planner.Service
	if opts.planner {
		if co == nil {
			return errors.New("planner requires the coordinator")
		}
		store := planner.NewSQLStore(db, dialect)
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init planner store: %w", err)
		}
		plan = planner.NewService(store, co, emitter)
		logger.InfoContext(ctx, "planner ready")
	}

	go emitter.RunDrain(ctx)
	if co != nil {
		go reaper.New(co, cfg.ReaperInterval).Run(ctx)
	}

	if opts.stdio {
		return runStdio(ctx, opts.stdioTenant, led, co, plan)
	}
	return runHTTP(ctx, cfg, led, co, plan)
}

func runStdio(ctx context.Context, tenantID string, led *ledger.SQLLedger, co *tasks.Coordinator, plan *planner.Service) error {
	if tenantID == "" {
		return errors.New("--stdio requires --tenant")
	}

	s := toolio.NewServer(tenantID)
	if led != nil {
		toolio.BindLedger(s, led)
	}
	if co != nil {
		toolio.BindCoordinator(s, co)
	}
	if plan != nil {
		toolio.BindPlanner(s, plan)
	}
	slog.Info("serving tool loop on stdio", "tenant_id", tenantID, "tools", len(s.Tools()))
	return s.Run(ctx, os.Stdin, os.Stdout)
}

func runHTTP(ctx context.Context, cfg *config.Config, led *ledger.SQLLedger, co *tasks.Coordinator, plan *planner.Service) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readiness", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	if led != nil {
		api.NewLedgerHandler(led).RegisterRoutes(mux)
	}
	if co != nil {
		api.NewTaskHandler(co).RegisterRoutes(mux)
	}
	if plan != nil {
		api.NewPlannerHandler(plan).RegisterRoutes(mux)
	}

	var limiterStore limiter.Store
	if cfg.RedisAddr != "" {
		limiterStore = limiter.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		slog.Info("tenant rate limiting via redis", "addr", cfg.RedisAddr)
	} else {
		limiterStore = limiter.NewMemoryStore()
	}

	// Outermost first: request id, CORS, per-IP shedding, credential
	// resolution, then the per-tenant limit on resolved principals.
	var handler http.Handler = mux
	handler = auth.RateLimitMiddleware(limiterStore, limiter.Policy{RPM: cfg.RateRPM, Burst: cfg.RateBurst})(handler)
	handler = auth.NewMiddleware(cfg.APIKeys, auth.NewJWTValidator(cfg.JWTSecret))(handler)
	handler = api.NewGlobalRateLimiter(cfg.RateRPM, cfg.RateBurst).Middleware(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)

	if cfg.ObservabilityEnabled {
		obs, err := observability.New(ctx, &observability.Config{
			ServiceName:  cfg.ServiceName,
			OTLPEndpoint: cfg.OTLPEndpoint,
			SampleRate:   1.0,
			Enabled:      true,
			Insecure:     true,
		})
		if err != nil {
			return fmt.Errorf("init observability: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(shutdownCtx)
		}()
		handler = obs.HTTPMiddleware(handler)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("fabricd listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
