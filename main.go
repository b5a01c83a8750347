package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/relaygate/gateway/internal/adapter/breaker"
	"github.com/relaygate/gateway/internal/adapter/cache"
	"github.com/relaygate/gateway/internal/adapter/concurrency"
	"github.com/relaygate/gateway/internal/adapter/health"
	"github.com/relaygate/gateway/internal/adapter/proxy"
	"github.com/relaygate/gateway/internal/adapter/quota"
	"github.com/relaygate/gateway/internal/adapter/ratelimit"
	"github.com/relaygate/gateway/internal/app/admin"
	"github.com/relaygate/gateway/internal/app/middleware"
	"github.com/relaygate/gateway/internal/app/pipeline"
	"github.com/relaygate/gateway/internal/config"
	"github.com/relaygate/gateway/internal/core/domain"
	"github.com/relaygate/gateway/internal/core/tokens"
	"github.com/relaygate/gateway/internal/logger"
	"github.com/relaygate/gateway/internal/metrics"
	"github.com/relaygate/gateway/internal/version"
	"github.com/relaygate/gateway/pkg/container"
	"github.com/relaygate/gateway/pkg/format"
	"github.com/relaygate/gateway/pkg/nerdstats"
	"github.com/relaygate/gateway/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance, cleanup, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		FileOutput: cfg.Logging.Output == "file",
		LogDir:     "./logs",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		PrettyLogs: cfg.Logging.Format != "json",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	logInstance.Info("initialising", "version", version.Version, "pid", os.Getpid(), "containerised", container.IsContainerised())

	if os.Getenv("GATEWAY_PROFILER") == "true" {
		profiler.InitialiseProfiler()
	}

	m := metrics.New()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	}, m.OnBreakerTransition)

	topology := domain.RoleBackends{
		Chat:     cfg.Backends.Chat,
		Text2SQL: cfg.Backends.Text2SQL,
		Embed:    cfg.Backends.Embed,
		Rerank:   cfg.Backends.Rerank,
	}

	healthMonitor := health.New(topology, domain.HealthConfig{
		CheckInterval: cfg.Health.CheckInterval,
		CheckTimeout:  cfg.Health.CheckTimeout,
	}, cfg.Auth.BackendAPIKey, logInstance)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	rateLimiter := ratelimit.New(ratelimit.Config{
		WindowSecs: cfg.RateLimit.WindowSecs,
		MaxRPS:     cfg.RateLimit.MaxRPSPerIP,
		Burst:      cfg.RateLimit.Burst,
	})

	ledger := quota.New(domain.QuotaLimits{
		DailyRequestLimit: cfg.Quota.DailyRequests,
		DailyTokenLimit:   cfg.Quota.DailyTokens,
		MonthlyTokenLimit: cfg.Quota.MonthlyTokens,
	})

	gate := concurrency.New(concurrency.Config{
		QueueTimeout: cfg.Concurrency.QueueTimeoutSecs,
		IdleTimeout:  cfg.Concurrency.IdleTimeout,
		Capacity:     cfg.Concurrency.MaxInflightPerIP,
		GCEvery:      cfg.Concurrency.GCEvery,
	}, concurrency.Hooks{
		OnGC: func(count int) {
			m.TenantGCTotal.Add(float64(count))
		},
		OnIdleTenant: func(tenant string) {
			rateLimiter.Forget(tenant)
			ledger.Evict(tenant)
		},
	})

	var respCache *cache.Cache
	if cfg.Cache.Enabled {
		respCache = cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)
		defer respCache.Close()
	}

	httpClient := &http.Client{}
	jsonProxy := proxy.NewJSONProxy(httpClient, breakers, cfg.Auth.BackendAPIKey)
	streamProxy := proxy.NewStreamProxy(httpClient, breakers, cfg.Auth.BackendAPIKey, logInstance)

	estimator, err := tokens.New()
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to initialise token estimator", "error", err)
	}

	pipelineCfg := pipeline.Config{
		GatewayAPIKey:  cfg.Auth.GatewayAPIKey,
		MaxRequestSecs: cfg.Server.MaxRequestSecs,
		StreamIdleSecs: cfg.Server.StreamIdleSecs,
		TrustProxyHdrs: true,
	}

	p := pipeline.New(pipelineCfg, logInstance, rateLimiter, gate, ledger, healthMonitor, jsonProxy, streamProxy, respCache, estimator, m)

	adminSurface := admin.New(healthMonitor, ledger, m, cfg.Auth.GatewayAPIKey, modelCatalogue(topology))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", p.ChatCompletions)
	mux.HandleFunc("POST /v1/completions", p.Completions)
	mux.HandleFunc("POST /v1/embeddings", p.Embeddings)
	mux.HandleFunc("POST /v1/rerank", p.Rerank)
	mux.HandleFunc("GET /health", adminSurface.Health)
	mux.HandleFunc("GET /health/detailed", adminSurface.HealthDetailed)
	mux.Handle("GET /metrics", adminSurface.Metrics())
	mux.HandleFunc("GET /admin/quota/{tenant}", adminSurface.Quota)
	mux.HandleFunc("GET /admin/quotas", adminSurface.Quotas)
	mux.HandleFunc("GET /v1/models", adminSurface.Models)
	mux.HandleFunc("GET /api/v1/models", adminSurface.Models)

	handler := middleware.AccessLogging(logInstance)(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logInstance.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logInstance.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logInstance.Error("server error", "error", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logInstance.Error("error during shutdown", "error", err)
	}

	reportProcessStats(logInstance, startTime)
	logInstance.Info("gateway has shutdown")
}

// modelCatalogue builds the static /v1/models listing from the configured
// backend topology: one entry per role actually wired to a backend.
func modelCatalogue(topology domain.RoleBackends) []admin.ModelInfo {
	var out []admin.ModelInfo
	if len(topology.Chat) > 0 {
		out = append(out, admin.ModelInfo{ID: domain.ModelAliases[domain.RoleChat], Role: domain.RoleChat})
	}
	if topology.Text2SQL != "" {
		out = append(out, admin.ModelInfo{ID: domain.ModelAliases[domain.RoleText2SQL], Role: domain.RoleText2SQL})
	}
	if topology.Embed != "" {
		out = append(out, admin.ModelInfo{ID: "embed", Role: domain.RoleEmbed})
	}
	if topology.Rerank != "" {
		out = append(out, admin.ModelInfo{ID: "rerank", Role: domain.RoleRerank})
	}
	return out
}

func reportProcessStats(log *slog.Logger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("process memory stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	log.Info("goroutine stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
	)

	if stats.NumGC > 0 {
		log.Info("garbage collection stats",
			"num_gc_cycles", stats.NumGC,
			"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
		)
	}

	log.Info("runtime stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)
}
