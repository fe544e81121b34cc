package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tilsley/treereader/apps/server/internal/config"
	"github.com/tilsley/treereader/apps/server/internal/handler"
	"github.com/tilsley/treereader/apps/server/internal/platform/postgres"
	"github.com/tilsley/treereader/apps/server/internal/platform/requestid"
	"github.com/tilsley/treereader/apps/server/internal/platform/telemetry"
	"github.com/tilsley/treereader/apps/server/internal/platform/validation"
	"github.com/tilsley/treereader/apps/server/internal/watch"
	"github.com/tilsley/treereader/apps/server/internal/watch/pgmigrations"
	"github.com/tilsley/treereader/pkg/logging"
	"github.com/tilsley/treereader/pkg/treereader"
	"github.com/tilsley/treereader/pkg/treereader/bitbucket"
	"github.com/tilsley/treereader/schemas"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log := logging.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	serviceName := envOr("OTEL_SERVICE_NAME", telemetry.DefaultServiceName)
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     os.Getenv("OTEL_ENABLED") == "true",
		ServiceName: serviceName,
	})
	if err != nil {
		log.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// --- Config + hosts ---

	cfg, err := config.Load(os.Getenv("TREEREADER_CONFIG"))
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1) //nolint:gocritic // deferred shutdown has nothing to flush yet
	}

	hosts, err := bitbucket.NewHosts(cfg.Hosts, cfg.AllowUnknownHosts)
	if err != nil {
		log.Error("host config invalid", "error", err)
		os.Exit(1)
	}
	reader := treereader.NewReader(hosts,
		treereader.WithLogger(log),
		treereader.WithTempDir(os.Getenv("TREEREADER_TEMP_DIR")),
	)

	// --- Watch store ---

	store, closeStore, err := openStore(ctx, log)
	if err != nil {
		log.Error("watch store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	poller := watch.NewPoller(reader, store, log)
	for _, w := range cfg.Watches {
		if err := poller.Add(ctx, w.URL); err != nil {
			log.Error("configured watch rejected", "url", w.URL, "error", err)
			os.Exit(1)
		}
	}
	go poller.Run(ctx, cfg.PollInterval)

	// --- HTTP ---

	validator, err := validation.New(schemas.OpenAPISpec)
	if err != nil {
		log.Error("openapi validation middleware init failed", "error", err)
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestid.Middleware(), validator)
	handler.RegisterRoutes(router, reader, poller, store, log)

	srv := &http.Server{
		Addr:              ":" + envOr("PORT", "8080"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
	}()

	log.Info("starting treereader", "addr", srv.Addr, "hosts", len(cfg.Hosts), "watches", len(cfg.Watches))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// openStore picks the watch store: Postgres when POSTGRES_URL is set, else
// Redis when REDIS_ADDR is set, else in-memory.
func openStore(ctx context.Context, log *slog.Logger) (watch.Store, func(), error) {
	if pgURL := os.Getenv("POSTGRES_URL"); pgURL != "" {
		pool, err := postgres.New(ctx, pgURL, pgmigrations.FS)
		if err != nil {
			return nil, nil, err
		}
		log.Info("watch store: postgres")
		return watch.NewPGStore(pool), pool.Close, nil
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		log.Info("watch store: redis", "addr", addr)
		return watch.NewRedisStore(rdb), func() { rdb.Close() }, nil
	}
	log.Info("watch store: memory")
	return watch.NewMemoryStore(), func() {}, nil
}
