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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	upload "github.com/DarlingtonDeveloper/photo-upload"
)

func main() {
	cfg, err := upload.LoadConfig()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var notifier upload.Notifier = upload.NopNotifier{}
	if cfg.NATSURL != "" {
		nc, err := upload.ConnectNATS(cfg.NATSURL, "uploadd")
		if err != nil {
			slog.Error("nats", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		host, _ := os.Hostname()
		notifier = upload.NewPublisher(nc, host)
	}

	upload.RegisterMetrics()

	queue := upload.NewQueue(ctx, store, upload.QueueOptions{Key: cfg.Store.QueueKey})
	codec := upload.NewCodec()
	baker := upload.NewBaker(cfg.JPEGQuality)
	prober := upload.NewHTTPProbe(cfg.ServiceURL, nil, cfg.ProbeTimeout)
	client := upload.NewClient(cfg.ServiceURL, &http.Client{Timeout: cfg.SendTimeout}, queue)

	var limiter *rate.Limiter
	if cfg.Retry.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Retry.RatePerSec), 1)
	}
	coordinator := upload.NewCoordinator(queue, client, baker, codec, notifier, upload.CoordinatorOptions{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Limiter:     limiter,
		Prober:      prober,
	})
	pipeline := upload.NewPipeline(upload.FormValidator{}, codec, prober, baker, client, queue, notifier)

	scanner := upload.NewScanner(coordinator, cfg.Retry.Interval)
	scanner.Start(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", upload.MetricsHandler())
	r.Mount("/api/v1/submissions", upload.NewSubmitHandler(pipeline, client).Routes())
	r.Mount("/api/v1/pending", upload.NewHandler(queue, coordinator, prober).Routes())

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("uploadd listening",
			"port", cfg.HTTPPort,
			"service", cfg.ServiceURL,
			"store", cfg.Store.Backend,
			"pending", queue.Len(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	scanner.Wait()
}

func openStore(ctx context.Context, cfg upload.StoreConfig) (upload.RecordStore, func(), error) {
	switch cfg.Backend {
	case upload.BackendMemory:
		return upload.NewMemoryStore(), func() {}, nil

	case upload.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := upload.NewPostgresStore(pool)
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case upload.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		return upload.NewRedisStore(rdb, "upload:"), func() { rdb.Close() }, nil

	default:
		store, err := upload.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}
