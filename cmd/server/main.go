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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"demura/internal/events"
	"demura/internal/ledger/auth"
	"demura/internal/ledger/cache"
	ledgerconfig "demura/internal/ledger/config"
	"demura/internal/ledger/handler"
	"demura/internal/ledger/metrics"
	"demura/internal/ledger/service"
	"demura/internal/ledger/store"
	"demura/internal/platform/config"
	"demura/internal/platform/httpserver"
	"demura/internal/platform/logger"
	"demura/internal/platform/postgres"
	"demura/internal/platform/redis"
)

// main wires the dependencies and owns the process lifecycle. Everything
// beyond wiring lives in internal packages.
func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvCfg := config.FromEnv()
	ledgerCfg, err := ledgerconfig.FromEnv()
	if err != nil {
		return err
	}

	log := logger.New(slog.LevelInfo)

	stores, cleanup, err := buildStores(ctx, srvCfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithAuthorizer(auth.NewJWT(srvCfg.JWTSigningKey)),
	}

	redisClient, err := redis.New(srvCfg.Redis())
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, service.WithCache(cache.NewRedis(redisClient)))
		log.Info("balance cache enabled")
	}

	if len(srvCfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(ctx, srvCfg.KafkaBrokers, srvCfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, service.WithPublisher(publisher))
		log.Info("rate change events enabled", "topic", srvCfg.KafkaTopic)
	}

	svc, err := service.New(ctx, ledgerCfg, stores, opts...)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	handler.New(svc, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(srvCfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server",
			"addr", srvCfg.Addr,
			"genesis", ledgerCfg.Genesis,
			"period", ledgerCfg.PeriodDuration,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildStores returns postgres-backed stores when a DSN is configured,
// in-memory stores otherwise.
func buildStores(ctx context.Context, cfg config.Server, log *slog.Logger) (service.Stores, func(), error) {
	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return service.Stores{}, nil, err
	}
	if db == nil {
		log.Warn("no postgres DSN configured; using in-memory stores")
		mem := store.NewMemory()
		return service.Stores{Entries: mem, Schedule: mem, Allowances: mem, Tx: mem}, func() {}, nil
	}

	pg := store.NewPostgres(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return service.Stores{}, nil, err
	}
	log.Info("postgres stores ready")
	return service.Stores{Entries: pg, Schedule: pg, Allowances: pg, Tx: pg},
		func() { _ = db.Close() }, nil
}
