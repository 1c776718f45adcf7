package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MicahParks/keyfunc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Modar-SAD/task-nest/api"
	"github.com/Modar-SAD/task-nest/board"
	"github.com/Modar-SAD/task-nest/config"
	"github.com/Modar-SAD/task-nest/storage"
	"github.com/Modar-SAD/task-nest/subscription"
	"github.com/Modar-SAD/task-nest/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend := openBackend(ctx, cfg)
	defer closeBackend()

	opts := []storage.GatewayOption{storage.WithLogger(logger)}
	var rc *redis.Client
	if cfg.RedisConnString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnString)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
		opts = append(opts,
			storage.WithRevisions(storage.NewRedisRevisions(rc)),
			storage.WithCache(storage.NewCache(rc, cfg.SnapshotCacheTTL)),
		)
		switch cfg.NotifyMode {
		case config.NotifyQueue:
			q, err := storage.NewQueueClient(cfg.StorageConnString, cfg.ChangesQueue)
			if err != nil {
				log.Fatalf("queue: %v", err)
			}
			opts = append(opts, storage.WithNotifier(storage.NewQueueNotifier(q)))
		default:
			opts = append(opts, storage.WithNotifier(storage.NewRedisNotifier(rc, cfg.ChangesChannel)))
		}
	} else {
		log.Warn("redis not configured; board changes are only seen by this instance")
	}
	gateway := storage.NewGateway(backend, opts...)
	if rc != nil {
		go subscription.Listen(ctx, logger, rc, cfg.ChangesChannel, gateway)
	}

	script := board.DefaultScript()
	if cfg.AssistantScript != "" {
		if script, err = board.LoadScript(cfg.AssistantScript); err != nil {
			log.Fatalf("assistant script: %v", err)
		}
	}
	registry := workspace.NewRegistry(gateway,
		workspace.WithLogger(logger),
		workspace.WithScript(script),
		workspace.WithIdleTTL(cfg.WorkspaceIdleTTL),
	)
	go registry.Run(ctx)
	defer registry.Shutdown()

	var auth *api.Auth
	if cfg.AuthTestMode {
		auth = api.NewTestAuth([]byte(cfg.TestJWTSecret), cfg.AuthAudience, "")
	} else {
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.AuthAudience, cfg.Issuer(), cfg.JWKSCacheTTL)
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.Observe(logger))
	api.RegisterMetrics(e, prometheus.NewRegistry())
	api.NewServer(registry, auth, deduper, logger).Register(e)

	go func() {
		<-ctx.Done()
		if err := e.Close(); err != nil {
			log.WithError(err).Warn("close server")
		}
	}()

	log.WithField("addr", cfg.ListenAddr).Info("board api listening")
	if err := e.Start(cfg.ListenAddr); err != nil && ctx.Err() == nil {
		e.Logger.Fatal(err)
	}
}

func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, func()) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		pg := storage.NewPostgresBackend(pool)
		if err := pg.EnsureTable(ctx); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
		return pg, pool.Close
	case config.BackendMemory:
		log.Warn("using in-memory storage; tasks are lost on restart")
		return storage.NewMemoryBackend(), func() {}
	default:
		tb, err := storage.NewTableBackend(cfg.StorageConnString, cfg.TasksTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		return tb, func() {}
	}
}
