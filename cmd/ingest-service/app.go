package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"eventpipe/internal/buffer"
	"eventpipe/internal/config"
	"eventpipe/internal/constants"
	"eventpipe/internal/dlq"
	"eventpipe/internal/events"
	"eventpipe/internal/logger"
	"eventpipe/internal/reporting"
	"eventpipe/internal/retention"
	"eventpipe/internal/storage"
	"eventpipe/internal/worker"
	"eventpipe/pkg/bootstrap"
	"eventpipe/pkg/cel"
	"eventpipe/pkg/circuitbreaker"
	"eventpipe/pkg/health"
	"eventpipe/pkg/metrics"
	"eventpipe/pkg/middleware"
	"eventpipe/pkg/migrations"
	"eventpipe/pkg/ratelimit"
	"eventpipe/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	redis       *redis.Client
	mongoClient *mongo.Client

	buffer       *buffer.Buffer
	checkpointer *buffer.Checkpointer
	breaker      *circuitbreaker.Breaker
	worker       *worker.Worker
	notifier     *dlq.KafkaNotifier
	retention    *retention.Service
	recorder     *reporting.Recorder
	limiter      *ratelimit.Limiter

	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register()

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initBuffer(ctx); err != nil {
		return fmt.Errorf("failed to initialize buffer: %w", err)
	}

	router, err := a.initPipeline(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

// initDatabases connects PostgreSQL, which is required, and the optional
// Redis and MongoDB. A failing optional store only disables its feature.
func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := storage.RunMigrations(db); err != nil {
			return err
		}
		a.Logger.Infow("Database migrations applied")
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.Warnw("Redis unavailable, continuing without business metrics cache", "error", err)
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.Warnw("MongoDB unavailable, continuing without metrics history", "error", err)
	}
	a.mongoClient = mongoClient

	return nil
}

// initBuffer replays the checkpoint before anything can enqueue.
func (a *App) initBuffer(ctx context.Context) error {
	a.buffer = buffer.New(a.Config.Buffer.Capacity)
	a.checkpointer = buffer.NewCheckpointer(a.buffer, a.Config.Checkpoint, a.Logger)

	res, err := a.checkpointer.Load(ctx)
	if err != nil {
		return err
	}
	if res.Loaded > 0 || res.Skipped > 0 {
		a.Logger.Infow("Buffer restored from checkpoint",
			"loaded", res.Loaded,
			"skipped", res.Skipped,
			"truncated", res.Truncated,
		)
	}
	return nil
}

func (a *App) initPipeline(ctx context.Context) (*gin.Engine, error) {
	cfg := a.Config

	a.breaker = circuitbreaker.New(circuitbreaker.Config{
		Name:             "storage",
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          cfg.CircuitBreaker.Timeout,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			a.Logger.Warnw("Circuit breaker state changed", "breaker", name, "from", from, "to", to)
		},
	})

	repo := storage.NewPostgresRepository(a.db, cfg.Storage, a.Logger)
	gateway := storage.NewProtectedRepository(repo, a.breaker, cfg.Query.Timeout)

	var notifier dlq.Notifier
	if a.Producer != nil {
		a.notifier = dlq.NewKafkaNotifier(a.Producer, cfg.Broker.Kafka.DLQTopic, cfg.DLQ, a.Logger)
		notifier = a.notifier
	}
	dlqService := dlq.NewService(dlq.NewRepository(a.db), a.buffer, notifier, cfg.DLQ, a.Logger)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	rules, err := evaluator.Compile(cfg.Validation.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid validation rule: %w", err)
	}
	if rules.Len() > 0 {
		a.Logger.Infow("Validation rules loaded", "rules", rules.Len())
	}

	a.worker = worker.New(a.buffer, gateway, dlqService, worker.NewValidator(cfg.Validation, rules), cfg.Worker, a.Logger)

	eventService := events.NewService(a.buffer, gateway, cfg, a.Logger)
	a.retention = retention.NewService(eventService, cfg.Retention, a.Logger)

	var cache reporting.Cache
	if a.redis != nil {
		cache = reporting.NewRedisCache(a.redis)
	}
	business := reporting.NewBusinessService(gateway, cache, cfg.Reporting, a.Logger)

	if a.mongoClient != nil {
		mongoDB := a.mongoClient.Database(cfg.Database.MongoDB.Database)
		if err := migrations.EnsureMetricsHistoryCollection(ctx, mongoDB, constants.CollectionMetrics, cfg.Reporting.HistoryRetention); err != nil {
			a.Logger.Warnw("Failed to prepare metrics history collection", "error", err)
		}
		store := reporting.NewMongoHistoryStore(mongoDB, constants.CollectionMetrics)
		a.recorder = reporting.NewRecorder(a.buffer, a.breaker, a.worker, store, cfg.Reporting, a.Logger)
	}

	checks := health.NewCheckerRegistry()
	checks.Register(health.NewPostgreSQLChecker(repo))
	checks.Register(events.BufferChecker(a.buffer))
	checks.Register(events.BreakerChecker(a.breaker))
	if a.redis != nil {
		checks.Register(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		checks.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}
	router.Use(middleware.Recovery(a.Logger))
	router.Use(middleware.CorrelationID())
	if cfg.Tracing.Enabled {
		router.Use(tracing.AnnotateRequest())
	}
	router.Use(middleware.Logger(a.Logger))

	if cfg.RateLimit.Enabled {
		a.limiter = ratelimit.New(cfg.RateLimit)
		router.Use(a.limiter.Middleware())
		a.Logger.Infow("Rate limiting enabled", "rps", cfg.RateLimit.RPS, "burst", cfg.RateLimit.Burst)
	}

	events.NewHandler(events.HandlerDeps{
		Service:  eventService,
		Buffer:   a.buffer,
		Breaker:  a.breaker,
		Worker:   a.worker,
		Database: gateway,
		Checks:   checks,
		Logger:   a.Logger,
	}).RegisterRoutes(router)
	dlq.NewHandler(dlqService, a.Logger).RegisterRoutes(router)
	a.retention.RegisterRoutes(router)
	reporting.NewHandler(business, a.recorder, a.Logger).RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router, nil
}

// Run serves HTTP and runs the background loops until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	a.worker.Start(gCtx)

	g.Go(func() error {
		a.Logger.Infow("HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.HTTPShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		a.Logger.Infow("HTTP server stopped")
		return nil
	})

	g.Go(func() error { return a.checkpointer.Run(gCtx) })
	g.Go(func() error { return a.retention.Run(gCtx) })
	if a.recorder != nil {
		g.Go(func() error { return a.recorder.Run(gCtx) })
	}
	if a.limiter != nil {
		g.Go(func() error { return a.limiter.RunCleanup(gCtx) })
	}
	if a.notifier != nil {
		g.Go(func() error { return a.notifier.Run(gCtx) })
	}

	return g.Wait()
}

// Shutdown runs after the HTTP server has stopped accepting events: the
// worker drains what it can, the remainder is checkpointed, then the
// connections are closed.
func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.worker != nil {
			stopCtx, cancel := context.WithTimeout(ctx, a.Config.Worker.ShutdownTimeout+5*time.Second)
			a.worker.Stop(stopCtx)
			cancel()
		}

		if a.notifier != nil {
			flushCtx, cancel := context.WithTimeout(ctx, a.Config.DLQ.NotifyTimeout)
			a.notifier.Flush(flushCtx)
			cancel()
		}

		if a.checkpointer != nil {
			a.checkpointer.Final(ctx)
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
