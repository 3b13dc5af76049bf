package query

import (
	"context"

	"github.com/canopy-network/validatorx/app/query/types"
	"github.com/canopy-network/validatorx/pkg/analytics"
	"github.com/canopy-network/validatorx/pkg/cache"
	validatorsdb "github.com/canopy-network/validatorx/pkg/db/postgres/validators"
	"github.com/canopy-network/validatorx/pkg/logging"
	"github.com/canopy-network/validatorx/pkg/metrics"
	"github.com/canopy-network/validatorx/pkg/query"
	"github.com/canopy-network/validatorx/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New("query")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := types.LoadConfig()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if len(cfg.AdminPasswordHash) > 0 && len(cfg.SessionSecret) == 0 {
		logger.Warn("ADMIN_PASSWORD is set without SESSION_SECRET - admin login is disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	primary, err := validatorsdb.New(ctx, logger, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("Unable to connect to the primary store", zap.Error(err))
	}

	store := cache.NewStore()
	opts := []cache.RefresherOption{cache.WithMetrics(m)}

	// Redis is optional: without it every replica refreshes on its own.
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - refreshing without fast-path store, lock or events",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for fast-path store, refresh lock and events")
			opts = append(opts,
				cache.WithFastPath(redisClient),
				cache.WithLocker(redisClient),
				cache.WithNotifier(redisClient),
				cache.WithEventSource(redisClient))
		}
	} else {
		logger.Info("Redis disabled - this instance refreshes on its own and /ws is unavailable")
	}

	refresher := cache.NewRefresher(store, primary, logger, cache.RefresherConfig{
		Tag:         cfg.Tag,
		Interval:    cfg.RefreshInterval,
		LockTTL:     cfg.RefreshLockTTL,
		Epochs:      cfg.CacheEpochs,
		Parallelism: cfg.Parallelism,
	}, opts...)

	app := &types.App{
		Config:      cfg,
		PrimaryDB:   primary,
		RedisClient: redisClient,
		Cache:       store,
		Refresher:   refresher,
		Engine:      query.NewEngine(store, logger),
		Deriver:     analytics.NewDeriver(store, logger),
		Metrics:     m,
		Logger:      logger,
	}

	return app
}
