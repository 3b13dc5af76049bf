package types

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/canopy-network/validatorx/pkg/analytics"
	"github.com/canopy-network/validatorx/pkg/cache"
	"github.com/canopy-network/validatorx/pkg/db"
	"github.com/canopy-network/validatorx/pkg/metrics"
	"github.com/canopy-network/validatorx/pkg/query"
	"github.com/canopy-network/validatorx/pkg/redis"
	"github.com/canopy-network/validatorx/pkg/utils"
	"go.uber.org/zap"
)

// Config is read once from the environment at startup.
type Config struct {
	Addr string
	// Tag namespaces fast-path keys, the refresh lock and refresh events (e.g. "mainnet").
	Tag             string
	RefreshInterval time.Duration
	RefreshLockTTL  time.Duration
	Parallelism     int
	CacheEpochs     uint64
	PostgresURL     string
	RedisEnabled    bool
	AdminToken      string
	AdminUser       string
	// AdminPasswordHash is the bcrypt hash of ADMIN_PASSWORD; empty disables password login.
	AdminPasswordHash []byte
	SessionSecret     []byte
	UploadMaxBytes    int64
}

// LoadConfig reads the environment. ADMIN_PASSWORD may be plain text or a bcrypt hash.
func LoadConfig() (Config, error) {
	cfg := Config{
		Addr:            utils.Env("ADDR", ":3001"),
		Tag:             utils.Env("ENVIRONMENT_TAG", "local"),
		RefreshInterval: utils.EnvDuration("REFRESH_INTERVAL", 15*time.Minute),
		RefreshLockTTL:  utils.EnvDuration("REFRESH_LOCK_TTL", 10*time.Minute),
		Parallelism:     utils.EnvInt("REFRESH_PARALLELISM", 4),
		CacheEpochs:     uint64(utils.EnvInt64("CACHE_EPOCHS", 30)),
		PostgresURL:     utils.Env("POSTGRES_URL", "postgres://localhost:5432/validators"),
		RedisEnabled:    utils.EnvBool("REDIS_ENABLED", false),
		AdminToken:      utils.Env("ADMIN_TOKEN", ""),
		AdminUser:       utils.Env("ADMIN_USER", "admin"),
		SessionSecret:   []byte(utils.Env("SESSION_SECRET", "")),
		UploadMaxBytes:  utils.EnvInt64("ADMIN_UPLOAD_MAX_BYTES", 10<<20),
	}
	if pw := utils.Env("ADMIN_PASSWORD", ""); pw != "" {
		hash, err := utils.HashOrRead(pw)
		if err != nil {
			return cfg, fmt.Errorf("failed to hash ADMIN_PASSWORD: %w", err)
		}
		cfg.AdminPasswordHash = hash
	}
	return cfg, nil
}

type App struct {
	Config Config
	// PrimaryDB is only used for health checks and admin score uploads; requests are served from Cache.
	PrimaryDB db.Store
	// RedisClient is nil when Redis is disabled or unreachable.
	RedisClient *redis.Client
	Cache       *cache.Store
	Refresher   *cache.Refresher
	Engine      *query.Engine
	Deriver     *analytics.Deriver
	Metrics     *metrics.Metrics
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start warms the cache, starts the refresher and serves HTTP until ctx is done.
func (a *App) Start(ctx context.Context) {
	a.Refresher.Start(ctx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)
	a.Refresher.Stop()

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}
	if err := a.PrimaryDB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
