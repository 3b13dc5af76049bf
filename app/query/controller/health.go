package controller

import (
	"net/http"

	"github.com/canopy-network/validatorx/pkg/cache"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// HandleHealth fails while the primary store is unreachable and no validators have ever been cached.
// A warm cache keeps the instance serving through primary store or Redis outages, reported as degraded.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")

	_, cached := c.App.Cache.UpdatedAt(cache.Validators)
	dbErr := c.App.PrimaryDB.Ping(ctx)
	if dbErr != nil {
		c.App.Logger.Warn("Primary store ping failed", zap.Error(dbErr))
	}

	if dbErr != nil && !cached {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": "database connection error"})
		return
	}

	resp := map[string]string{"status": "ok"}
	if dbErr != nil || !cached {
		resp["status"] = "degraded"
	}
	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			c.App.Logger.Warn("Redis ping failed", zap.Error(err))
			resp["status"] = "degraded"
			resp["redis"] = "unreachable"
		}
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
