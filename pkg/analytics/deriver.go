// Package analytics derives reports from the cached snapshot: commission changes, the staking plan of
// the latest scoring run and the per-run score breakdown.
package analytics

import (
	"github.com/canopy-network/validatorx/pkg/cache"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

type Deriver struct {
	store  *cache.Store
	logger *zap.Logger
	// floors caches the eligibility floor of each scoring run, tagged with the compartment version it was
	// computed from.
	floors *xsync.Map[int64, floorEntry]
}

type floorEntry struct {
	version uint64
	floor   *float64
}

func NewDeriver(store *cache.Store, logger *zap.Logger) *Deriver {
	return &Deriver{
		store:  store,
		logger: logger.With(zap.String("component", "analytics")),
		floors: xsync.NewMap[int64, floorEntry](),
	}
}
