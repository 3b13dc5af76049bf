package db

import (
	"context"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
)

// Source exposes the read-only load operations the cache refresher runs against the primary store.
// Each call returns a complete copy of one entity set; epochs bounds how much history is loaded.
type Source interface {
	LoadValidators(ctx context.Context, epochs uint64) (map[string]models.Validator, error)
	LoadCommissions(ctx context.Context) (map[string][]models.CommissionRecord, error)
	LoadUptimes(ctx context.Context, epochs uint64) (map[string][]models.UptimeRecord, error)
	LoadVersions(ctx context.Context, epochs uint64) (map[string][]models.VersionRecord, error)
	LoadClusterStats(ctx context.Context, epochs uint64) (models.ClusterStats, error)
	LoadAggregatedEpochStats(ctx context.Context, epochs uint64) ([]models.AggregatedEpochStats, error)
	LoadLatestScores(ctx context.Context) (models.RunScores, error)
	LoadAllScores(ctx context.Context) (models.ScoringHistory, error)
}

// ScoreWriter persists an uploaded scoring run. The run and all of its scores are written atomically.
type ScoreWriter interface {
	InsertScoringRun(ctx context.Context, run models.ScoringRun, scores []models.ValidatorScore) (int64, error)
}

// Store is the full primary store surface used by the query service.
type Store interface {
	Source
	ScoreWriter
	Ping(ctx context.Context) error
	Close() error
}
