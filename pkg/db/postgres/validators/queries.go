package validators

import (
	"context"
	"fmt"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/db/postgres"
	"github.com/canopy-network/validatorx/pkg/db/transform"
)

// latestEpochsFilter restricts a query on a table with an epoch column to the last $1 epochs
// present in the validators table.
const latestEpochsFilter = `epoch > (SELECT COALESCE(MAX(epoch), 0) FROM validators) - $1`

// LoadValidators loads the last epochs of per-epoch validator rows and assembles validator records.
func (db *DB) LoadValidators(ctx context.Context, epochs uint64) (map[string]models.Validator, error) {
	query := `
		SELECT v.identity, v.vote_account, v.epoch,
		       e.start_at AS epoch_start_at, e.end_at AS epoch_end_at,
		       v.info_name, v.info_url, v.info_keybase, v.node_ip, v.dc_full_city, v.dc_aso,
		       v.commission_max_observed, v.commission_min_observed,
		       v.commission_advertised, v.commission_effective,
		       v.version, v.mnde_votes,
		       v.activated_stake, v.marinade_stake, v.marinade_native_stake, v.foundation_stake,
		       v.self_stake, v.superminority, v.stake_to_become_superminority,
		       v.credits, v.leader_slots, v.blocks_produced, v.skip_rate,
		       v.uptime_pct, v.uptime, v.downtime, v.apr, v.apy,
		       v.score, v.rank_score, v.rank_activated_stake, v.rank_apy
		FROM validators v
		LEFT JOIN epochs e ON e.epoch = v.epoch
		WHERE v.` + latestEpochsFilter + `
		ORDER BY v.vote_account, v.epoch
	`

	rows, err := postgres.SelectAll[models.EpochStat](ctx, db.GetExecutor(ctx), query, int64(epochs))
	if err != nil {
		return nil, fmt.Errorf("failed to load validators: %w", err)
	}
	return transform.BuildValidators(rows), nil
}

// LoadCommissions loads every commission observation grouped by identity.
func (db *DB) LoadCommissions(ctx context.Context) (map[string][]models.CommissionRecord, error) {
	query := `
		SELECT identity, epoch, epoch_slot, commission, created_at
		FROM commissions
		ORDER BY identity, epoch, epoch_slot
	`

	rows, err := postgres.SelectAll[models.CommissionRecord](ctx, db.GetExecutor(ctx), query)
	if err != nil {
		return nil, fmt.Errorf("failed to load commissions: %w", err)
	}
	return transform.GroupCommissions(rows), nil
}

// LoadUptimes loads up/down intervals of the last epochs grouped by vote account.
func (db *DB) LoadUptimes(ctx context.Context, epochs uint64) (map[string][]models.UptimeRecord, error) {
	query := `
		SELECT vote_account, epoch, status, start_at, end_at
		FROM uptimes
		WHERE ` + latestEpochsFilter + `
		ORDER BY vote_account, start_at
	`

	rows, err := postgres.SelectAll[models.UptimeRecord](ctx, db.GetExecutor(ctx), query, int64(epochs))
	if err != nil {
		return nil, fmt.Errorf("failed to load uptimes: %w", err)
	}
	return transform.GroupUptimes(rows), nil
}

// LoadVersions loads node versions of the last epochs grouped by identity.
func (db *DB) LoadVersions(ctx context.Context, epochs uint64) (map[string][]models.VersionRecord, error) {
	query := `
		SELECT identity, epoch, version, created_at
		FROM versions
		WHERE ` + latestEpochsFilter + `
		ORDER BY identity, created_at
	`

	rows, err := postgres.SelectAll[models.VersionRecord](ctx, db.GetExecutor(ctx), query, int64(epochs))
	if err != nil {
		return nil, fmt.Errorf("failed to load versions: %w", err)
	}
	return transform.GroupVersions(rows), nil
}

// LoadClusterStats rolls up block production and stake concentration per epoch.
func (db *DB) LoadClusterStats(ctx context.Context, epochs uint64) (models.ClusterStats, error) {
	blockQuery := `
		SELECT epoch,
		       SUM(leader_slots)::bigint AS leader_slots,
		       SUM(blocks_produced)::bigint AS blocks_produced,
		       COALESCE(AVG(skip_rate), 0)::float8 AS avg_skip_rate
		FROM validators
		WHERE ` + latestEpochsFilter + `
		GROUP BY epoch
		ORDER BY epoch
	`

	concentrationQuery := `
		WITH stake AS (
			SELECT epoch,
			       COALESCE(dc_full_city, 'Unknown') AS city,
			       COALESCE(dc_aso, 'Unknown') AS aso,
			       activated_stake
			FROM validators
			WHERE ` + latestEpochsFilter + `
		), totals AS (
			SELECT epoch, SUM(activated_stake) AS total FROM stake GROUP BY epoch
		), city AS (
			SELECT s.epoch, s.city AS k, (SUM(s.activated_stake) / NULLIF(t.total, 0))::float8 AS share
			FROM stake s JOIN totals t USING (epoch)
			GROUP BY s.epoch, s.city, t.total
		), aso AS (
			SELECT s.epoch, s.aso AS k, (SUM(s.activated_stake) / NULLIF(t.total, 0))::float8 AS share
			FROM stake s JOIN totals t USING (epoch)
			GROUP BY s.epoch, s.aso, t.total
		)
		SELECT t.epoch,
		       t.total::bigint AS total_activated_stake,
		       COALESCE((SELECT jsonb_object_agg(k, COALESCE(share, 0)) FROM city WHERE city.epoch = t.epoch), '{}'::jsonb) AS by_city,
		       COALESCE((SELECT jsonb_object_agg(k, COALESCE(share, 0)) FROM aso WHERE aso.epoch = t.epoch), '{}'::jsonb) AS by_aso
		FROM totals t
		ORDER BY t.epoch
	`

	exec := db.GetExecutor(ctx)
	production, err := postgres.SelectAll[models.BlockProductionStat](ctx, exec, blockQuery, int64(epochs))
	if err != nil {
		return models.ClusterStats{}, fmt.Errorf("failed to load block production stats: %w", err)
	}
	concentration, err := postgres.SelectAll[models.StakeConcentrationStat](ctx, exec, concentrationQuery, int64(epochs))
	if err != nil {
		return models.ClusterStats{}, fmt.Errorf("failed to load stake concentration stats: %w", err)
	}

	return models.ClusterStats{BlockProduction: production, StakeConcentration: concentration}, nil
}

// LoadAggregatedEpochStats rolls up all validators per epoch.
func (db *DB) LoadAggregatedEpochStats(ctx context.Context, epochs uint64) ([]models.AggregatedEpochStats, error) {
	query := `
		SELECT v.epoch,
		       MIN(e.start_at) AS epoch_start_at,
		       MIN(e.end_at) AS epoch_end_at,
		       COUNT(*)::bigint AS validators_count,
		       SUM(v.activated_stake)::bigint AS total_stake,
		       SUM(v.marinade_stake)::bigint AS total_marinade_stake,
		       AVG(COALESCE(v.commission_effective, v.commission_advertised))::float8 AS avg_commission,
		       AVG(v.skip_rate)::float8 AS avg_skip_rate,
		       AVG(v.apy)::float8 AS avg_apy,
		       AVG(v.score)::float8 AS avg_score
		FROM validators v
		LEFT JOIN epochs e ON e.epoch = v.epoch
		WHERE v.` + latestEpochsFilter + `
		GROUP BY v.epoch
		ORDER BY v.epoch
	`

	rows, err := postgres.SelectAll[models.AggregatedEpochStats](ctx, db.GetExecutor(ctx), query, int64(epochs))
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregated epoch stats: %w", err)
	}
	return rows, nil
}
