package validators

import (
	"context"
	"errors"
	"fmt"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/db/postgres"
	"github.com/canopy-network/validatorx/pkg/db/transform"
	"github.com/jackc/pgx/v5"
)

// ErrNoScoringRuns is returned by LoadLatestScores when no run was ever uploaded.
var ErrNoScoringRuns = errors.New("no scoring runs")

const scoringRunColumns = `scoring_run_id, epoch, created_at, ui_id, components, component_weights`

// component_values may hold NULLs for components that had no input; they are read as "".
const scoreColumns = `
	scoring_run_id, vote_account, score, rank,
	COALESCE(ui_hints, '{}') AS ui_hints,
	COALESCE(component_scores, '{}') AS component_scores,
	COALESCE(component_ranks, '{}') AS component_ranks,
	COALESCE(array_replace(component_values, NULL, ''), '{}') AS component_values,
	eligible_stake_algo, eligible_stake_mnde, eligible_stake_msol, eligible_stake_vemnde,
	target_stake_algo, target_stake_mnde, target_stake_msol
`

// LoadLatestScores loads the newest scoring run and its scores keyed by vote account. Both reads share
// one read-only transaction so a concurrent upload cannot pair a run with another run's scores.
func (db *DB) LoadLatestScores(ctx context.Context) (models.RunScores, error) {
	var out models.RunScores
	err := db.readSnapshot(ctx, func(ctx context.Context) error {
		exec := db.GetExecutor(ctx)

		rows, err := exec.Query(ctx, `SELECT `+scoringRunColumns+` FROM scoring_runs ORDER BY scoring_run_id DESC LIMIT 1`)
		if err != nil {
			return fmt.Errorf("failed to load latest scoring run: %w", err)
		}
		run, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[models.ScoringRun])
		if postgres.IsNoRows(err) {
			return ErrNoScoringRuns
		}
		if err != nil {
			return fmt.Errorf("failed to load latest scoring run: %w", err)
		}

		scores, err := postgres.SelectAll[models.ValidatorScore](ctx, exec,
			`SELECT `+scoreColumns+` FROM scores WHERE scoring_run_id = $1`, run.ScoringRunID)
		if err != nil {
			return fmt.Errorf("failed to load scores of run %d: %w", run.ScoringRunID, err)
		}

		byVote := make(map[string]models.ValidatorScore, len(scores))
		for _, s := range scores {
			byVote[s.VoteAccount] = s
		}
		out = models.RunScores{Run: run, Scores: byVote}
		return nil
	})
	return out, err
}

// LoadAllScores loads every scoring run and all historical scores.
func (db *DB) LoadAllScores(ctx context.Context) (models.ScoringHistory, error) {
	var out models.ScoringHistory
	err := db.readSnapshot(ctx, func(ctx context.Context) error {
		exec := db.GetExecutor(ctx)

		runs, err := postgres.SelectAll[models.ScoringRun](ctx, exec,
			`SELECT `+scoringRunColumns+` FROM scoring_runs ORDER BY scoring_run_id`)
		if err != nil {
			return fmt.Errorf("failed to load scoring runs: %w", err)
		}

		scores, err := postgres.SelectAll[models.ValidatorScore](ctx, exec,
			`SELECT `+scoreColumns+` FROM scores ORDER BY scoring_run_id, rank`)
		if err != nil {
			return fmt.Errorf("failed to load scores: %w", err)
		}

		out = models.ScoringHistory{Runs: runs, Scores: transform.GroupScores(scores)}
		return nil
	})
	return out, err
}

// readSnapshot runs fn inside a repeatable-read, read-only transaction carried by the context.
func (db *DB) readSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgx.BeginTxFunc(ctx, db.Pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly},
		func(tx pgx.Tx) error {
			return fn(db.WithTx(ctx, tx))
		})
}

// InsertScoringRun writes a run and all of its scores in one transaction and returns the new run id.
// The run id of each score is ignored and replaced by the generated one.
func (db *DB) InsertScoringRun(ctx context.Context, run models.ScoringRun, scores []models.ValidatorScore) (int64, error) {
	var runID int64
	err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO scoring_runs (epoch, created_at, ui_id, components, component_weights)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING scoring_run_id
		`, int64(run.Epoch), run.CreatedAt, run.UIID, run.Components, run.ComponentWeights).Scan(&runID)
		if err != nil {
			return fmt.Errorf("failed to insert scoring run: %w", err)
		}

		batch := &pgx.Batch{}
		query := `
			INSERT INTO scores (
				scoring_run_id, vote_account, score, rank, ui_hints,
				component_scores, component_ranks, component_values,
				eligible_stake_algo, eligible_stake_mnde, eligible_stake_msol, eligible_stake_vemnde,
				target_stake_algo, target_stake_mnde, target_stake_msol
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`
		for _, s := range scores {
			batch.Queue(query,
				runID, s.VoteAccount, s.Score, s.Rank, s.UIHints,
				s.ComponentScores, s.ComponentRanks, s.ComponentValues,
				s.EligibleStakeAlgo, s.EligibleStakeMnde, s.EligibleStakeMsol, s.EligibleStakeVemnde,
				s.TargetStakeAlgo, s.TargetStakeMnde, s.TargetStakeMsol,
			)
		}
		if err := postgres.ExecuteBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("failed to insert scores: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return runID, nil
}
