package analytics

import (
	"cmp"
	"slices"
	"time"

	"github.com/canopy-network/validatorx/pkg/cache"
	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/outcome"
	"go.uber.org/zap"
)

type ScoreBreakdownConfig struct {
	// Since keeps runs created at or after it.
	Since       *time.Time
	VoteAccount string
}

// ScoreBreakdown is one validator's result in one scoring run together with the run's metadata.
type ScoreBreakdown struct {
	ScoringRunID     int64     `json:"scoring_run_id"`
	Epoch            uint64    `json:"epoch"`
	CreatedAt        time.Time `json:"created_at"`
	UIID             string    `json:"ui_id"`
	Components       []string  `json:"components"`
	ComponentWeights []float64 `json:"component_weights"`

	VoteAccount     string    `json:"vote_account"`
	Score           float64   `json:"score"`
	Rank            int32     `json:"rank"`
	UIHints         []string  `json:"ui_hints"`
	ComponentScores []float64 `json:"component_scores"`
	ComponentRanks  []int32   `json:"component_ranks"`
	ComponentValues []string  `json:"component_values"`

	EligibleStakeAlgo   bool    `json:"eligible_stake_algo"`
	EligibleStakeMnde   bool    `json:"eligible_stake_mnde"`
	EligibleStakeMsol   bool    `json:"eligible_stake_msol"`
	EligibleStakeVemnde bool    `json:"eligible_stake_vemnde"`
	TargetStakeAlgo     float64 `json:"target_stake_algo"`
	TargetStakeMnde     float64 `json:"target_stake_mnde"`
	TargetStakeMsol     float64 `json:"target_stake_msol"`

	// EligibilityFloor is the lowest score in the run that still received algorithmic stake.
	// Nil when nobody did.
	EligibilityFloor *float64 `json:"eligibility_floor"`
}

// ScoreBreakdown returns one row per (scoring run, vote account), newest run first.
func (d *Deriver) ScoreBreakdown(cfg ScoreBreakdownConfig) outcome.Outcome[[]ScoreBreakdown] {
	view, err := d.store.ScoresAll()
	if err != nil {
		return cache.Unavailable[[]ScoreBreakdown](d.logger, cache.ScoresAll, err, "scoring history is not loaded yet")
	}

	runs := slices.Clone(view.Data.Runs)
	slices.SortFunc(runs, func(a, b models.ScoringRun) int { return cmp.Compare(b.ScoringRunID, a.ScoringRunID) })

	rows := []ScoreBreakdown{}
	for _, run := range runs {
		if cfg.Since != nil && run.CreatedAt.Before(*cfg.Since) {
			continue
		}
		scores := view.Data.Scores[run.ScoringRunID]
		if len(scores) == 0 {
			d.logger.Debug("Scoring run without scores", zap.Int64("scoringRunId", run.ScoringRunID))
			continue
		}
		floor := d.eligibilityFloor(run.ScoringRunID, view.Version, scores)

		start := len(rows)
		for _, s := range scores {
			if cfg.VoteAccount != "" && s.VoteAccount != cfg.VoteAccount {
				continue
			}
			rows = append(rows, breakdownRow(run, s, floor))
		}
		slices.SortFunc(rows[start:], func(a, b ScoreBreakdown) int { return cmp.Compare(a.VoteAccount, b.VoteAccount) })
	}
	return outcome.Ok(rows)
}

// eligibilityFloor computes the floor over every score of the run, never over a filtered subset.
func (d *Deriver) eligibilityFloor(runID int64, version uint64, scores []models.ValidatorScore) *float64 {
	if e, ok := d.floors.Load(runID); ok && e.version == version {
		return e.floor
	}

	var floor *float64
	for _, s := range scores {
		if s.TargetStakeAlgo <= 0 {
			continue
		}
		if floor == nil || s.Score < *floor {
			f := s.Score
			floor = &f
		}
	}
	d.floors.Store(runID, floorEntry{version: version, floor: floor})
	return floor
}

func breakdownRow(run models.ScoringRun, s models.ValidatorScore, floor *float64) ScoreBreakdown {
	return ScoreBreakdown{
		ScoringRunID:     run.ScoringRunID,
		Epoch:            run.Epoch,
		CreatedAt:        run.CreatedAt,
		UIID:             run.UIID,
		Components:       run.Components,
		ComponentWeights: run.ComponentWeights,

		VoteAccount:     s.VoteAccount,
		Score:           s.Score,
		Rank:            s.Rank,
		UIHints:         s.UIHints,
		ComponentScores: s.ComponentScores,
		ComponentRanks:  s.ComponentRanks,
		ComponentValues: s.ComponentValues,

		EligibleStakeAlgo:   s.EligibleStakeAlgo,
		EligibleStakeMnde:   s.EligibleStakeMnde,
		EligibleStakeMsol:   s.EligibleStakeMsol,
		EligibleStakeVemnde: s.EligibleStakeVemnde,
		TargetStakeAlgo:     s.TargetStakeAlgo,
		TargetStakeMnde:     s.TargetStakeMnde,
		TargetStakeMsol:     s.TargetStakeMsol,

		EligibilityFloor: floor,
	}
}
