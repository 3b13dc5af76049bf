package validators

import (
	"time"
)

// ScoringRun is one execution of the off-chain scoring algorithm. Runs are append-only and never edited.
type ScoringRun struct {
	ScoringRunID     int64     `db:"scoring_run_id" json:"scoring_run_id"`
	Epoch            uint64    `db:"epoch" json:"epoch"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UIID             string    `db:"ui_id" json:"ui_id"`
	Components       []string  `db:"components" json:"components"`
	ComponentWeights []float64 `db:"component_weights" json:"component_weights"`
}

// ValidatorScore is the result of one scoring run for one vote account.
// Target stakes are whole tokens; multiply by LamportsPerSol to compare with delegated stake.
type ValidatorScore struct {
	ScoringRunID    int64     `db:"scoring_run_id" json:"scoring_run_id"`
	VoteAccount     string    `db:"vote_account" json:"vote_account"`
	Score           float64   `db:"score" json:"score"`
	Rank            int32     `db:"rank" json:"rank"`
	UIHints         []string  `db:"ui_hints" json:"ui_hints"`
	ComponentScores []float64 `db:"component_scores" json:"component_scores"`
	ComponentRanks  []int32   `db:"component_ranks" json:"component_ranks"`
	ComponentValues []string  `db:"component_values" json:"component_values"`

	EligibleStakeAlgo   bool `db:"eligible_stake_algo" json:"eligible_stake_algo"`
	EligibleStakeMnde   bool `db:"eligible_stake_mnde" json:"eligible_stake_mnde"`
	EligibleStakeMsol   bool `db:"eligible_stake_msol" json:"eligible_stake_msol"`
	EligibleStakeVemnde bool `db:"eligible_stake_vemnde" json:"eligible_stake_vemnde"`

	TargetStakeAlgo float64 `db:"target_stake_algo" json:"target_stake_algo"`
	TargetStakeMnde float64 `db:"target_stake_mnde" json:"target_stake_mnde"`
	TargetStakeMsol float64 `db:"target_stake_msol" json:"target_stake_msol"`
}

// RunScores is the latest scoring run with its scores keyed by vote account.
type RunScores struct {
	Run    ScoringRun                `json:"run"`
	Scores map[string]ValidatorScore `json:"scores"`
}

// ScoringHistory holds every scoring run and its scores grouped by scoring run id.
type ScoringHistory struct {
	Runs   []ScoringRun               `json:"runs"`
	Scores map[int64][]ValidatorScore `json:"scores"`
}

// ScoreUploadRow is one validator line of an uploaded scoring run, before it is assigned a run id.
type ScoreUploadRow struct {
	VoteAccount     string    `validate:"required,base58,min=32,max=44"`
	Score           float64   `validate:"gte=0"`
	Rank            int32     `validate:"gte=1"`
	UIHints         []string  `validate:"dive,required"`
	ComponentScores []float64 `validate:"dive,gte=0"`
	ComponentRanks  []int32   `validate:"dive,gte=1"`
	ComponentValues []string

	EligibleStakeAlgo   bool
	EligibleStakeMnde   bool
	EligibleStakeMsol   bool
	EligibleStakeVemnde bool

	TargetStakeAlgo float64 `validate:"gte=0"`
	TargetStakeMnde float64 `validate:"gte=0"`
	TargetStakeMsol float64 `validate:"gte=0"`
}

// ValidatorScore converts the row into the stored form for run runID.
func (r ScoreUploadRow) ValidatorScore(runID int64) ValidatorScore {
	return ValidatorScore{
		ScoringRunID:        runID,
		VoteAccount:         r.VoteAccount,
		Score:               r.Score,
		Rank:                r.Rank,
		UIHints:             r.UIHints,
		ComponentScores:     r.ComponentScores,
		ComponentRanks:      r.ComponentRanks,
		ComponentValues:     r.ComponentValues,
		EligibleStakeAlgo:   r.EligibleStakeAlgo,
		EligibleStakeMnde:   r.EligibleStakeMnde,
		EligibleStakeMsol:   r.EligibleStakeMsol,
		EligibleStakeVemnde: r.EligibleStakeVemnde,
		TargetStakeAlgo:     r.TargetStakeAlgo,
		TargetStakeMnde:     r.TargetStakeMnde,
		TargetStakeMsol:     r.TargetStakeMsol,
	}
}
