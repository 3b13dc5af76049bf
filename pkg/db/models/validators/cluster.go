package validators

import (
	"time"
)

// BlockProductionStat is the cluster-wide block production rollup of one epoch.
type BlockProductionStat struct {
	Epoch          uint64  `db:"epoch" json:"epoch"`
	LeaderSlots    uint64  `db:"leader_slots" json:"leader_slots"`
	BlocksProduced uint64  `db:"blocks_produced" json:"blocks_produced"`
	AvgSkipRate    float64 `db:"avg_skip_rate" json:"avg_skip_rate"`
}

// StakeConcentrationStat is the share of activated stake per data-center location and operator.
type StakeConcentrationStat struct {
	Epoch               uint64             `db:"epoch" json:"epoch"`
	TotalActivatedStake uint64             `db:"total_activated_stake" json:"total_activated_stake"`
	ByCity              map[string]float64 `db:"by_city" json:"by_city"`
	ByAso               map[string]float64 `db:"by_aso" json:"by_aso"`
}

// ClusterStats groups the cluster-wide time series. Both series are sorted by epoch ascending.
type ClusterStats struct {
	BlockProduction    []BlockProductionStat    `json:"block_production"`
	StakeConcentration []StakeConcentrationStat `json:"stake_concentration"`
}

// AggregatedEpochStats is a cluster-wide per-epoch rollup across all validators.
type AggregatedEpochStats struct {
	Epoch              uint64     `db:"epoch" json:"epoch"`
	EpochStartAt       *time.Time `db:"epoch_start_at" json:"epoch_start_at"`
	EpochEndAt         *time.Time `db:"epoch_end_at" json:"epoch_end_at"`
	ValidatorsCount    uint64     `db:"validators_count" json:"validators_count"`
	TotalStake         uint64     `db:"total_stake" json:"total_stake"`
	TotalMarinadeStake uint64     `db:"total_marinade_stake" json:"total_marinade_stake"`
	AvgCommission      *float64   `db:"avg_commission" json:"avg_commission"`
	AvgSkipRate        *float64   `db:"avg_skip_rate" json:"avg_skip_rate"`
	AvgApy             *float64   `db:"avg_apy" json:"avg_apy"`
	AvgScore           *float64   `db:"avg_score" json:"avg_score"`
}
