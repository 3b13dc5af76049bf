package validators

import (
	"time"
)

// LamportsPerSol scales whole-token target stakes to the base unit used for delegated stake.
const LamportsPerSol = 1_000_000_000

// MaxCommission is the worst possible commission. Validators without an observed commission are treated as charging it.
const MaxCommission uint8 = 100

// EpochStat holds one validator's facts for one epoch, as written by the ingestion pipeline.
// Off-chain metadata (info_*, dc_*) is snapshotted per epoch so history survives renames.
type EpochStat struct {
	Identity     string     `db:"identity" json:"identity"`
	VoteAccount  string     `db:"vote_account" json:"vote_account"`
	Epoch        uint64     `db:"epoch" json:"epoch"`
	EpochStartAt *time.Time `db:"epoch_start_at" json:"epoch_start_at"`
	EpochEndAt   *time.Time `db:"epoch_end_at" json:"epoch_end_at"`

	InfoName    *string `db:"info_name" json:"info_name"`
	InfoURL     *string `db:"info_url" json:"info_url"`
	InfoKeybase *string `db:"info_keybase" json:"info_keybase"`
	NodeIP      *string `db:"node_ip" json:"node_ip"`
	DCFullCity  *string `db:"dc_full_city" json:"dc_full_city"`
	DCAso       *string `db:"dc_aso" json:"dc_aso"`

	CommissionMaxObserved *uint8 `db:"commission_max_observed" json:"commission_max_observed"`
	CommissionMinObserved *uint8 `db:"commission_min_observed" json:"commission_min_observed"`
	CommissionAdvertised  *uint8 `db:"commission_advertised" json:"commission_advertised"`
	CommissionEffective   *uint8 `db:"commission_effective" json:"commission_effective"`

	Version   *string `db:"version" json:"version"`
	MndeVotes *uint64 `db:"mnde_votes" json:"mnde_votes"`

	// Stakes are in lamports.
	ActivatedStake             uint64 `db:"activated_stake" json:"activated_stake"`
	MarinadeStake              uint64 `db:"marinade_stake" json:"marinade_stake"`
	MarinadeNativeStake        uint64 `db:"marinade_native_stake" json:"marinade_native_stake"`
	FoundationStake            uint64 `db:"foundation_stake" json:"foundation_stake"`
	SelfStake                  uint64 `db:"self_stake" json:"self_stake"`
	Superminority              bool   `db:"superminority" json:"superminority"`
	StakeToBecomeSuperminority uint64 `db:"stake_to_become_superminority" json:"stake_to_become_superminority"`

	Credits        uint64   `db:"credits" json:"credits"`
	LeaderSlots    uint64   `db:"leader_slots" json:"leader_slots"`
	BlocksProduced uint64   `db:"blocks_produced" json:"blocks_produced"`
	SkipRate       float64  `db:"skip_rate" json:"skip_rate"`
	UptimePct      *float64 `db:"uptime_pct" json:"uptime_pct"`
	Uptime         *uint64  `db:"uptime" json:"uptime"`
	Downtime       *uint64  `db:"downtime" json:"downtime"`
	APR            *float64 `db:"apr" json:"apr"`
	APY            *float64 `db:"apy" json:"apy"`
	Score          *float64 `db:"score" json:"score"`
	RankScore      *int32   `db:"rank_score" json:"rank_score"`
	RankStake      *int32   `db:"rank_activated_stake" json:"rank_activated_stake"`
	RankApy        *int32   `db:"rank_apy" json:"rank_apy"`
}

// Validator is the cached view of one vote account. Every "current" field is copied from the latest
// entry of EpochStats by transform.BuildValidators and is never set independently.
type Validator struct {
	Identity    string `json:"identity"`
	VoteAccount string `json:"vote_account"`

	InfoName    *string `json:"info_name"`
	InfoURL     *string `json:"info_url"`
	InfoKeybase *string `json:"info_keybase"`
	NodeIP      *string `json:"node_ip"`
	DCFullCity  *string `json:"dc_full_city"`
	DCAso       *string `json:"dc_aso"`

	CommissionMaxObserved *uint8 `json:"commission_max_observed"`
	CommissionMinObserved *uint8 `json:"commission_min_observed"`
	CommissionAdvertised  *uint8 `json:"commission_advertised"`
	CommissionEffective   *uint8 `json:"commission_effective"`
	CommissionAggregated  *uint8 `json:"commission_aggregated"`

	Version   *string `json:"version"`
	MndeVotes *uint64 `json:"mnde_votes"`

	ActivatedStake             uint64 `json:"activated_stake"`
	MarinadeStake              uint64 `json:"marinade_stake"`
	MarinadeNativeStake        uint64 `json:"marinade_native_stake"`
	FoundationStake            uint64 `json:"foundation_stake"`
	SelfStake                  uint64 `json:"self_stake"`
	Superminority              bool   `json:"superminority"`
	StakeToBecomeSuperminority uint64 `json:"stake_to_become_superminority"`
	Credits                    uint64 `json:"credits"`

	Score        *float64 `json:"score"`
	AvgUptimePct *float64 `json:"avg_uptime_pct"`
	AvgApy       *float64 `json:"avg_apy"`

	StartEpoch uint64     `json:"start_epoch"`
	StartDate  *time.Time `json:"start_date"`

	EpochStats []EpochStat `json:"epoch_stats"`
}

// LatestStat returns the newest epoch stat, or nil when the record has no history.
func (v *Validator) LatestStat() *EpochStat {
	if len(v.EpochStats) == 0 {
		return nil
	}
	return &v.EpochStats[len(v.EpochStats)-1]
}

// StatAt returns the stat for epoch, if present. EpochStats is sorted ascending.
func (v *Validator) StatAt(epoch uint64) (*EpochStat, bool) {
	lo, hi := 0, len(v.EpochStats)
	for lo < hi {
		mid := (lo + hi) / 2
		if v.EpochStats[mid].Epoch < epoch {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(v.EpochStats) && v.EpochStats[lo].Epoch == epoch {
		return &v.EpochStats[lo], true
	}
	return nil, false
}

// HasName reports whether a published, non-blank name exists.
func (v *Validator) HasName() bool {
	return v.InfoName != nil && *v.InfoName != ""
}

// CommissionRecord is one observation of an identity's commission. The series is append-only.
type CommissionRecord struct {
	Identity   string    `db:"identity" json:"identity"`
	Epoch      uint64    `db:"epoch" json:"epoch"`
	EpochSlot  uint64    `db:"epoch_slot" json:"epoch_slot"`
	Commission uint8     `db:"commission" json:"commission"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// UptimeRecord is a contiguous up or down interval of a vote account.
type UptimeRecord struct {
	VoteAccount string    `db:"vote_account" json:"vote_account"`
	Epoch       uint64    `db:"epoch" json:"epoch"`
	Status      string    `db:"status" json:"status"`
	StartAt     time.Time `db:"start_at" json:"start_at"`
	EndAt       time.Time `db:"end_at" json:"end_at"`
}

// VersionRecord is a software version reported by a node identity.
type VersionRecord struct {
	Identity  string    `db:"identity" json:"identity"`
	Epoch     uint64    `db:"epoch" json:"epoch"`
	Version   *string   `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
