package transform

import (
	"sort"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
)

// BuildValidators groups per-epoch rows into validator records keyed by vote account.
// Rows for the same (vote_account, epoch) collapse to the last one seen, and the current
// fields of every record are copied from its latest epoch.
func BuildValidators(rows []models.EpochStat) map[string]models.Validator {
	byVote := make(map[string]map[uint64]models.EpochStat)
	for _, row := range rows {
		epochs, ok := byVote[row.VoteAccount]
		if !ok {
			epochs = make(map[uint64]models.EpochStat)
			byVote[row.VoteAccount] = epochs
		}
		epochs[row.Epoch] = row
	}

	out := make(map[string]models.Validator, len(byVote))
	for vote, epochs := range byVote {
		stats := make([]models.EpochStat, 0, len(epochs))
		for _, s := range epochs {
			stats = append(stats, s)
		}
		sort.Slice(stats, func(i, j int) bool { return stats[i].Epoch < stats[j].Epoch })
		out[vote] = validatorFromStats(stats)
	}
	return out
}

func validatorFromStats(stats []models.EpochStat) models.Validator {
	latest := stats[len(stats)-1]
	first := stats[0]

	v := models.Validator{
		Identity:    latest.Identity,
		VoteAccount: latest.VoteAccount,

		InfoName:    latest.InfoName,
		InfoURL:     latest.InfoURL,
		InfoKeybase: latest.InfoKeybase,
		NodeIP:      latest.NodeIP,
		DCFullCity:  latest.DCFullCity,
		DCAso:       latest.DCAso,

		CommissionMaxObserved: latest.CommissionMaxObserved,
		CommissionMinObserved: latest.CommissionMinObserved,
		CommissionAdvertised:  latest.CommissionAdvertised,
		CommissionEffective:   latest.CommissionEffective,
		CommissionAggregated:  aggregatedCommission(latest),

		Version:   latest.Version,
		MndeVotes: latest.MndeVotes,

		ActivatedStake:             latest.ActivatedStake,
		MarinadeStake:              latest.MarinadeStake,
		MarinadeNativeStake:        latest.MarinadeNativeStake,
		FoundationStake:            latest.FoundationStake,
		SelfStake:                  latest.SelfStake,
		Superminority:              latest.Superminority,
		StakeToBecomeSuperminority: latest.StakeToBecomeSuperminority,
		Credits:                    latest.Credits,
		Score:                      latest.Score,

		AvgUptimePct: average(stats, func(s models.EpochStat) *float64 { return s.UptimePct }),
		AvgApy:       average(stats, func(s models.EpochStat) *float64 { return s.APY }),

		StartEpoch: first.Epoch,
		StartDate:  first.EpochStartAt,
		EpochStats: stats,
	}
	return v
}

// aggregatedCommission prefers what the validator actually charged over what it advertised.
func aggregatedCommission(s models.EpochStat) *uint8 {
	if s.CommissionEffective != nil {
		return s.CommissionEffective
	}
	return s.CommissionAdvertised
}

func average(stats []models.EpochStat, field func(models.EpochStat) *float64) *float64 {
	var sum float64
	var n int
	for _, s := range stats {
		if v := field(s); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// GroupCommissions groups commission observations by identity, each series sorted by (epoch, epoch_slot).
func GroupCommissions(rows []models.CommissionRecord) map[string][]models.CommissionRecord {
	out := make(map[string][]models.CommissionRecord)
	for _, r := range rows {
		out[r.Identity] = append(out[r.Identity], r)
	}
	for _, series := range out {
		SortCommissions(series)
	}
	return out
}

// SortCommissions orders a series ascending by (epoch, epoch_slot), stable for equal positions.
func SortCommissions(series []models.CommissionRecord) {
	sort.SliceStable(series, func(i, j int) bool {
		if series[i].Epoch != series[j].Epoch {
			return series[i].Epoch < series[j].Epoch
		}
		return series[i].EpochSlot < series[j].EpochSlot
	})
}

// GroupUptimes groups uptime intervals by vote account, each sorted by start time.
func GroupUptimes(rows []models.UptimeRecord) map[string][]models.UptimeRecord {
	out := make(map[string][]models.UptimeRecord)
	for _, r := range rows {
		out[r.VoteAccount] = append(out[r.VoteAccount], r)
	}
	for _, series := range out {
		sort.SliceStable(series, func(i, j int) bool { return series[i].StartAt.Before(series[j].StartAt) })
	}
	return out
}

// GroupVersions groups version reports by identity, each sorted by creation time.
func GroupVersions(rows []models.VersionRecord) map[string][]models.VersionRecord {
	out := make(map[string][]models.VersionRecord)
	for _, r := range rows {
		out[r.Identity] = append(out[r.Identity], r)
	}
	for _, series := range out {
		sort.SliceStable(series, func(i, j int) bool { return series[i].CreatedAt.Before(series[j].CreatedAt) })
	}
	return out
}

// GroupScores groups score rows by scoring run id.
func GroupScores(rows []models.ValidatorScore) map[int64][]models.ValidatorScore {
	out := make(map[int64][]models.ValidatorScore)
	for _, r := range rows {
		out[r.ScoringRunID] = append(out[r.ScoringRunID], r)
	}
	return out
}
