package analytics

import (
	"cmp"
	"math"
	"slices"

	"github.com/canopy-network/validatorx/pkg/cache"
	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/outcome"
)

// StakingChange is the stake the latest scoring run wants to move to or away from one validator.
// Stakes are in lamports.
type StakingChange struct {
	VoteAccount  string  `json:"vote_account"`
	Identity     string  `json:"identity"`
	Name         *string `json:"name"`
	Epoch        uint64  `json:"epoch"`
	Score        float64 `json:"score"`
	CurrentStake uint64  `json:"current_stake"`
	TargetStake  uint64  `json:"target_stake"`
	// Gaining is true when the target exceeds the current stake.
	Gaining bool `json:"gaining"`
	// SortKey is -score for gainers and current-target for everyone else.
	SortKey float64 `json:"sort_key"`
}

// StakingPlan compares the targets of the latest scoring run with the Marinade stake each validator held
// in the latest epoch. Gainers come first, best score first; then reductions, largest first.
func (d *Deriver) StakingPlan() outcome.Outcome[[]StakingChange] {
	validators, err := d.store.Validators()
	if err != nil {
		return cache.Unavailable[[]StakingChange](d.logger, cache.Validators, err, "validators are not loaded yet")
	}
	scores, err := d.store.Scores()
	if err != nil {
		return cache.Unavailable[[]StakingChange](d.logger, cache.Scores, err, "scores are not loaded yet")
	}

	var latest uint64
	for _, v := range validators.Data {
		if s := v.LatestStat(); s != nil {
			latest = max(latest, s.Epoch)
		}
	}

	plan := []StakingChange{}
	for vote, v := range validators.Data {
		stat, ok := v.StatAt(latest)
		if !ok {
			continue
		}
		score, ok := scores.Data.Scores[vote]
		if !ok || !score.EligibleStakeAlgo {
			continue
		}
		change, keep := planRow(&v, stat, score)
		if !keep {
			continue
		}
		change.Epoch = latest
		plan = append(plan, change)
	}

	slices.SortFunc(plan, func(a, b StakingChange) int {
		if a.Gaining != b.Gaining {
			if a.Gaining {
				return -1
			}
			return 1
		}
		var c int
		if a.Gaining {
			c = cmp.Compare(a.SortKey, b.SortKey)
		} else {
			c = cmp.Compare(b.SortKey, a.SortKey)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.VoteAccount, b.VoteAccount)
	})
	return outcome.Ok(plan)
}

func planRow(v *models.Validator, stat *models.EpochStat, score models.ValidatorScore) (StakingChange, bool) {
	target := math.Round((score.TargetStakeAlgo + score.TargetStakeMnde + score.TargetStakeMsol) * models.LamportsPerSol)
	current := float64(stat.MarinadeStake)
	if target == current {
		return StakingChange{}, false
	}
	if score.Score <= 0 && stat.MarinadeStake == 0 {
		return StakingChange{}, false
	}

	change := StakingChange{
		VoteAccount:  v.VoteAccount,
		Identity:     v.Identity,
		Name:         v.InfoName,
		Score:        score.Score,
		CurrentStake: stat.MarinadeStake,
		TargetStake:  uint64(max(target, 0)),
	}
	if target > 0 && target > current {
		change.Gaining = true
		change.SortKey = -score.Score
	} else {
		change.SortKey = current - target
	}
	return change, true
}
