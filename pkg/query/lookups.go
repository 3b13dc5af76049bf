package query

import (
	"cmp"
	"slices"
	"time"

	"github.com/canopy-network/validatorx/pkg/cache"
	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/outcome"
)

// Validator returns one vote account with its last epochs of history. It is not subject to the listing
// eligibility rules, so defunct validators stay reachable by key.
func (e *Engine) Validator(voteAccount string, epochs uint64) outcome.Outcome[models.Validator] {
	if epochs == 0 {
		epochs = DefaultEpochs
	}
	if epochs > MaxEpochs {
		return outcome.Fail[models.Validator](outcome.Invalid, "epochs out of range")
	}
	view, err := e.store.Validators()
	if err != nil {
		return cache.Unavailable[models.Validator](e.logger, cache.Validators, err, "validators are not loaded yet")
	}
	v, ok := view.Data[voteAccount]
	if !ok {
		return outcome.Fail[models.Validator](outcome.NotFound, "validator not found")
	}
	var maxEpoch uint64
	if s := v.LatestStat(); s != nil {
		maxEpoch = s.Epoch
	}
	v.EpochStats = windowStats(v.EpochStats, maxEpoch, epochs, nil)
	return outcome.Ok(v)
}

// Uptimes returns the up/down intervals of a vote account. A vote account without records gets an empty list.
func (e *Engine) Uptimes(voteAccount string) outcome.Outcome[[]models.UptimeRecord] {
	view, err := e.store.Uptimes()
	if err != nil {
		return cache.Unavailable[[]models.UptimeRecord](e.logger, cache.Uptimes, err, "uptimes are not loaded yet")
	}
	return outcome.Ok(cloneOrEmpty(view.Data[voteAccount]))
}

func (e *Engine) Versions(identity string) outcome.Outcome[[]models.VersionRecord] {
	view, err := e.store.Versions()
	if err != nil {
		return cache.Unavailable[[]models.VersionRecord](e.logger, cache.Versions, err, "versions are not loaded yet")
	}
	return outcome.Ok(cloneOrEmpty(view.Data[identity]))
}

// Commissions returns the commission history of identity ordered by (epoch, epoch_slot).
func (e *Engine) Commissions(identity string) outcome.Outcome[[]models.CommissionRecord] {
	view, err := e.store.Commissions()
	if err != nil {
		return cache.Unavailable[[]models.CommissionRecord](e.logger, cache.Commissions, err, "commissions are not loaded yet")
	}
	out := cloneOrEmpty(view.Data[identity])
	slices.SortStableFunc(out, func(a, b models.CommissionRecord) int {
		if c := cmp.Compare(a.Epoch, b.Epoch); c != 0 {
			return c
		}
		return cmp.Compare(a.EpochSlot, b.EpochSlot)
	})
	return outcome.Ok(out)
}

// ClusterStats returns the cluster-wide series limited to the last epochs epochs.
func (e *Engine) ClusterStats(epochs uint64) outcome.Outcome[models.ClusterStats] {
	if epochs == 0 {
		epochs = DefaultEpochs
	}
	if epochs > MaxEpochs {
		return outcome.Fail[models.ClusterStats](outcome.Invalid, "epochs out of range")
	}
	view, err := e.store.ClusterStats()
	if err != nil {
		return cache.Unavailable[models.ClusterStats](e.logger, cache.ClusterStats, err, "cluster stats are not loaded yet")
	}

	var maxEpoch uint64
	for _, s := range view.Data.BlockProduction {
		maxEpoch = max(maxEpoch, s.Epoch)
	}
	for _, s := range view.Data.StakeConcentration {
		maxEpoch = max(maxEpoch, s.Epoch)
	}
	from := firstEpochOfWindow(maxEpoch, epochs)

	out := models.ClusterStats{
		BlockProduction:    []models.BlockProductionStat{},
		StakeConcentration: []models.StakeConcentrationStat{},
	}
	for _, s := range view.Data.BlockProduction {
		if s.Epoch >= from {
			out.BlockProduction = append(out.BlockProduction, s)
		}
	}
	for _, s := range view.Data.StakeConcentration {
		if s.Epoch >= from {
			out.StakeConcentration = append(out.StakeConcentration, s)
		}
	}
	return outcome.Ok(out)
}

type ScoresResult struct {
	Run models.ScoringRun `json:"run"`
	// Scores are ordered by rank, then vote account.
	Scores []models.ValidatorScore `json:"scores"`
}

// Scores returns the latest scoring run, optionally restricted to some vote accounts.
func (e *Engine) Scores(cfg ScoresConfig) outcome.Outcome[ScoresResult] {
	view, err := e.store.Scores()
	if err != nil {
		return cache.Unavailable[ScoresResult](e.logger, cache.Scores, err, "scores are not loaded yet")
	}

	scores := make([]models.ValidatorScore, 0, len(view.Data.Scores))
	if len(cfg.VoteAccounts) > 0 {
		for vote := range toSet(cfg.VoteAccounts) {
			if s, ok := view.Data.Scores[vote]; ok {
				scores = append(scores, s)
			}
		}
	} else {
		for _, s := range view.Data.Scores {
			scores = append(scores, s)
		}
	}
	slices.SortFunc(scores, func(a, b models.ValidatorScore) int {
		if c := cmp.Compare(a.Rank, b.Rank); c != 0 {
			return c
		}
		return cmp.Compare(a.VoteAccount, b.VoteAccount)
	})

	return outcome.Ok(ScoresResult{Run: view.Data.Run, Scores: scores})
}

// Freshness reports when each populated compartment was last replaced.
func (e *Engine) Freshness() map[cache.Compartment]time.Time {
	return e.store.Freshness()
}

func cloneOrEmpty[T any](list []T) []T {
	if len(list) == 0 {
		return []T{}
	}
	return slices.Clone(list)
}
