// Package query answers validator listing and lookup requests from the cached snapshot. It never
// touches the primary store: every method reads one or more compartments and works on copies.
package query

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/canopy-network/validatorx/pkg/cache"
	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/outcome"
	"go.uber.org/zap"
)

const (
	// eligibilityLookback is how many epochs before the latest a listed validator must also have stats for.
	eligibilityLookback = 1
	// activityLookback is how many epochs before the latest are checked for nonzero stake or credits.
	activityLookback = 0
)

type ValidatorsResult struct {
	Validators []models.Validator `json:"validators"`
	// Total is the size of the filtered set before pagination.
	Total                int                           `json:"total"`
	AggregatedEpochStats []models.AggregatedEpochStats `json:"aggregated_epoch_stats"`
	UpdatedAt            time.Time                     `json:"updated_at"`
}

type Engine struct {
	store  *cache.Store
	logger *zap.Logger
}

func NewEngine(store *cache.Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger.With(zap.String("component", "query"))}
}

// ListValidators filters, sorts and paginates the validator compartment and windows the epoch history
// of every returned validator.
func (e *Engine) ListValidators(cfg ValidatorsConfig) outcome.Outcome[ValidatorsResult] {
	if err := cfg.Validate(); err != nil {
		return outcome.Fail[ValidatorsResult](outcome.Invalid, err.Error())
	}

	view, err := e.store.Validators()
	if err != nil {
		return cache.Unavailable[ValidatorsResult](e.logger, cache.Validators, err, "validators are not loaded yet")
	}

	latest := latestEpoch(view.Data)
	match := newMatcher(cfg)
	filtered := make([]*models.Validator, 0, len(view.Data))
	for _, v := range view.Data {
		if !eligible(&v, latest) || !match(&v) {
			continue
		}
		filtered = append(filtered, &v)
	}

	sortValidators(filtered, cfg.OrderField, cfg.OrderDirection)

	var maxEpoch uint64
	for _, v := range filtered {
		if s := v.LatestStat(); s != nil && s.Epoch > maxEpoch {
			maxEpoch = s.Epoch
		}
	}

	page := paginate(filtered, cfg.Offset, cfg.Limit)
	out := make([]models.Validator, 0, len(page))
	for _, v := range page {
		cp := *v
		cp.EpochStats = windowStats(v.EpochStats, maxEpoch, cfg.Epochs, cfg.Since)
		out = append(out, cp)
	}

	// aggregated stats are optional until their first refresh
	var aggregated []models.AggregatedEpochStats
	agg, err := e.store.AggregatedEpochStats()
	switch {
	case err == nil:
		aggregated = windowAggregated(agg.Data, cfg.Epochs, cfg.Since)
	case !errors.Is(err, cache.ErrNotPopulated):
		return cache.Unavailable[ValidatorsResult](e.logger, cache.AggregatedEpochStats, err, "")
	}

	return outcome.Ok(ValidatorsResult{
		Validators:           out,
		Total:                len(filtered),
		AggregatedEpochStats: aggregated,
		UpdatedAt:            view.UpdatedAt,
	})
}

// latestEpoch is the newest epoch any validator has stats for.
func latestEpoch(validators map[string]models.Validator) uint64 {
	var latest uint64
	for _, v := range validators {
		if s := v.LatestStat(); s != nil && s.Epoch > latest {
			latest = s.Epoch
		}
	}
	return latest
}

// eligible drops validators that stopped reporting or carry neither stake nor credits lately.
func eligible(v *models.Validator, latest uint64) bool {
	for back := uint64(0); back <= eligibilityLookback; back++ {
		if back > latest {
			return false
		}
		if _, ok := v.StatAt(latest - back); !ok {
			return false
		}
	}
	for back := uint64(0); back <= activityLookback && back <= latest; back++ {
		if s, ok := v.StatAt(latest - back); ok && (s.ActivatedStake > 0 || s.Credits > 0) {
			return true
		}
	}
	return false
}

// newMatcher combines the user filters of cfg. Every filter is an independent predicate.
func newMatcher(cfg ValidatorsConfig) func(v *models.Validator) bool {
	var preds []func(v *models.Validator) bool

	if len(cfg.VoteAccounts) > 0 {
		allowed := toSet(cfg.VoteAccounts)
		preds = append(preds, func(v *models.Validator) bool { _, ok := allowed[v.VoteAccount]; return ok })
	}
	if len(cfg.Identities) > 0 {
		allowed := toSet(cfg.Identities)
		preds = append(preds, func(v *models.Validator) bool { _, ok := allowed[v.Identity]; return ok })
	}
	if q := strings.ToLower(strings.TrimSpace(cfg.Query)); q != "" {
		preds = append(preds, func(v *models.Validator) bool {
			if strings.Contains(strings.ToLower(v.Identity), q) || strings.Contains(strings.ToLower(v.VoteAccount), q) {
				return true
			}
			return v.InfoName != nil && strings.Contains(strings.ToLower(*v.InfoName), q)
		})
	}
	if want := cfg.Superminority; want != nil {
		preds = append(preds, func(v *models.Validator) bool { return v.Superminority == *want })
	}
	if want := cfg.MarinadeStake; want != nil {
		preds = append(preds, func(v *models.Validator) bool { return (v.MarinadeStake > 0) == *want })
	}
	if want := cfg.WithNames; want != nil {
		preds = append(preds, func(v *models.Validator) bool { return v.HasName() == *want })
	}
	if want := cfg.PositiveScore; want != nil {
		preds = append(preds, func(v *models.Validator) bool { return (v.Score != nil && *v.Score > 0) == *want })
	}
	if want := cfg.FoundationStake; want != nil {
		preds = append(preds, func(v *models.Validator) bool { return (v.FoundationStake > 0) == *want })
	}

	return func(v *models.Validator) bool {
		for _, p := range preds {
			if !p(v) {
				return false
			}
		}
		return true
	}
}

func paginate[T any](list []T, offset, limit int) []T {
	if offset >= len(list) {
		return nil
	}
	end := offset + limit
	if end > len(list) || end < offset {
		end = len(list)
	}
	return list[offset:end]
}

// windowStats keeps the stats that started after since, or else the last window epochs up to maxEpoch.
// The result is a copy.
func windowStats(stats []models.EpochStat, maxEpoch, window uint64, since *time.Time) []models.EpochStat {
	out := make([]models.EpochStat, 0, int(min(uint64(len(stats)), window)))
	if since != nil {
		for _, s := range stats {
			if s.EpochStartAt != nil && s.EpochStartAt.After(*since) {
				out = append(out, s)
			}
		}
		return out
	}
	from := firstEpochOfWindow(maxEpoch, window)
	for _, s := range stats {
		if s.Epoch >= from {
			out = append(out, s)
		}
	}
	return out
}

func windowAggregated(series []models.AggregatedEpochStats, window uint64, since *time.Time) []models.AggregatedEpochStats {
	out := make([]models.AggregatedEpochStats, 0, int(min(uint64(len(series)), window)))
	if since != nil {
		for _, s := range series {
			if s.EpochStartAt != nil && s.EpochStartAt.After(*since) {
				out = append(out, s)
			}
		}
		return out
	}
	var maxEpoch uint64
	for _, s := range series {
		maxEpoch = max(maxEpoch, s.Epoch)
	}
	from := firstEpochOfWindow(maxEpoch, window)
	for _, s := range series {
		if s.Epoch >= from {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b models.AggregatedEpochStats) int { return cmp.Compare(a.Epoch, b.Epoch) })
	return out
}

func firstEpochOfWindow(maxEpoch, window uint64) uint64 {
	if maxEpoch+1 < window {
		return 0
	}
	return maxEpoch + 1 - window
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		set[s] = struct{}{}
	}
	return set
}
