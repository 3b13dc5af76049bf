package analytics

import (
	"cmp"
	"fmt"
	"testing"
	"time"

	"github.com/canopy-network/validatorx/pkg/cache"
	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/db/transform"
	"github.com/canopy-network/validatorx/pkg/outcome"
	"github.com/canopy-network/validatorx/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newDeriver(t *testing.T) (*Deriver, *cache.Store) {
	t.Helper()
	store := cache.NewStore()
	return NewDeriver(store, zaptest.NewLogger(t)), store
}

func TestCommissionChangesScenario(t *testing.T) {
	d, store := newDeriver(t)
	store.Replace(cache.Commissions, map[string][]models.CommissionRecord{
		"I1": {
			{Identity: "I1", Epoch: 6, EpochSlot: 5, Commission: 8},
			{Identity: "I1", Epoch: 5, EpochSlot: 10, Commission: 5},
			{Identity: "I1", Epoch: 5, EpochSlot: 20, Commission: 5},
		},
	})

	res := d.CommissionChanges(CommissionChangesConfig{})

	require.True(t, res.IsOK())
	require.Len(t, res.Data, 1)
	got := res.Data[0]
	assert.Equal(t, "I1", got.Identity)
	assert.Equal(t, uint8(5), got.From)
	assert.Equal(t, uint8(8), got.To)
	assert.Equal(t, uint64(6), got.Epoch)
	assert.Equal(t, uint64(5), got.EpochSlot)
}

func TestCommissionChangesOrderingAndNoRepeats(t *testing.T) {
	d, store := newDeriver(t)
	data := map[string][]models.CommissionRecord{}
	for i := 0; i < 6; i++ {
		identity := fmt.Sprintf("I%d", i)
		for e := uint64(1); e <= 12; e++ {
			data[identity] = append(data[identity], models.CommissionRecord{
				Identity:   identity,
				Epoch:      e,
				EpochSlot:  uint64((i * 37) % 11),
				Commission: uint8((int(e) * (i + 1) / 3) % 10),
			})
		}
	}
	store.Replace(cache.Commissions, data)

	changes := d.CommissionChanges(CommissionChangesConfig{}).Data
	require.NotEmpty(t, changes)

	last := map[string]uint8{}
	for i, c := range changes {
		require.NotEqual(t, c.From, c.To)
		if i > 0 {
			prev := changes[i-1]
			order := cmp.Compare(prev.Epoch, c.Epoch)
			if order == 0 {
				order = cmp.Compare(prev.EpochSlot, c.EpochSlot)
			}
			require.LessOrEqual(t, order, 0, "changes must be ordered by (epoch, epoch_slot)")
		}
		if to, ok := last[c.Identity]; ok {
			require.Equal(t, to, c.From, "a change starts where the previous one of the same identity ended")
		}
		last[c.Identity] = c.To
	}

	since := uint64(8)
	for _, c := range d.CommissionChanges(CommissionChangesConfig{SinceEpoch: &since}).Data {
		require.GreaterOrEqual(t, c.Epoch, since)
	}
}

func TestCommissionChangesNotLoaded(t *testing.T) {
	d, _ := newDeriver(t)
	require.Equal(t, outcome.NotFound, d.CommissionChanges(CommissionChangesConfig{}).Kind)
}

func TestDerivationsOnUnusableCompartments(t *testing.T) {
	d, store := newDeriver(t)
	store.Replace(cache.Commissions, []int{1})
	store.Replace(cache.ScoresAll, "history")
	store.Replace(cache.Validators, map[string]models.Validator{})
	store.Replace(cache.Scores, models.ScoringHistory{})

	assert.Equal(t, outcome.Internal, d.CommissionChanges(CommissionChangesConfig{}).Kind)
	assert.Equal(t, outcome.Internal, d.ScoreBreakdown(ScoreBreakdownConfig{}).Kind)
	assert.Equal(t, outcome.Internal, d.StakingPlan().Kind)
}

func planStat(vote string, epoch, marinade uint64) models.EpochStat {
	return models.EpochStat{Identity: "id-" + vote, VoteAccount: vote, Epoch: epoch, MarinadeStake: marinade, ActivatedStake: 1}
}

func TestStakingPlanScenario(t *testing.T) {
	d, store := newDeriver(t)
	store.Replace(cache.Validators, transform.BuildValidators([]models.EpochStat{
		planStat("V1", 10, 500*models.LamportsPerSol),
	}))
	store.Replace(cache.Scores, models.RunScores{
		Scores: map[string]models.ValidatorScore{
			"V1": {VoteAccount: "V1", Score: 0.8, TargetStakeAlgo: 1000, EligibleStakeAlgo: true},
		},
	})

	res := d.StakingPlan()

	require.True(t, res.IsOK())
	require.Len(t, res.Data, 1)
	row := res.Data[0]
	assert.True(t, row.Gaining)
	assert.Equal(t, uint64(1000*models.LamportsPerSol), row.TargetStake)
	assert.Equal(t, uint64(500*models.LamportsPerSol), row.CurrentStake)
	assert.Equal(t, -0.8, row.SortKey)
	assert.Equal(t, uint64(10), row.Epoch)
}

func TestStakingPlanSelectionAndOrder(t *testing.T) {
	d, store := newDeriver(t)
	sol := uint64(models.LamportsPerSol)
	store.Replace(cache.Validators, transform.BuildValidators([]models.EpochStat{
		planStat("gainLow", 10, 0),
		planStat("gainHigh", 10, 100*sol),
		planStat("cutSmall", 10, 300*sol),
		planStat("cutAll", 10, 900*sol),
		planStat("unchanged", 10, 50*sol),
		planStat("ineligible", 10, 0),
		planStat("nothing", 10, 0),
		planStat("stale", 9, 0),
		planStat("noScore", 10, 0),
	}))
	store.Replace(cache.Scores, models.RunScores{
		Scores: map[string]models.ValidatorScore{
			"gainLow":    {Score: 0.2, TargetStakeAlgo: 10, EligibleStakeAlgo: true},
			"gainHigh":   {Score: 0.9, TargetStakeAlgo: 150, TargetStakeMnde: 50, EligibleStakeAlgo: true},
			"cutSmall":   {Score: 0.5, TargetStakeAlgo: 250, EligibleStakeAlgo: true},
			"cutAll":     {Score: 0.1, EligibleStakeAlgo: true},
			"unchanged":  {Score: 0.6, TargetStakeMsol: 50, EligibleStakeAlgo: true},
			"ineligible": {Score: 0.9, TargetStakeAlgo: 10},
			"nothing":    {Score: 0, TargetStakeAlgo: 5, EligibleStakeAlgo: true},
			"stale":      {Score: 0.9, TargetStakeAlgo: 10, EligibleStakeAlgo: true},
		},
	})

	res := d.StakingPlan()
	require.True(t, res.IsOK())

	var order []string
	for _, row := range res.Data {
		order = append(order, row.VoteAccount)
	}
	require.Equal(t, []string{"gainHigh", "gainLow", "cutAll", "cutSmall"}, order)
	require.Equal(t, float64(900*sol), res.Data[2].SortKey)
	require.Equal(t, uint64(200*sol), res.Data[0].TargetStake)
}

func TestStakingPlanNeedsScores(t *testing.T) {
	d, store := newDeriver(t)
	store.Replace(cache.Validators, map[string]models.Validator{})
	require.Equal(t, outcome.NotFound, d.StakingPlan().Kind)
}

func scoringHistory() models.ScoringHistory {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return models.ScoringHistory{
		Runs: []models.ScoringRun{
			{ScoringRunID: 1, Epoch: 10, CreatedAt: created, UIID: "v1", Components: []string{"credits"}, ComponentWeights: []float64{1}},
			{ScoringRunID: 2, Epoch: 11, CreatedAt: created.Add(48 * time.Hour), UIID: "v2"},
		},
		Scores: map[int64][]models.ValidatorScore{
			1: {
				{ScoringRunID: 1, VoteAccount: "B", Score: 0.9, TargetStakeAlgo: 100},
				{ScoringRunID: 1, VoteAccount: "A", Score: 0.4, TargetStakeAlgo: 10},
				{ScoringRunID: 1, VoteAccount: "C", Score: 0.1},
			},
			2: {
				{ScoringRunID: 2, VoteAccount: "A", Score: 0.7},
			},
		},
	}
}

func TestScoreBreakdown(t *testing.T) {
	d, store := newDeriver(t)
	store.Replace(cache.ScoresAll, scoringHistory())

	res := d.ScoreBreakdown(ScoreBreakdownConfig{})
	require.True(t, res.IsOK())
	require.Len(t, res.Data, 4)

	// newest run first, vote accounts ascending within a run
	assert.Equal(t, int64(2), res.Data[0].ScoringRunID)
	assert.Nil(t, res.Data[0].EligibilityFloor)
	assert.Equal(t, "A", res.Data[1].VoteAccount)
	assert.Equal(t, []string{"credits"}, res.Data[1].Components)
	require.NotNil(t, res.Data[1].EligibilityFloor)
	assert.Equal(t, 0.4, *res.Data[1].EligibilityFloor)
}

func TestScoreBreakdownFloorIgnoresFilters(t *testing.T) {
	d, store := newDeriver(t)
	store.Replace(cache.ScoresAll, scoringHistory())

	res := d.ScoreBreakdown(ScoreBreakdownConfig{VoteAccount: "B"})
	require.True(t, res.IsOK())
	require.Len(t, res.Data, 1)
	require.Equal(t, 0.4, *res.Data[0].EligibilityFloor)

	since := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	res = d.ScoreBreakdown(ScoreBreakdownConfig{Since: &since})
	require.Len(t, res.Data, 1)
	require.Equal(t, int64(2), res.Data[0].ScoringRunID)
}

func TestScoreBreakdownFloorFollowsRefresh(t *testing.T) {
	d, store := newDeriver(t)
	history := scoringHistory()
	store.Replace(cache.ScoresAll, history)
	require.Equal(t, 0.4, *d.ScoreBreakdown(ScoreBreakdownConfig{VoteAccount: "A"}).Data[1].EligibilityFloor)

	refreshed := scoringHistory()
	refreshed.Scores[1] = append(refreshed.Scores[1], models.ValidatorScore{ScoringRunID: 1, VoteAccount: "D", Score: 0.2, TargetStakeAlgo: 1})
	store.Replace(cache.ScoresAll, refreshed)

	res := d.ScoreBreakdown(ScoreBreakdownConfig{VoteAccount: "D"})
	require.Len(t, res.Data, 1)
	require.Equal(t, utils.Ptr(0.2), res.Data[0].EligibilityFloor)
}
