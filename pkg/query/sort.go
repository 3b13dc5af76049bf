package query

import (
	"cmp"
	"slices"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
)

// compareBy returns the ascending comparison for field. Stake and credits compare as integers so
// lamport amounts above 2^53 keep their order. Missing score, apy and uptime count as 0; a missing
// commission counts as the worst possible one.
func compareBy(field OrderField) func(a, b *models.Validator) int {
	switch field {
	case OrderCredits:
		return func(a, b *models.Validator) int { return cmp.Compare(a.Credits, b.Credits) }
	case OrderScore:
		return func(a, b *models.Validator) int { return cmp.Compare(orZero(a.Score), orZero(b.Score)) }
	case OrderApy:
		return func(a, b *models.Validator) int { return cmp.Compare(orZero(a.AvgApy), orZero(b.AvgApy)) }
	case OrderUptime:
		return func(a, b *models.Validator) int { return cmp.Compare(orZero(a.AvgUptimePct), orZero(b.AvgUptimePct)) }
	case OrderCommission:
		return func(a, b *models.Validator) int { return cmp.Compare(commissionOf(a), commissionOf(b)) }
	default:
		return func(a, b *models.Validator) int { return cmp.Compare(a.ActivatedStake, b.ActivatedStake) }
	}
}

// sortValidators orders list in place. Equal keys fall back to vote account ascending so pages are stable.
func sortValidators(list []*models.Validator, field OrderField, dir OrderDirection) {
	compare := compareBy(field)
	slices.SortFunc(list, func(a, b *models.Validator) int {
		c := compare(a, b)
		if dir == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.VoteAccount, b.VoteAccount)
	})
}

func commissionOf(v *models.Validator) uint8 {
	if v.CommissionAggregated == nil {
		return models.MaxCommission
	}
	return *v.CommissionAggregated
}

func orZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
