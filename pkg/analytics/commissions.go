package analytics

import (
	"cmp"
	"slices"
	"time"

	"github.com/canopy-network/validatorx/pkg/cache"
	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/db/transform"
	"github.com/canopy-network/validatorx/pkg/outcome"
)

// CommissionChange is a point where an identity's commission differs from its previous observation.
type CommissionChange struct {
	Identity  string    `json:"identity"`
	From      uint8     `json:"from"`
	To        uint8     `json:"to"`
	Epoch     uint64    `json:"epoch"`
	EpochSlot uint64    `json:"epoch_slot"`
	CreatedAt time.Time `json:"created_at"`
}

type CommissionChangesConfig struct {
	// SinceEpoch drops changes that happened before it. Earlier observations still count as the
	// starting value of a change.
	SinceEpoch *uint64
}

// CommissionChanges walks every identity's commission history and reports each change, ordered by
// (epoch, epoch_slot, identity).
func (d *Deriver) CommissionChanges(cfg CommissionChangesConfig) outcome.Outcome[[]CommissionChange] {
	view, err := d.store.Commissions()
	if err != nil {
		return cache.Unavailable[[]CommissionChange](d.logger, cache.Commissions, err, "commissions are not loaded yet")
	}

	changes := []CommissionChange{}
	for identity, series := range view.Data {
		for _, c := range diffCommissions(identity, series) {
			if cfg.SinceEpoch != nil && c.Epoch < *cfg.SinceEpoch {
				continue
			}
			changes = append(changes, c)
		}
	}

	slices.SortFunc(changes, func(a, b CommissionChange) int {
		if c := cmp.Compare(a.Epoch, b.Epoch); c != 0 {
			return c
		}
		if c := cmp.Compare(a.EpochSlot, b.EpochSlot); c != 0 {
			return c
		}
		return cmp.Compare(a.Identity, b.Identity)
	})
	return outcome.Ok(changes)
}

func diffCommissions(identity string, series []models.CommissionRecord) []CommissionChange {
	if len(series) < 2 {
		return nil
	}
	ordered := slices.Clone(series)
	transform.SortCommissions(ordered)

	var out []CommissionChange
	prev := ordered[0]
	for _, cur := range ordered[1:] {
		if cur.Commission != prev.Commission {
			out = append(out, CommissionChange{
				Identity:  identity,
				From:      prev.Commission,
				To:        cur.Commission,
				Epoch:     cur.Epoch,
				EpochSlot: cur.EpochSlot,
				CreatedAt: cur.CreatedAt,
			})
		}
		prev = cur
	}
	return out
}
