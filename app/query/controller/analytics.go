package controller

import (
	"net/http"

	"github.com/canopy-network/validatorx/pkg/query"
	"github.com/canopy-network/validatorx/pkg/utils"
)

func (c *Controller) HandleCommissionChanges(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseCommissionChangesConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOutcome(w, c.App.Deriver.CommissionChanges(cfg))
}

func (c *Controller) HandleStakingPlan(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, c.App.Deriver.StakingPlan())
}

// HandleScores returns the latest scoring run. vote_accounts restricts it to a comma-separated list.
func (c *Controller) HandleScores(w http.ResponseWriter, r *http.Request) {
	cfg := query.ScoresConfig{VoteAccounts: utils.SplitList(r.URL.Query().Get("vote_accounts"))}
	writeOutcome(w, c.App.Engine.Scores(cfg))
}

func (c *Controller) HandleScoreBreakdown(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseScoreBreakdownConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOutcome(w, c.App.Deriver.ScoreBreakdown(cfg))
}
