package controller

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleValidators lists validators. See parseValidatorsConfig for the accepted parameters.
func (c *Controller) HandleValidators(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseValidatorsConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOutcome(w, c.App.Engine.ListValidators(cfg))
}

func (c *Controller) HandleValidator(w http.ResponseWriter, r *http.Request) {
	epochs, err := parseEpochs(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOutcome(w, c.App.Engine.Validator(mux.Vars(r)["vote"], epochs))
}

func (c *Controller) HandleUptimes(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, c.App.Engine.Uptimes(mux.Vars(r)["vote"]))
}

func (c *Controller) HandleVersions(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, c.App.Engine.Versions(mux.Vars(r)["identity"]))
}

func (c *Controller) HandleCommissions(w http.ResponseWriter, r *http.Request) {
	writeOutcome(w, c.App.Engine.Commissions(mux.Vars(r)["identity"]))
}

func (c *Controller) HandleClusterStats(w http.ResponseWriter, r *http.Request) {
	epochs, err := parseEpochs(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOutcome(w, c.App.Engine.ClusterStats(epochs))
}

// HandleFreshness reports when each compartment was last replaced.
func (c *Controller) HandleFreshness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.App.Engine.Freshness())
}
