package controller

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	models "github.com/canopy-network/validatorx/pkg/db/models/validators"
	"github.com/canopy-network/validatorx/pkg/scoreupload"
	"go.uber.org/zap"
)

// ValidateToken checks if the Authorization header carries the admin token. An unset token never matches.
func (c *Controller) ValidateToken(r *http.Request) bool {
	if c.AdminToken == "" {
		return false
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.AdminToken)) == 1
}

// RequireAdmin middleware. Rejected requests never reach the body.
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) || c.ValidateAdminSession(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// HandleScoreUpload stores an uploaded scoring run.
//
// Query parameters: epoch, ui_id, components and component_weights (comma-separated, same length).
// The body is a CSV file as decoded by scoreupload.Decode. Nothing is written unless every row is valid.
// The cache picks the new run up on its next refresh.
func (c *Controller) HandleScoreUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	run, err := parseScoringRun(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body := http.MaxBytesReader(w, r.Body, c.App.Config.UploadMaxBytes)
	rows, err := scoreupload.Decode(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := scoreupload.CheckComponents(rows, len(run.Components)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scores := make([]models.ValidatorScore, 0, len(rows))
	for _, row := range rows {
		scores = append(scores, row.ValidatorScore(0))
	}

	runID, err := c.App.PrimaryDB.InsertScoringRun(ctx, run, scores)
	if err != nil {
		c.App.Logger.Error("Failed to store uploaded scoring run",
			zap.Uint64("epoch", run.Epoch),
			zap.String("uiId", run.UIID),
			zap.Int("rows", len(scores)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store scoring run")
		return
	}

	c.App.Logger.Info("Stored uploaded scoring run",
		zap.Int64("scoringRunId", runID),
		zap.String("uploadedBy", c.currentUser(r)),
		zap.Uint64("epoch", run.Epoch),
		zap.Int("rows", len(scores)))
	writeJSON(w, http.StatusCreated, map[string]any{"scoring_run_id": runID, "rows": len(scores)})
}

func parseScoringRun(r *http.Request) (models.ScoringRun, error) {
	qs := r.URL.Query()
	run := models.ScoringRun{CreatedAt: time.Now().UTC(), UIID: strings.TrimSpace(qs.Get("ui_id"))}

	epoch, err := strconv.ParseUint(qs.Get("epoch"), 10, 64)
	if err != nil {
		return run, errInvalidEpoch
	}
	run.Epoch = epoch
	if run.UIID == "" {
		return run, &parseError{msg: "ui_id is required"}
	}

	if run.Components, err = splitStrict(qs.Get("components")); err != nil || len(run.Components) == 0 {
		return run, &parseError{msg: "invalid components"}
	}
	weights, err := splitStrict(qs.Get("component_weights"))
	if err != nil || len(weights) != len(run.Components) {
		return run, &parseError{msg: "component_weights must have one weight per component"}
	}
	for _, s := range weights {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return run, &parseError{msg: "invalid component weight " + strconv.Quote(s)}
		}
		run.ComponentWeights = append(run.ComponentWeights, f)
	}
	return run, nil
}

// splitStrict splits a comma-separated list and rejects empty entries. Unlike utils.SplitList it keeps
// duplicates, since positions matter.
func splitStrict(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] == "" {
			return nil, errors.New("empty list entry")
		}
	}
	return parts, nil
}
