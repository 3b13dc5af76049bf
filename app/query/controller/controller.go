package controller

import (
	"net/http"
	"time"

	"github.com/canopy-network/validatorx/app/query/types"
	"github.com/canopy-network/validatorx/pkg/outcome"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
)

type Controller struct {
	App        *types.App
	AdminToken string
	AdminUser  string
	AdminHash  []byte
	JWTSecret  []byte
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App:        app,
		AdminToken: app.Config.AdminToken,
		AdminUser:  app.Config.AdminUser,
		AdminHash:  app.Config.AdminPasswordHash,
		JWTSecret:  app.Config.SessionSecret,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(c.instrument)

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", c.App.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/cache/freshness", c.HandleFreshness).Methods(http.MethodGet)

	r.HandleFunc("/validators", c.HandleValidators).Methods(http.MethodGet)
	r.HandleFunc("/validators/{vote}", c.HandleValidator).Methods(http.MethodGet)
	r.HandleFunc("/validators/{vote}/uptimes", c.HandleUptimes).Methods(http.MethodGet)
	r.HandleFunc("/validators/{identity}/versions", c.HandleVersions).Methods(http.MethodGet)
	r.HandleFunc("/validators/{identity}/commissions", c.HandleCommissions).Methods(http.MethodGet)
	r.HandleFunc("/cluster-stats", c.HandleClusterStats).Methods(http.MethodGet)

	r.HandleFunc("/commission-changes", c.HandleCommissionChanges).Methods(http.MethodGet)
	r.HandleFunc("/staking-plan", c.HandleStakingPlan).Methods(http.MethodGet)
	r.HandleFunc("/scores", c.HandleScores).Methods(http.MethodGet)
	r.HandleFunc("/scores/breakdown", c.HandleScoreBreakdown).Methods(http.MethodGet)

	r.HandleFunc("/admin/login", c.HandleAdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/admin/logout", c.HandleAdminLogout).Methods(http.MethodPost)
	r.Handle("/admin/scores", c.RequireAdmin(http.HandlerFunc(c.HandleScoreUpload))).Methods(http.MethodPost)

	// WebSocket endpoint for cache refresh events
	r.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}

// instrument records request counts and latencies per route template, so path variables do not
// explode the label space.
func (c *Controller) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		if endpoint == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		c.App.Metrics.ObserveRequest(endpoint, rec.status, time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeOutcome maps a query outcome to its status code and body.
func writeOutcome[T any](w http.ResponseWriter, o outcome.Outcome[T]) {
	if !o.IsOK() {
		writeError(w, o.Kind.HTTPStatus(), o.Message)
		return
	}
	writeJSON(w, http.StatusOK, o.Data)
}
