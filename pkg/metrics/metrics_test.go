package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveCompartment(t *testing.T) {
	m := New(nil)
	now := time.Unix(1_700_000_000, 0)

	m.ObserveCompartment("validators", "primary", nil, now)
	m.ObserveCompartment("validators", "primary", errors.New("boom"), now.Add(time.Minute))

	require.Equal(t, 1.0, testutil.ToFloat64(m.CompartmentRefreshes.WithLabelValues("validators", "primary", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CompartmentRefreshes.WithLabelValues("validators", "primary", "error")))
	require.Equal(t, float64(now.Unix()), testutil.ToFloat64(m.CompartmentLastUpdate.WithLabelValues("validators")),
		"a failed refresh must not move the last update time")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCycle(CycleElected)
	m.ObserveRequest("/validators", http.StatusOK, time.Millisecond)
	m.ObserveCompartment("scores", "primary", nil, time.Now())
}

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	m := New(nil)
	m.ObserveCycle(CycleSkipped)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `validatorx_refresh_cycles_total{outcome="skipped"} 1`))
}
