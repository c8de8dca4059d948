package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"photostage/internal/metrics"
)

func TestMetricsLabelsWithRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics())
	r.HandleFunc("/api/staged/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/api/staged/0b5e7a2c-1111-2222-3333-444455556666", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	// The counter must be labeled by the template, not the raw URL with
	// its id in it.
	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/staged/{id}", "204"))
	if got != 1 {
		t.Errorf("template-labeled counter = %v, want 1", got)
	}
	raw := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/staged/0b5e7a2c-1111-2222-3333-444455556666", "204"))
	if raw != 0 {
		t.Errorf("raw-URL-labeled counter = %v, want 0", raw)
	}
}
