package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveServiceRequest(t *testing.T) {
	before := testutil.ToFloat64(serviceRequestsTotal.WithLabelValues("tls"))
	ObserveServiceRequest("tls", 20*time.Millisecond)
	require.InDelta(t, before+1, testutil.ToFloat64(serviceRequestsTotal.WithLabelValues("tls")), 0.0001)
}

func TestSetFrontier(t *testing.T) {
	SetFrontier(FrontierCounts{Unprocessed: 7, Claimed: 1, Processed: 3, Located: 9, MaxDepth: 4})

	require.InDelta(t, 7, testutil.ToFloat64(frontierRecords.WithLabelValues("unprocessed")), 0.0001)
	require.InDelta(t, 1, testutil.ToFloat64(frontierRecords.WithLabelValues("claimed")), 0.0001)
	require.InDelta(t, 3, testutil.ToFloat64(frontierRecords.WithLabelValues("processed")), 0.0001)
	require.InDelta(t, 9, testutil.ToFloat64(frontierRecords.WithLabelValues("located")), 0.0001)
	require.InDelta(t, 4, testutil.ToFloat64(frontierMaxDepth), 0.0001)
}

func TestActiveWorkersGauge(t *testing.T) {
	before := testutil.ToFloat64(crawlerActiveWorkers)
	IncActiveWorkers()
	require.InDelta(t, before+1, testutil.ToFloat64(crawlerActiveWorkers), 0.0001)
	DecActiveWorkers()
	require.InDelta(t, before, testutil.ToFloat64(crawlerActiveWorkers), 0.0001)
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/probe", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0.0001)
}
