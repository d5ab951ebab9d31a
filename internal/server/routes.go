package server

import (
	"net/http"

	"github.com/ahmethakanbesel/autobid/internal/job"
	"github.com/ahmethakanbesel/autobid/internal/stats"
)

// NewHandler returns the fully wired HTTP handler. It is exported for tests.
func NewHandler(jobSvc *job.Service, agg *stats.Aggregator, states func() map[string]string) http.Handler {
	return newMux(jobSvc, agg, states)
}

func newMux(jobSvc *job.Service, agg *stats.Aggregator, states func() map[string]string) http.Handler {
	h := &handler{jobSvc: jobSvc, agg: agg, states: states}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/stats", h.getStats)
	mux.HandleFunc("GET /api/v1/stats/daily", h.getDailyStats)
	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.getJob)
	mux.HandleFunc("POST /api/v1/bids/{id}/outcome", h.recordOutcome)

	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
