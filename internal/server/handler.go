package server

import (
	"net/http"
	"strconv"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/job"
	"github.com/ahmethakanbesel/autobid/internal/stats"
)

const defaultWindowDays = 30

type handler struct {
	jobSvc *job.Service
	agg    *stats.Aggregator
	states func() map[string]string
}

type healthResponse struct {
	Status   string            `json:"status"`
	Monitors map[string]string `json:"monitors,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.states != nil {
		resp.Monitors = h.states()
	}
	writeJSON(w, http.StatusOK, resp)
}

func windowDays(r *http.Request) (int, *apperror.AppError) {
	v := r.URL.Query().Get("days")
	if v == "" {
		return defaultWindowDays, nil
	}
	days, err := strconv.Atoi(v)
	if err != nil || days <= 0 || days > 365 {
		return 0, apperror.New(apperror.BadRequest, "days must be an integer between 1 and 365")
	}
	return days, nil
}

func (h *handler) getStats(w http.ResponseWriter, r *http.Request) {
	days, appErr := windowDays(r)
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	s, err := h.agg.Compute(r.Context(), r.URL.Query().Get("tenant"), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

func (h *handler) getDailyStats(w http.ResponseWriter, r *http.Request) {
	days, appErr := windowDays(r)
	if appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	rows, err := h.agg.Daily(r.Context(), r.URL.Query().Get("tenant"), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if rows == nil {
		rows = []stats.Daily{}
	}

	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, rows)
		return
	}

	writeJSON(w, http.StatusOK, rows)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	req := job.GetJobRequest{ID: id}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	d, err := h.jobSvc.Get(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := job.ListJobsRequest{
		TenantID: q.Get("tenant"),
		Platform: q.Get("platform"),
		Status:   job.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = limit
	}

	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	jobs, err := h.jobSvc.List(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) recordOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bid id")
		return
	}

	req := job.RecordOutcomeRequest{BidID: id, Status: job.BidStatus(r.URL.Query().Get("status"))}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	b, err := h.jobSvc.RecordOutcome(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	loggerFrom(r.Context()).Info("bid outcome recorded", "bid", b.ID, "job", b.JobID, "status", b.Status)

	writeJSON(w, http.StatusOK, b)
}
