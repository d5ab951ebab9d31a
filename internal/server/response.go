package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
	"github.com/ahmethakanbesel/autobid/internal/stats"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

// writeServiceError maps an AppError to its status; anything else is a 500
// and is logged with the request's logger.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	loggerFrom(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeCSV(w http.ResponseWriter, rows []stats.Daily) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=daily_stats.csv")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintln(w, "Tenant,Platform,Date,BidsSubmitted,Wins,TotalRevenue,AvgResponseSecs")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s,%s,%s,%d,%d,%s,%.0f\n", //nolint:gosec // CSV output from internal domain types, not user input
			r.TenantID,
			r.Platform,
			r.Date,
			r.BidsSubmitted,
			r.Wins,
			r.TotalRevenue.StringFixed(2),
			r.AvgResponseSecs,
		)
	}
}
