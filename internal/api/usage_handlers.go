package api

import (
	"net/http"
	"time"
)

func (r *Router) handleDailyUsage(w http.ResponseWriter, req *http.Request, userID string) {
	date := req.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "date must be YYYY-MM-DD")
		return
	}

	usage, err := r.tracker.DailyUsage(req.Context(), userID, date)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (r *Router) handleProfile(w http.ResponseWriter, req *http.Request, userID string) {
	profile, err := r.users.GetProfile(req.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
