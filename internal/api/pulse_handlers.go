package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/metrics"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

const (
	defaultListItems = 20
	maxListItems     = 100
)

type startPulseRequest struct {
	Intent          string   `json:"intent"`
	DurationSeconds int64    `json:"duration_seconds"`
	IntentEmotion   string   `json:"intent_emotion,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	IsPublic        bool     `json:"is_public,omitempty"`
}

type stopPulseRequest struct {
	Reflection        string `json:"reflection"`
	ReflectionEmotion string `json:"reflection_emotion,omitempty"`
	// Accepted for wire compatibility; the server clock is authoritative.
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// activePulseResponse is the GET view of the running pulse with the
// countdown computed against the server clock.
type activePulseResponse struct {
	*models.StartedPulse
	RemainingSeconds int64     `json:"remaining_seconds"`
	ServerTime       time.Time `json:"server_time"`
}

func (r *Router) handleStartPulse(w http.ResponseWriter, req *http.Request, userID string) {
	var body startPulseRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}

	started, err := r.pulses.Start(req.Context(), &models.StartedPulse{
		UserID:          userID,
		Intent:          body.Intent,
		DurationSeconds: body.DurationSeconds,
		IntentEmotion:   body.IntentEmotion,
		Tags:            body.Tags,
		IsPublic:        body.IsPublic,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	metrics.RecordPulseStarted()
	writeJSON(w, http.StatusOK, started)
}

func (r *Router) handleGetActivePulse(w http.ResponseWriter, req *http.Request, userID string) {
	started, err := r.pulses.GetStarted(req.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, activePulseResponse{
		StartedPulse:     started,
		RemainingSeconds: started.RemainingSeconds(now),
		ServerTime:       now,
	})
}

func (r *Router) handleStopPulse(w http.ResponseWriter, req *http.Request, userID string) {
	var body stopPulseRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}

	stopped, err := r.pulses.Stop(req.Context(), userID, body.Reflection, body.ReflectionEmotion)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	metrics.RecordPulseStopped()
	writeJSON(w, http.StatusOK, stopped)
}

func (r *Router) handleIngestedPulses(w http.ResponseWriter, req *http.Request, userID string) {
	limit := defaultListItems
	if raw := req.URL.Query().Get("nb_items"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "validation", "nb_items must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxListItems {
		limit = maxListItems
	}

	archived, err := r.pulses.ListArchived(req.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if archived == nil {
		archived = []*models.ArchivedPulse{}
	}
	writeJSON(w, http.StatusOK, archived)
}
