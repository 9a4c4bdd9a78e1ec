package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
)

// errorBody is the fixed error envelope. Message text is a safe constant
// per kind; wrapped internal error text never reaches the wire.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var kindMessages = map[pserrors.Kind]string{
	pserrors.KindValidation:     "Invalid request",
	pserrors.KindAlreadyStarted: "A pulse is already in progress",
	pserrors.KindNotStarted:     "No active pulse",
	pserrors.KindAlreadyExists:  "Resource already exists",
	pserrors.KindNotFound:       "Not found",
	pserrors.KindConflict:       "Conflicting update",
	pserrors.KindBudgetExceeded: "AI budget exceeded",
	pserrors.KindTransient:      "Temporarily unavailable, retry shortly",
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeServiceError translates a service-layer error into the wire enum.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := pserrors.KindOf(err)
	msg, ok := kindMessages[kind]
	if !ok {
		kind = pserrors.KindFatal
		msg = "Internal error"
	}
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	} else {
		log.Debug().Err(err).Msg("Request rejected")
	}
	writeError(w, status, string(kind), msg)
}
