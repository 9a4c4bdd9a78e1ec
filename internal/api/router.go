package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/pulses"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/tracking"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/users"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/websocket"
)

// AuthSecretHeader carries the shared secret set by the fronting proxy.
const AuthSecretHeader = "X-Pulse-Auth-Secret"

// Router handles HTTP routing
type Router struct {
	mux     *http.ServeMux
	config  *config.Config
	pulses  *pulses.Repository
	users   *users.Service
	tracker *tracking.Tracker
	wsHub   *websocket.Hub
	version string
	started time.Time
}

// NewRouter creates a new router instance
func NewRouter(cfg *config.Config, repo *pulses.Repository, userSvc *users.Service, tracker *tracking.Tracker, wsHub *websocket.Hub, version string) http.Handler {
	r := &Router{
		mux:     http.NewServeMux(),
		config:  cfg,
		pulses:  repo,
		users:   userSvc,
		tracker: tracker,
		wsHub:   wsHub,
		version: version,
		started: time.Now(),
	}

	r.setupRoutes()
	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/version", r.handleVersion)

	r.mux.HandleFunc("/api/start-pulse", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			r.requireUser(w, req, r.handleStartPulse)
		case http.MethodGet:
			r.requireUser(w, req, r.handleGetActivePulse)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		}
	})
	r.mux.HandleFunc("/api/stop-pulse", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
			return
		}
		r.requireUser(w, req, r.handleStopPulse)
	})
	r.mux.HandleFunc("/api/ingested-pulses", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
			return
		}
		r.requireUser(w, req, r.handleIngestedPulses)
	})
	r.mux.HandleFunc("/api/usage/daily", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
			return
		}
		r.requireUser(w, req, r.handleDailyUsage)
	})
	r.mux.HandleFunc("/api/profile", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
			return
		}
		r.requireUser(w, req, r.handleProfile)
	})

	// WebSocket live feed
	r.mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		r.requireUser(w, req, func(w http.ResponseWriter, req *http.Request, userID string) {
			r.wsHub.HandleWebSocket(w, req, userID)
		})
	})
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.config.AllowedOrigins != "" {
		w.Header().Set("Access-Control-Allow-Origin", r.config.AllowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+AuthSecretHeader+", "+r.config.ProxyAuthUserHeader)
	}

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if strings.HasPrefix(req.URL.Path, "/api/") || strings.HasPrefix(req.URL.Path, "/ws") {
		r.addSecurityHeaders(w)
	}

	start := time.Now()
	r.mux.ServeHTTP(w, req)
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

// addSecurityHeaders adds security headers to the response
func (r *Router) addSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// requireUser resolves the authenticated principal set by the fronting
// proxy and passes it to next. The user id is never taken from the body.
func (r *Router) requireUser(w http.ResponseWriter, req *http.Request, next func(http.ResponseWriter, *http.Request, string)) {
	if r.config.ProxyAuthSecret != "" {
		secret := req.Header.Get(AuthSecretHeader)
		if subtle.ConstantTimeCompare([]byte(secret), []byte(r.config.ProxyAuthSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing auth secret")
			return
		}
	}

	userID := strings.TrimSpace(req.Header.Get(r.config.ProxyAuthUserHeader))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Missing user identity")
		return
	}
	next(w, req, userID)
}

// handleHealth handles health check requests
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(r.started).Seconds(),
	})
}

// handleVersion handles version requests
func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"version": r.version,
		"runtime": "go",
	})
}

// statusForKind maps the internal error taxonomy to HTTP statuses.
func statusForKind(kind pserrors.Kind) int {
	switch kind {
	case pserrors.KindValidation:
		return http.StatusBadRequest
	case pserrors.KindAlreadyStarted, pserrors.KindAlreadyExists, pserrors.KindConflict:
		return http.StatusConflict
	case pserrors.KindNotStarted, pserrors.KindNotFound:
		return http.StatusNotFound
	case pserrors.KindBudgetExceeded:
		return http.StatusPaymentRequired
	case pserrors.KindTransient:
		return http.StatusServiceUnavailable
	case pserrors.KindModelUnavailable, pserrors.KindModelParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
