package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/pulses"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/tracking"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/users"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/websocket"
)

type testEnv struct {
	cfg     *config.Config
	repo    *pulses.Repository
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.ProxyAuthSecret = "s3cret"

	s, err := store.NewSQLite(store.DefaultSQLiteConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	repo, err := pulses.NewRepository(s, pulses.Tables{
		Started:  cfg.Tables.StartedPulses,
		Stopped:  cfg.Tables.StoppedPulses,
		Ingested: cfg.Tables.IngestedPulses,
	})
	require.NoError(t, err)
	userSvc, err := users.NewService(s, cfg.Tables.Users)
	require.NoError(t, err)
	tracker, err := tracking.NewTracker(s, cfg.Tables.AIUsage)
	require.NoError(t, err)

	handler := NewRouter(cfg, repo, userSvc, tracker, websocket.NewHub(""), "test")
	return &testEnv{cfg: cfg, repo: repo, handler: handler}
}

func (e *testEnv) request(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(AuthSecretHeader, e.cfg.ProxyAuthSecret)
	if userID != "" {
		req.Header.Set(e.cfg.ProxyAuthUserHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestStartPulseLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/start-pulse", "alice", startPulseRequest{
		Intent:          "write the quarterly report",
		DurationSeconds: 1800,
		IntentEmotion:   "focused",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var started models.StartedPulse
	decodeBody(t, rec, &started)
	assert.Equal(t, "alice", started.UserID)
	assert.NotEmpty(t, started.PulseID)
	assert.Equal(t, int64(1800), started.DurationSeconds)

	// Second start without a stop conflicts.
	rec = env.request(t, http.MethodPost, "/api/start-pulse", "alice", startPulseRequest{
		Intent:          "something else",
		DurationSeconds: 600,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	var errResp errorBody
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "already_started", errResp.Error)

	// The running pulse is visible with a countdown.
	rec = env.request(t, http.MethodGet, "/api/start-pulse", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active activePulseResponse
	decodeBody(t, rec, &active)
	assert.Equal(t, started.PulseID, active.PulseID)
	assert.GreaterOrEqual(t, active.RemainingSeconds, int64(0))
	assert.LessOrEqual(t, active.RemainingSeconds, int64(1800))
	assert.False(t, active.ServerTime.IsZero())

	// Stop returns the reflection-carrying record.
	rec = env.request(t, http.MethodPost, "/api/stop-pulse", "alice", stopPulseRequest{
		Reflection:        "finished the draft",
		ReflectionEmotion: "accomplished",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stopped models.StoppedPulse
	decodeBody(t, rec, &stopped)
	assert.Equal(t, started.PulseID, stopped.PulseID)
	assert.Equal(t, "finished the draft", stopped.Reflection)

	// No active pulse afterwards.
	rec = env.request(t, http.MethodGet, "/api/start-pulse", "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "not_started", errResp.Error)
}

func TestStopWithoutStart(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/stop-pulse", "bob", stopPulseRequest{
		Reflection: "nothing running",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp errorBody
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "not_started", errResp.Error)
}

func TestStartPulseValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body startPulseRequest
	}{
		{"missing intent", startPulseRequest{DurationSeconds: 600}},
		{"zero duration", startPulseRequest{Intent: "work"}},
		{"negative duration", startPulseRequest{Intent: "work", DurationSeconds: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.request(t, http.MethodPost, "/api/start-pulse", "carol", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var errResp errorBody
			decodeBody(t, rec, &errResp)
			assert.Equal(t, "validation", errResp.Error)
		})
	}
}

func TestIngestedPulsesListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Archive three pulses directly through the repository.
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		stoppedAt := base.Add(time.Duration(i) * time.Hour)
		p := &models.ArchivedPulse{
			StoppedPulse: models.StoppedPulse{
				StartedPulse: models.StartedPulse{
					UserID:          "alice",
					PulseID:         string(rune('a'+i)) + "-pulse",
					Intent:          "deep work",
					StartTime:       stoppedAt.Add(-time.Hour),
					DurationSeconds: 3600,
				},
				Reflection: "done",
				StoppedAt:  stoppedAt,
			},
			ArchivedAt:        stoppedAt,
			GenTitle:          "Focused Session",
			GenBadge:          "✨ Progress Maker",
			InvertedTimestamp: models.InvertTimestamp(stoppedAt),
		}
		require.NoError(t, env.repo.Archive(ctx, p))
	}

	rec := env.request(t, http.MethodGet, "/api/ingested-pulses", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got []*models.ArchivedPulse
	decodeBody(t, rec, &got)
	require.Len(t, got, 3)
	// Newest first.
	assert.Equal(t, "c-pulse", got[0].PulseID)
	assert.Equal(t, "a-pulse", got[2].PulseID)

	// nb_items caps the page.
	rec = env.request(t, http.MethodGet, "/api/ingested-pulses?nb_items=1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &got)
	require.Len(t, got, 1)
	assert.Equal(t, "c-pulse", got[0].PulseID)

	// Bad nb_items is rejected.
	rec = env.request(t, http.MethodGet, "/api/ingested-pulses?nb_items=zero", "alice", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Another user sees an empty list, not Alice's pulses.
	rec = env.request(t, http.MethodGet, "/api/ingested-pulses", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &got)
	assert.Empty(t, got)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	// Wrong secret.
	req := httptest.NewRequest(http.MethodGet, "/api/start-pulse", nil)
	req.Header.Set(AuthSecretHeader, "wrong")
	req.Header.Set(env.cfg.ProxyAuthUserHeader, "alice")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Missing user header.
	req = httptest.NewRequest(http.MethodGet, "/api/start-pulse", nil)
	req.Header.Set(AuthSecretHeader, env.cfg.ProxyAuthSecret)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health needs no principal.
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProfileAndDailyUsage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/profile", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var profile models.UserProfile
	decodeBody(t, rec, &profile)
	assert.Equal(t, "alice", profile.UserID)
	assert.Equal(t, "free", profile.EffectivePlan(time.Now()))

	rec = env.request(t, http.MethodGet, "/api/usage/daily", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var usage models.DailyUsage
	decodeBody(t, rec, &usage)
	assert.Equal(t, "alice", usage.UserID)
	assert.Zero(t, usage.Requests)

	rec = env.request(t, http.MethodGet, "/api/usage/daily?date=03-02-2026", "alice", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodDelete, "/api/stop-pulse", "alice", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/ingested-pulses", "alice", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
