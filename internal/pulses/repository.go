// Package pulses implements the pulse lifecycle repository: start, stop,
// archive, and recent-history reads over the KV store. One active pulse per
// user is enforced by keying started pulses on user id; archival is a
// conditional insert so redelivered stream records stay idempotent.
package pulses

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
)

// Tables names the three pulse tables the repository operates on.
type Tables struct {
	Started  string
	Stopped  string
	Ingested string
}

// Repository persists pulses through their lifecycle.
type Repository struct {
	store  store.Store
	tables Tables
	now    func() time.Time
}

// IngestedByUserIndex orders archived pulses newest-first per user via the
// inverted stop timestamp.
const IngestedByUserIndex = "ingested_by_user"

// NewRepository registers the pulse tables and returns the repository.
func NewRepository(s store.Store, tables Tables) (*Repository, error) {
	if err := s.RegisterTable(store.TableSpec{Name: tables.Started}); err != nil {
		return nil, err
	}
	if err := s.RegisterTable(store.TableSpec{Name: tables.Stopped}); err != nil {
		return nil, err
	}
	if err := s.RegisterTable(store.TableSpec{
		Name: tables.Ingested,
		Indexes: []store.IndexSpec{{
			Name: IngestedByUserIndex,
			Extract: func(body []byte) (string, string, bool) {
				var p struct {
					UserID            string `json:"user_id"`
					InvertedTimestamp int64  `json:"inverted_timestamp"`
				}
				if err := json.Unmarshal(body, &p); err != nil || p.UserID == "" {
					return "", "", false
				}
				return p.UserID, fmt.Sprintf("%019d", p.InvertedTimestamp), true
			},
		}},
	}); err != nil {
		return nil, err
	}
	return &Repository{store: s, tables: tables, now: time.Now}, nil
}

// Start begins a new pulse for the user. A user with an active pulse gets an
// AlreadyStarted error and the stored pulse stays untouched.
func (r *Repository) Start(ctx context.Context, p *models.StartedPulse) (*models.StartedPulse, error) {
	const op = "pulses.start"

	if p.PulseID == "" {
		p.PulseID = uuid.NewString()
	}
	if p.StartTime.IsZero() {
		p.StartTime = r.now().UTC()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now().UTC()
	}
	if err := p.Validate(); err != nil {
		return nil, pserrors.New(pserrors.KindValidation, op, err).WithUser(p.UserID)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, pserrors.New(pserrors.KindFatal, op, err)
	}

	err = store.WithRetry(ctx, op, store.DefaultRetry, func() error {
		return r.store.PutIfAbsent(ctx, r.tables.Started, store.Key{Part: p.UserID}, body)
	})
	if err != nil {
		if pserrors.IsConditionalFailure(err) {
			return nil, pserrors.Newf(pserrors.KindAlreadyStarted, op,
				"user %s already has an active pulse", p.UserID).WithUser(p.UserID)
		}
		return nil, err
	}

	log.Debug().Str("user_id", p.UserID).Str("pulse_id", p.PulseID).Msg("Pulse started")
	return p, nil
}

// GetStarted returns the user's active pulse, or a NotStarted error.
func (r *Repository) GetStarted(ctx context.Context, userID string) (*models.StartedPulse, error) {
	const op = "pulses.get_started"

	body, err := r.store.Get(ctx, r.tables.Started, store.Key{Part: userID})
	if err != nil {
		if pserrors.KindOf(err) == pserrors.KindNotFound {
			return nil, pserrors.Newf(pserrors.KindNotStarted, op,
				"no active pulse for user %s", userID).WithUser(userID)
		}
		return nil, err
	}
	var p models.StartedPulse
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
	}
	return &p, nil
}

// Stop ends the user's active pulse, capturing the reflection. The active
// record is removed and the stopped record inserted; if the insert fails the
// active record is restored so the user is not left pulse-less mid-flight.
func (r *Repository) Stop(ctx context.Context, userID, reflection, reflectionEmotion string) (*models.StoppedPulse, error) {
	const op = "pulses.stop"

	if strings.TrimSpace(reflection) == "" {
		return nil, pserrors.Validationf(op, "reflection must not be empty").WithUser(userID)
	}

	var startedBody []byte
	err := store.WithRetry(ctx, op, store.DefaultRetry, func() error {
		var err error
		startedBody, err = r.store.DeleteReturningOld(ctx, r.tables.Started, store.Key{Part: userID})
		return err
	})
	if err != nil {
		if pserrors.KindOf(err) == pserrors.KindNotFound {
			return nil, pserrors.Newf(pserrors.KindNotStarted, op,
				"no active pulse for user %s", userID).WithUser(userID)
		}
		return nil, err
	}

	var started models.StartedPulse
	if err := json.Unmarshal(startedBody, &started); err != nil {
		return nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
	}

	stopped := &models.StoppedPulse{
		StartedPulse:      started,
		Reflection:        reflection,
		ReflectionEmotion: reflectionEmotion,
		StoppedAt:         r.now().UTC(),
	}
	if err := stopped.Validate(); err != nil {
		// A rejected stop must not consume the active pulse.
		if restoreErr := r.store.PutIfAbsent(ctx, r.tables.Started, store.Key{Part: userID}, startedBody); restoreErr != nil {
			log.Error().Err(restoreErr).Str("user_id", userID).Msg("Failed to restore active pulse after rejected stop")
		}
		return nil, err
	}
	stoppedBody, err := json.Marshal(stopped)
	if err != nil {
		return nil, pserrors.New(pserrors.KindFatal, op, err)
	}

	err = store.WithRetry(ctx, op, store.DefaultRetry, func() error {
		return r.store.PutIfAbsent(ctx, r.tables.Stopped, store.Key{Part: stopped.PulseID}, stoppedBody)
	})
	if err != nil {
		if pserrors.IsConditionalFailure(err) {
			// Same pulse id already stopped: treat as success.
			log.Warn().Str("pulse_id", stopped.PulseID).Msg("Stop raced a previous stop, keeping stored record")
			return stopped, nil
		}
		// Put the active pulse back so the failure is recoverable.
		if restoreErr := r.store.PutIfAbsent(ctx, r.tables.Started, store.Key{Part: userID}, startedBody); restoreErr != nil {
			log.Error().Err(restoreErr).Str("user_id", userID).Msg("Failed to restore active pulse after stop failure")
		}
		return nil, pserrors.New(pserrors.KindStopFailed, op, err).WithUser(userID).WithPulse(stopped.PulseID)
	}

	log.Debug().Str("user_id", userID).Str("pulse_id", stopped.PulseID).Msg("Pulse stopped")
	return stopped, nil
}

// GetStopped returns a stopped pulse by id.
func (r *Repository) GetStopped(ctx context.Context, pulseID string) (*models.StoppedPulse, error) {
	const op = "pulses.get_stopped"

	body, err := r.store.Get(ctx, r.tables.Stopped, store.Key{Part: pulseID})
	if err != nil {
		return nil, err
	}
	var p models.StoppedPulse
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, pserrors.New(pserrors.KindFatal, op, err).WithPulse(pulseID)
	}
	return &p, nil
}

// ListStopped returns stopped pulses that have not reached the archive,
// across all users. Used by the pipeline's recovery sweep.
func (r *Repository) ListStopped(ctx context.Context, limit int) ([]*models.StoppedPulse, error) {
	const op = "pulses.list_stopped"

	bodies, err := r.store.ScanTable(ctx, r.tables.Stopped, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.StoppedPulse, 0, len(bodies))
	for _, body := range bodies {
		var p models.StoppedPulse
		if err := json.Unmarshal(body, &p); err != nil {
			log.Warn().Err(err).Msg("Unreadable stopped record skipped")
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// Archive writes the enriched pulse and removes the stopped record. The
// archive insert is conditional: a pulse already archived (a redelivered
// stream record) reports AlreadyExists so the caller can skip double spend.
// The stopped-record delete is idempotent.
func (r *Repository) Archive(ctx context.Context, p *models.ArchivedPulse) error {
	const op = "pulses.archive"

	if p.ArchivedAt.IsZero() {
		p.ArchivedAt = r.now().UTC()
	}
	if p.InvertedTimestamp == 0 {
		p.InvertedTimestamp = models.InvertTimestamp(p.StoppedAt)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return pserrors.New(pserrors.KindFatal, op, err)
	}

	err = store.WithRetry(ctx, op, store.DefaultRetry, func() error {
		return r.store.PutIfAbsent(ctx, r.tables.Ingested, store.Key{Part: p.PulseID}, body)
	})
	if err != nil && !pserrors.IsConditionalFailure(err) {
		return err
	}
	conflicted := err != nil

	if _, delErr := r.store.DeleteReturningOld(ctx, r.tables.Stopped, store.Key{Part: p.PulseID}); delErr != nil {
		if pserrors.KindOf(delErr) != pserrors.KindNotFound {
			return delErr
		}
	}

	if conflicted {
		return pserrors.Conflictf(op, "pulse %s already archived", p.PulseID).WithPulse(p.PulseID)
	}
	return nil
}

// ListArchived returns the user's archived pulses newest-first, capped at
// 100 items.
func (r *Repository) ListArchived(ctx context.Context, userID string, limit int) ([]*models.ArchivedPulse, error) {
	const op = "pulses.list_archived"

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	bodies, err := r.store.QueryIndex(ctx, r.tables.Ingested, store.Query{
		Index:     IngestedByUserIndex,
		Partition: userID,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.ArchivedPulse, 0, len(bodies))
	for _, body := range bodies {
		var p models.ArchivedPulse
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
		}
		out = append(out, &p)
	}
	return out, nil
}

// Subscribe exposes the stopped-pulse change feed for the orchestrator.
func (r *Repository) Subscribe() (<-chan store.Change, func()) {
	return r.store.Subscribe(r.tables.Stopped)
}
