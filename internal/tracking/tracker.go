// Package tracking maintains the append-only usage ledger: one event per
// selection or enhancement attempt, plus on-demand daily rollups. Ledger
// writes are advisory; callers log failures and continue, so tracking can
// never stall the pipeline.
package tracking

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
)

// Secondary indexes over the ledger: by date for day-wide queries and by
// pulse for per-pulse forensics.
const (
	DateIndex  = "usage_by_date"
	PulseIndex = "usage_by_pulse"
)

// indexable is the subset of event fields the index extractors need. Daily
// aggregates stored in the same table lack event_id and stay out of both
// indexes.
type indexable struct {
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
	PulseID   string    `json:"pulse_id"`
}

// Register installs the usage table spec. Shared with the budget service,
// which stores UsageDay records in the same table; registration is
// idempotent.
func Register(s store.Store, table string) error {
	return s.RegisterTable(store.TableSpec{
		Name:     table,
		TTLField: "expires_at",
		Indexes: []store.IndexSpec{
			{
				Name: DateIndex,
				Extract: func(body []byte) (string, string, bool) {
					var e indexable
					if err := json.Unmarshal(body, &e); err != nil || e.EventID == "" {
						return "", "", false
					}
					ts := e.Timestamp.UTC().Format(time.RFC3339Nano)
					return "DATE#" + e.Date, "USER#" + e.UserID + "#" + ts, true
				},
			},
			{
				Name: PulseIndex,
				Extract: func(body []byte) (string, string, bool) {
					var e indexable
					if err := json.Unmarshal(body, &e); err != nil || e.EventID == "" || e.PulseID == "" {
						return "", "", false
					}
					ts := e.Timestamp.UTC().Format(time.RFC3339Nano)
					return "PULSE#" + e.PulseID, "EVENT#" + ts, true
				},
			},
		},
	})
}

// Tracker appends usage events.
type Tracker struct {
	store store.Store
	table string
	now   func() time.Time
}

// NewTracker registers the usage table and returns the tracker.
func NewTracker(s store.Store, table string) (*Tracker, error) {
	if err := Register(s, table); err != nil {
		return nil, err
	}
	return &Tracker{store: s, table: table, now: time.Now}, nil
}

// Emit appends one event to the ledger. The event id and timestamp are
// assigned here when unset.
func (t *Tracker) Emit(ctx context.Context, e *models.UsageEvent) error {
	const op = "tracking.emit"

	if e.EventID == "" {
		e.EventID = strings.ToLower(ulid.Make().String())
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now().UTC()
	}
	if e.Date == "" {
		e.Date = e.Timestamp.UTC().Format("2006-01-02")
	}

	body, err := json.Marshal(e)
	if err != nil {
		return pserrors.New(pserrors.KindFatal, op, err).WithUser(e.UserID)
	}
	key := store.Key{
		Part: "USER#" + e.UserID,
		Sort: "EVENT#" + e.Timestamp.UTC().Format(time.RFC3339Nano) + "#" + e.EventID,
	}
	return t.store.PutIfAbsent(ctx, t.table, key, body)
}

// SelectionEvaluated records an admission decision, accepted or not.
func (t *Tracker) SelectionEvaluated(ctx context.Context, userID, pulseID string, score float64, reason string, estimatedCost models.Cents, modelID string) {
	t.emitLogged(ctx, &models.UsageEvent{
		UserID:             userID,
		EventType:          models.EventSelectionEvaluated,
		PulseID:            pulseID,
		ModelID:            modelID,
		WorthinessScore:    score,
		DecisionReason:     reason,
		EstimatedCostCents: estimatedCost,
	})
}

// EnhancementRequested records the start of an LLM attempt.
func (t *Tracker) EnhancementRequested(ctx context.Context, userID, pulseID, modelID string, estimatedCost models.Cents) {
	t.emitLogged(ctx, &models.UsageEvent{
		UserID:             userID,
		EventType:          models.EventEnhancementRequest,
		PulseID:            pulseID,
		ModelID:            modelID,
		EstimatedCostCents: estimatedCost,
	})
}

// EnhancementCompleted records a successful LLM enhancement with observed
// cost and token counts.
func (t *Tracker) EnhancementCompleted(ctx context.Context, userID, pulseID, modelID string, actualCost models.Cents, inputTokens, outputTokens int, duration time.Duration) {
	t.emitLogged(ctx, &models.UsageEvent{
		UserID:          userID,
		EventType:       models.EventEnhancementComplete,
		PulseID:         pulseID,
		ModelID:         modelID,
		ActualCostCents: actualCost,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		DurationMS:      duration.Milliseconds(),
	})
}

// EnhancementFailed records a failed LLM attempt with the failure reason.
func (t *Tracker) EnhancementFailed(ctx context.Context, userID, pulseID, modelID, errMsg string, duration time.Duration) {
	t.emitLogged(ctx, &models.UsageEvent{
		UserID:       userID,
		EventType:    models.EventEnhancementFailed,
		PulseID:      pulseID,
		ModelID:      modelID,
		ErrorMessage: errMsg,
		DurationMS:   duration.Milliseconds(),
	})
}

func (t *Tracker) emitLogged(ctx context.Context, e *models.UsageEvent) {
	if err := t.Emit(ctx, e); err != nil {
		log.Warn().Err(err).
			Str("user_id", e.UserID).
			Str("pulse_id", e.PulseID).
			Str("event_type", string(e.EventType)).
			Msg("Usage event not recorded")
	}
}

// EventsForDay returns the user's ledger events for one date, oldest first.
func (t *Tracker) EventsForDay(ctx context.Context, userID, date string) ([]*models.UsageEvent, error) {
	const op = "tracking.events_for_day"

	bodies, err := t.store.QueryIndex(ctx, t.table, store.Query{
		Partition:  "USER#" + userID,
		SortPrefix: "EVENT#" + date,
	})
	if err != nil {
		return nil, err
	}
	events := make([]*models.UsageEvent, 0, len(bodies))
	for _, body := range bodies {
		var e models.UsageEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
		}
		events = append(events, &e)
	}
	return events, nil
}

// EventsForPulse returns every ledger event touching one pulse, for
// forensics.
func (t *Tracker) EventsForPulse(ctx context.Context, pulseID string) ([]*models.UsageEvent, error) {
	const op = "tracking.events_for_pulse"

	bodies, err := t.store.QueryIndex(ctx, t.table, store.Query{
		Index:     PulseIndex,
		Partition: "PULSE#" + pulseID,
	})
	if err != nil {
		return nil, err
	}
	events := make([]*models.UsageEvent, 0, len(bodies))
	for _, body := range bodies {
		var e models.UsageEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, pserrors.New(pserrors.KindFatal, op, err).WithPulse(pulseID)
		}
		events = append(events, &e)
	}
	return events, nil
}

// DailyUsage rolls the day's events up into one aggregate.
func (t *Tracker) DailyUsage(ctx context.Context, userID, date string) (*models.DailyUsage, error) {
	events, err := t.EventsForDay(ctx, userID, date)
	if err != nil {
		return nil, err
	}

	usage := &models.DailyUsage{
		UserID:    userID,
		Date:      date,
		ByModel:   map[string]int{},
		ByType:    map[string]int{},
		UpdatedAt: t.now().UTC(),
	}
	var totalDuration int64
	var timed int64
	for _, e := range events {
		usage.ByType[string(e.EventType)]++
		if e.ModelID != "" {
			usage.ByModel[e.ModelID]++
		}
		switch e.EventType {
		case models.EventEnhancementRequest:
			usage.Requests++
			usage.EstimatedCostCents += e.EstimatedCostCents
		case models.EventEnhancementComplete:
			usage.Completed++
			usage.ActualCostCents += e.ActualCostCents
			usage.InputTokens += e.InputTokens
			usage.OutputTokens += e.OutputTokens
		case models.EventEnhancementFailed:
			usage.Failed++
		}
		if e.DurationMS > 0 {
			totalDuration += e.DurationMS
			timed++
			if e.DurationMS > usage.MaxDurationMS {
				usage.MaxDurationMS = e.DurationMS
			}
		}
	}
	if timed > 0 {
		usage.AvgDurationMS = totalDuration / timed
	}
	return usage, nil
}
