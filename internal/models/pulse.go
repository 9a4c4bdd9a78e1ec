// Package models defines the pulse lifecycle records and their wire forms.
// A pulse moves Started -> Stopped -> Archived; each stage adds fields and
// the earlier ones are carried verbatim so an archived record still holds
// the exact intent, reflection, and timestamps the user submitted.
package models

import (
	"strings"
	"time"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
)

const (
	// MaxIntentChars caps intent length on ingress.
	MaxIntentChars = 200
	// MaxReflectionChars caps reflection length on ingress.
	MaxReflectionChars = 200
)

// farFuture anchors inverted timestamps. Archived listings sort ascending on
// (farFuture - stopped_at), which yields most-recent-first.
var farFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// StartedPulse is the single live session a user may hold. Keyed by user_id.
type StartedPulse struct {
	UserID          string    `json:"user_id"`
	PulseID         string    `json:"pulse_id"`
	Intent          string    `json:"intent"`
	StartTime       time.Time `json:"start_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	IntentEmotion   string    `json:"intent_emotion,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	IsPublic        bool      `json:"is_public,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// EndTime is the declared end of the session.
func (p *StartedPulse) EndTime() time.Time {
	return p.StartTime.Add(time.Duration(p.DurationSeconds) * time.Second)
}

// RemainingSeconds reports how much declared time is left at now.
func (p *StartedPulse) RemainingSeconds(now time.Time) int64 {
	remaining := int64(p.EndTime().Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *StartedPulse) Validate() error {
	const op = "models.started_pulse.validate"
	if strings.TrimSpace(p.UserID) == "" {
		return errors.Validationf(op, "user_id is required")
	}
	if strings.TrimSpace(p.PulseID) == "" {
		return errors.Validationf(op, "pulse_id is required")
	}
	if strings.TrimSpace(p.Intent) == "" {
		return errors.Validationf(op, "intent is required")
	}
	if len(p.Intent) > MaxIntentChars {
		return errors.Validationf(op, "intent exceeds %d characters", MaxIntentChars)
	}
	if p.DurationSeconds < 1 {
		return errors.Validationf(op, "duration_seconds must be >= 1")
	}
	return nil
}

// StoppedPulse is the intermediate record awaiting enrichment. Keyed by
// pulse_id; its insert is what drives the orchestrator.
type StoppedPulse struct {
	StartedPulse

	Reflection        string    `json:"reflection"`
	ReflectionEmotion string    `json:"reflection_emotion,omitempty"`
	StoppedAt         time.Time `json:"stopped_at"`
}

// ActualDurationSeconds derives the elapsed session time, clamped to
// [0, duration_seconds]. A stop submitted before the declared end yields the
// elapsed time; a stop after it yields the declared duration.
func (p *StoppedPulse) ActualDurationSeconds() int64 {
	elapsed := int64(p.StoppedAt.Sub(p.StartTime).Seconds())
	if elapsed < 0 {
		return 0
	}
	if elapsed > p.DurationSeconds {
		return p.DurationSeconds
	}
	return elapsed
}

// TotalChars is the combined content length used for scoring and token
// estimation.
func (p *StoppedPulse) TotalChars() int {
	return len(p.Intent) + len(p.Reflection)
}

func (p *StoppedPulse) Validate() error {
	const op = "models.stopped_pulse.validate"
	if err := p.StartedPulse.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.Reflection) == "" {
		return errors.Validationf(op, "reflection is required")
	}
	if len(p.Reflection) > MaxReflectionChars {
		return errors.Validationf(op, "reflection exceeds %d characters", MaxReflectionChars)
	}
	if p.StoppedAt.Before(p.StartTime) {
		return errors.Validationf(op, "stopped_at precedes start_time")
	}
	return nil
}

// RewardGrant is one triggered reward, kept both on the archived pulse and
// in the usage ledger.
type RewardGrant struct {
	ID          string `json:"id"`
	Credits     Cents  `json:"credits_cents"`
	Message     string `json:"message"`
	Achievement string `json:"achievement,omitempty"`
}

// BudgetStatus is the budget snapshot captured in a selection decision.
type BudgetStatus struct {
	Tier           string `json:"tier"`
	DailyUsed      Cents  `json:"daily_used_cents"`
	DailyAvailable Cents  `json:"daily_available_cents"`
	MonthlyUsed    Cents  `json:"monthly_used_cents"`
	MonthlyCap     Cents  `json:"monthly_cap_cents"`
}

// SelectionInfo is the persisted trace of the admission decision, including
// any later demotion by the enrichment pipeline.
type SelectionInfo struct {
	Selected           bool          `json:"selected"`
	DecisionReason     string        `json:"decision_reason"`
	WorthinessScore    float64       `json:"worthiness_score"`
	EstimatedCostCents Cents         `json:"estimated_cost_cents"`
	ModelID            string        `json:"model_id,omitempty"`
	Probability        float64       `json:"probability,omitempty"`
	Draw               float64       `json:"draw,omitempty"`
	CouldBeEnhanced    bool          `json:"could_be_enhanced,omitempty"`
	Error              string        `json:"error,omitempty"`
	BudgetStatus       *BudgetStatus `json:"budget_status,omitempty"`
	EvaluatedAt        time.Time     `json:"evaluated_at"`
}

// ArchivedPulse is the terminal record. Keyed by pulse_id with a secondary
// index on (user_id, inverted_timestamp).
type ArchivedPulse struct {
	StoppedPulse

	ArchivedAt        time.Time      `json:"archived_at"`
	GenTitle          string         `json:"gen_title"`
	GenBadge          string         `json:"gen_badge"`
	AIEnhanced        bool           `json:"ai_enhanced"`
	AICostCents       Cents          `json:"ai_cost_cents"`
	AIInsights        *Insights      `json:"ai_insights,omitempty"`
	AISelectionInfo   *SelectionInfo `json:"ai_selection_info,omitempty"`
	TriggeredRewards  []RewardGrant  `json:"triggered_rewards,omitempty"`
	InvertedTimestamp int64          `json:"inverted_timestamp"`
}

// InvertTimestamp maps a stop time onto the ascending sort key used by the
// archive listing index.
func InvertTimestamp(stoppedAt time.Time) int64 {
	// Unix-second arithmetic: the span to year 9999 overflows time.Duration,
	// which would saturate every key to the same value.
	return farFuture.Unix() - stoppedAt.Unix()
}
