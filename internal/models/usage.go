package models

import "time"

// UsageDay is the per-user, per-day budget ledger. Monthly counters ride on
// the day record and carry forward within a month; budget mutation happens
// only through atomic store updates.
type UsageDay struct {
	UserID              string    `json:"user_id"`
	Date                string    `json:"date"`  // YYYY-MM-DD
	Month               string    `json:"month"` // YYYY-MM
	UserTier            string    `json:"user_tier"`
	DailyCostCents      Cents     `json:"daily_cost_cents"`
	DailyAICredits      Cents     `json:"daily_ai_credits"`
	DailyPulsesEnhanced int       `json:"daily_pulses_enhanced"`
	MonthlyCostCents    Cents     `json:"monthly_cost_cents"`
	MonthlyAICredits    Cents     `json:"monthly_ai_credits"`
	TotalAIEnhancements int       `json:"total_ai_enhancements"`
	StreakDays          int       `json:"streak_days"`
	Achievements        []string  `json:"achievements,omitempty"`
	ExpiresAt           int64     `json:"expires_at"` // unix seconds, storage TTL
	UpdatedAt           time.Time `json:"updated_at"`
}

// UsageEventType tags entries in the append-only usage ledger.
type UsageEventType string

const (
	EventSelectionEvaluated  UsageEventType = "selection_evaluated"
	EventEnhancementRequest  UsageEventType = "enhancement_request"
	EventEnhancementComplete UsageEventType = "enhancement_completed"
	EventEnhancementFailed   UsageEventType = "enhancement_failed"
	EventCreditCheck         UsageEventType = "credit_check"
)

// UsageEvent is one ledger entry. EventID is a ULID so entries sort by
// creation time within a same-timestamp tie.
type UsageEvent struct {
	UserID             string         `json:"user_id"`
	EventID            string         `json:"event_id"`
	EventType          UsageEventType `json:"event_type"`
	Timestamp          time.Time      `json:"timestamp"`
	Date               string         `json:"date"` // YYYY-MM-DD
	PulseID            string         `json:"pulse_id,omitempty"`
	ModelID            string         `json:"model_id,omitempty"`
	EstimatedCostCents Cents          `json:"estimated_cost_cents,omitempty"`
	ActualCostCents    Cents          `json:"actual_cost_cents,omitempty"`
	InputTokens        int            `json:"input_tokens,omitempty"`
	OutputTokens       int            `json:"output_tokens,omitempty"`
	DurationMS         int64          `json:"duration_ms,omitempty"`
	WorthinessScore    float64        `json:"worthiness_score,omitempty"`
	DecisionReason     string         `json:"decision_reason,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
}

// DailyUsage is the write-side rollup of a user's ledger for one day.
type DailyUsage struct {
	UserID             string         `json:"user_id"`
	Date               string         `json:"date"`
	Requests           int            `json:"requests"`
	Completed          int            `json:"completed"`
	Failed             int            `json:"failed"`
	EstimatedCostCents Cents          `json:"estimated_cost_cents"`
	ActualCostCents    Cents          `json:"actual_cost_cents"`
	InputTokens        int            `json:"input_tokens"`
	OutputTokens       int            `json:"output_tokens"`
	ByModel            map[string]int `json:"by_model,omitempty"`
	ByType             map[string]int `json:"by_type,omitempty"`
	AvgDurationMS      int64          `json:"avg_duration_ms"`
	MaxDurationMS      int64          `json:"max_duration_ms"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
