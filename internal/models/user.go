package models

import "time"

// Plan names. An expired paid plan degrades to free at read time; the stored
// record is left untouched.
const (
	PlanFree      = "free"
	PlanPremium   = "premium"
	PlanUnlimited = "unlimited"
)

// UserPreferences holds per-user toggles carried on the profile.
type UserPreferences struct {
	Notifications bool `json:"notifications"`
	DailySummary  bool `json:"daily_summary"`
}

// UserStats are running totals bumped by the orchestrator after each archive.
type UserStats struct {
	TotalPulses         int       `json:"total_pulses"`
	TotalAIEnhancements int       `json:"total_ai_enhancements"`
	MemberSince         time.Time `json:"member_since"`
}

// UserProfile is the durable per-user record.
type UserProfile struct {
	UserID      string          `json:"user_id"`
	Plan        string          `json:"plan"`
	PlanExpires *time.Time      `json:"plan_expires,omitempty"`
	Preferences UserPreferences `json:"preferences"`
	Stats       UserStats       `json:"stats"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EffectivePlan resolves the plan at now, degrading expired paid plans to
// free.
func (u *UserProfile) EffectivePlan(now time.Time) string {
	if u.Plan == "" {
		return PlanFree
	}
	if u.Plan != PlanFree && u.PlanExpires != nil && u.PlanExpires.Before(now) {
		return PlanFree
	}
	return u.Plan
}
