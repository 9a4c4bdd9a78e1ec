// Package budget implements the admission controller: per-tier daily and
// monthly cost ceilings, credit accrual through reward triggers, and the
// value-gated enhancement decision. All UsageDay mutation goes through a
// single atomic update; actual cost is committed exactly once, by the
// orchestrator, after the LLM path completes.
package budget

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/tracking"
)

// Tier limits in cents. Daily bonus credits are granted on the first touch
// of each day; the monthly cap is absolute.
type tierLimits struct {
	dailyBase  models.Cents
	dailyBonus models.Cents
	monthlyCap models.Cents
}

var budgetTiers = map[string]tierLimits{
	models.PlanFree: {
		dailyBase:  models.CentsFromInt(5),
		dailyBonus: models.CentsFromInt(0),
		monthlyCap: models.CentsFromInt(30),
	},
	models.PlanPremium: {
		dailyBase:  models.CentsFromInt(18),
		dailyBonus: models.CentsFromInt(2),
		monthlyCap: models.CentsFromInt(375),
	},
	models.PlanUnlimited: {
		dailyBase:  models.CentsFromInt(75),
		dailyBonus: models.CentsFromInt(25),
		monthlyCap: models.CentsFromInt(1000),
	},
}

const usageRetention = 90 * 24 * time.Hour

// Budget-check outcomes reported to callers and recorded in decision traces.
const (
	reasonMonthlyExceeded  = "Monthly budget exceeded"
	reasonWouldExceedMonth = "Would exceed monthly budget"
	reasonDailyExceeded    = "Daily budget exceeded"
	reasonBudgetAvailable  = "Budget available"
)

// PlanResolver reports a user's effective plan.
type PlanResolver interface {
	Plan(ctx context.Context, userID string) string
}

// Service owns UsageDay records.
type Service struct {
	store store.Store
	table string
	plans PlanResolver
	now   func() time.Time
}

// NewService registers the usage table and returns the service.
func NewService(s store.Store, table string, plans PlanResolver) (*Service, error) {
	if err := tracking.Register(s, table); err != nil {
		return nil, err
	}
	return &Service{store: s, table: table, plans: plans, now: time.Now}, nil
}

func dailyKey(userID, date string) store.Key {
	return store.Key{Part: "USER#" + userID, Sort: "DAILY#" + date}
}

func (s *Service) today() string { return s.now().UTC().Format("2006-01-02") }
func (s *Service) month() string { return s.now().UTC().Format("2006-01") }

func (s *Service) tier(ctx context.Context, userID string) string {
	plan := s.plans.Plan(ctx, userID)
	if _, ok := budgetTiers[plan]; !ok {
		return models.PlanFree
	}
	return plan
}

// GetOrCreateUsage returns today's usage record, creating it on first touch.
// A fresh day starts with the tier's bonus credits and carries the monthly
// totals, lifetime enhancement count, and achievements forward from the most
// recent previous day.
func (s *Service) GetOrCreateUsage(ctx context.Context, userID string) (*models.UsageDay, error) {
	const op = "budget.get_or_create_usage"

	date := s.today()
	body, err := s.store.Get(ctx, s.table, dailyKey(userID, date))
	if err == nil {
		var usage models.UsageDay
		if uerr := json.Unmarshal(body, &usage); uerr != nil {
			return nil, pserrors.New(pserrors.KindFatal, op, uerr).WithUser(userID)
		}
		return &usage, nil
	}
	if pserrors.KindOf(err) != pserrors.KindNotFound {
		return nil, err
	}

	fresh := s.freshUsage(ctx, userID, date)
	created, err := json.Marshal(fresh)
	if err != nil {
		return nil, pserrors.New(pserrors.KindFatal, op, err)
	}
	if err := s.store.PutIfAbsent(ctx, s.table, dailyKey(userID, date), created); err != nil {
		if pserrors.IsConditionalFailure(err) {
			return s.GetOrCreateUsage(ctx, userID)
		}
		return nil, err
	}
	return fresh, nil
}

func (s *Service) freshUsage(ctx context.Context, userID, date string) *models.UsageDay {
	tier := s.tier(ctx, userID)
	limits := budgetTiers[tier]
	now := s.now().UTC()

	usage := &models.UsageDay{
		UserID:           userID,
		Date:             date,
		Month:            s.month(),
		UserTier:         tier,
		DailyAICredits:   limits.dailyBonus,
		MonthlyAICredits: limits.dailyBonus,
		StreakDays:       1,
		ExpiresAt:        now.Add(usageRetention).Unix(),
		UpdatedAt:        now,
	}

	prev, daysBack := s.previousUsage(ctx, userID, date)
	if prev != nil {
		usage.TotalAIEnhancements = prev.TotalAIEnhancements
		usage.Achievements = prev.Achievements
		if prev.Month == usage.Month {
			usage.MonthlyCostCents = prev.MonthlyCostCents
			usage.MonthlyAICredits = prev.MonthlyAICredits + limits.dailyBonus
		}
		if daysBack == 1 {
			usage.StreakDays = prev.StreakDays + 1
		}
	}
	return usage
}

// previousUsage scans back up to 31 days for the user's most recent record.
func (s *Service) previousUsage(ctx context.Context, userID, date string) (*models.UsageDay, int) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, 0
	}
	for back := 1; back <= 31; back++ {
		prev := day.AddDate(0, 0, -back).Format("2006-01-02")
		body, err := s.store.Get(ctx, s.table, dailyKey(userID, prev))
		if err != nil {
			continue
		}
		var usage models.UsageDay
		if err := json.Unmarshal(body, &usage); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Str("date", prev).Msg("Unreadable usage record skipped")
			continue
		}
		return &usage, back
	}
	return nil, 0
}

// BudgetStatus summarizes the user's position for decision traces and the
// API.
func (s *Service) BudgetStatus(usage *models.UsageDay) models.BudgetStatus {
	limits := budgetTiers[usage.UserTier]
	return models.BudgetStatus{
		Tier:           usage.UserTier,
		DailyUsed:      usage.DailyCostCents,
		DailyAvailable: limits.dailyBase + usage.DailyAICredits,
		MonthlyUsed:    usage.MonthlyCostCents,
		MonthlyCap:     limits.monthlyCap,
	}
}

// CanAfford checks whether an enhancement at the estimated cost fits the
// user's remaining budget. The returned reason is stable text recorded in
// decision traces.
func (s *Service) CanAfford(ctx context.Context, userID string, estimatedCost models.Cents) (bool, string, *models.UsageDay, error) {
	usage, err := s.GetOrCreateUsage(ctx, userID)
	if err != nil {
		return false, "", nil, err
	}
	limits := budgetTiers[usage.UserTier]

	if usage.MonthlyCostCents >= limits.monthlyCap {
		return false, reasonMonthlyExceeded, usage, nil
	}
	if usage.MonthlyCostCents+estimatedCost > limits.monthlyCap {
		return false, reasonWouldExceedMonth, usage, nil
	}
	totalDaily := limits.dailyBase + usage.DailyAICredits
	if usage.DailyCostCents+estimatedCost > totalDaily {
		return false, reasonDailyExceeded, usage, nil
	}
	return true, reasonBudgetAvailable, usage, nil
}

// DailyPulseCount approximates the user's pulse count today from the
// enhancement counter, for the worthiness frequency bonus.
func (s *Service) DailyPulseCount(ctx context.Context, userID string) (int, error) {
	usage, err := s.GetOrCreateUsage(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := usage.DailyPulsesEnhanced * 8
	if count < 1 {
		count = 1
	}
	return count, nil
}

// rewardRule is one trigger in the fixed-order scan.
type rewardRule struct {
	id          string
	credits     models.Cents
	message     string
	achievement string
	applies     func(usage *models.UsageDay, p *models.StoppedPulse) bool
}

var rewardRules = []rewardRule{
	{
		id: "first_ai_enhancement", credits: models.CentsFromInt(5),
		message: "🤖 Welcome to AI enhancement!", achievement: "ai_apprentice",
		applies: func(u *models.UsageDay, _ *models.StoppedPulse) bool {
			return u.TotalAIEnhancements == 0
		},
	},
	{
		id: "ai_enthusiast", credits: models.CentsFromInt(5),
		message: "🧠 AI Enthusiast unlocked!", achievement: "ai_enthusiast",
		applies: func(u *models.UsageDay, _ *models.StoppedPulse) bool {
			return u.TotalAIEnhancements+1 == 10
		},
	},
	{
		id: "ai_master", credits: models.CentsFromInt(15),
		message: "🚀 AI Master achieved!", achievement: "ai_master",
		applies: func(u *models.UsageDay, _ *models.StoppedPulse) bool {
			return u.TotalAIEnhancements+1 == 50
		},
	},
	{
		id: "long_session", credits: models.CentsFromInt(3),
		message: "⏰ 2+ hour session! Extra AI boost!",
		applies: func(_ *models.UsageDay, p *models.StoppedPulse) bool {
			return p != nil && p.DurationSeconds >= 2*3600
		},
	},
	{
		id: "deep_reflection", credits: models.CentsFromInt(2),
		message: "📝 Thoughtful reflection detected!",
		applies: func(_ *models.UsageDay, p *models.StoppedPulse) bool {
			return p != nil && len(p.Reflection) >= 200
		},
	},
	{
		id: "breakthrough_words", credits: models.CentsFromInt(1),
		message: "🚀 Innovation detected! AI bonus!",
		applies: func(_ *models.UsageDay, p *models.StoppedPulse) bool {
			if p == nil {
				return false
			}
			content := strings.ToLower(p.Intent + " " + p.Reflection)
			for _, word := range []string{
				"breakthrough", "innovation", "revolutionary",
				"novel", "pioneering", "discovery",
			} {
				if strings.Contains(content, word) {
					return true
				}
			}
			return false
		},
	},
}

// ComputeRewards evaluates the trigger table against the usage state before
// this enhancement. Used both for display on accept and for the commit; only
// the commit mutates counters.
func (s *Service) ComputeRewards(usage *models.UsageDay, p *models.StoppedPulse) []models.RewardGrant {
	var grants []models.RewardGrant
	for _, rule := range rewardRules {
		if rule.applies(usage, p) {
			grants = append(grants, models.RewardGrant{
				ID:          rule.id,
				Credits:     rule.credits,
				Message:     rule.message,
				Achievement: rule.achievement,
			})
		}
	}
	return grants
}

// CommitEnhancement records a completed LLM enhancement: debits the actual
// cost, accrues triggered reward credits, and bumps the counters, all in one
// atomic update. Returns the granted rewards and the updated usage.
func (s *Service) CommitEnhancement(ctx context.Context, userID string, actualCost models.Cents, p *models.StoppedPulse) ([]models.RewardGrant, *models.UsageDay, error) {
	const op = "budget.commit_enhancement"

	// Ensure today's record exists before the update so carry-forward and
	// bonus credits apply.
	if _, err := s.GetOrCreateUsage(ctx, userID); err != nil {
		return nil, nil, err
	}

	// The store lock is not reentrant, so the update callback must not issue
	// store reads. Compute the missing-record fallback up front; the callback
	// only decodes the bytes it is handed.
	fallback := s.freshUsage(ctx, userID, s.today())

	var grants []models.RewardGrant
	updated, err := s.store.AtomicUpdate(ctx, s.table, dailyKey(userID, s.today()), func(old []byte) ([]byte, error) {
		usage := fallback
		if old != nil {
			usage = &models.UsageDay{}
			if err := json.Unmarshal(old, usage); err != nil {
				return nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
			}
		}

		grants = s.ComputeRewards(usage, p)
		credits := models.Cents(0)
		for _, g := range grants {
			credits += g.Credits
		}

		usage.DailyCostCents += actualCost
		usage.MonthlyCostCents += actualCost
		usage.DailyAICredits += credits
		usage.MonthlyAICredits += credits
		usage.DailyPulsesEnhanced++
		usage.TotalAIEnhancements++
		usage.Month = s.month()
		for _, g := range grants {
			if g.Achievement != "" {
				usage.Achievements = lo.Union(usage.Achievements, []string{g.Achievement})
			}
		}
		usage.UpdatedAt = s.now().UTC()
		return json.Marshal(usage)
	})
	if err != nil {
		return nil, nil, err
	}

	var usage models.UsageDay
	if err := json.Unmarshal(updated, &usage); err != nil {
		return nil, nil, pserrors.New(pserrors.KindFatal, op, err).WithUser(userID)
	}
	log.Debug().
		Str("user_id", userID).
		Str("cost_cents", actualCost.String()).
		Int("rewards", len(grants)).
		Msg("Enhancement committed")
	return grants, &usage, nil
}
