package budget

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/worthiness"
)

type fixedEstimator struct{ cost models.Cents }

func (f fixedEstimator) EstimatePulse(int, string) models.Cents { return f.cost }

type staticParams map[string]string

func (s staticParams) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

func newController(t *testing.T, plan string, params staticParams, seed int64) (*Controller, *Service) {
	t.Helper()
	svc := newTestService(t, plan)
	cfg := config.Defaults()
	scorer := worthiness.NewScorer(svc)
	ctrl := NewController(svc, scorer, fixedEstimator{cost: models.CentsFromFloat(0.5)},
		config.NewParams(cfg, params), cfg.AI, seed)
	return ctrl, svc
}

func exceptionalPulse(userID string) *models.StoppedPulse {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	intent := strings.Repeat("breakthrough research on neural caching architecture. ", 4)[:180]
	reflection := strings.Repeat("implemented and optimized the algorithm, 40% faster overall. ", 4)[:180]
	return &models.StoppedPulse{
		StartedPulse: models.StartedPulse{
			UserID:          userID,
			PulseID:         "p-" + userID,
			Intent:          intent,
			StartTime:       start,
			DurationSeconds: 2 * 3600,
			IntentEmotion:   "focused",
		},
		Reflection:        reflection,
		ReflectionEmotion: "accomplished",
		StoppedAt:         start.Add(2 * time.Hour),
	}
}

func shortPulse(userID string) *models.StoppedPulse {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return &models.StoppedPulse{
		StartedPulse: models.StartedPulse{
			UserID:          userID,
			PulseID:         "p-" + userID,
			Intent:          "Quick fix",
			StartTime:       start,
			DurationSeconds: 600,
		},
		Reflection: "Fixed a small bug",
		StoppedAt:  start.Add(10 * time.Minute),
	}
}

func TestEvaluateDisabled(t *testing.T) {
	ctrl, _ := newController(t, models.PlanFree, staticParams{
		"/pulseshrine/ai/enabled": "false",
	}, 1)
	d, err := ctrl.Evaluate(context.Background(), exceptionalPulse("alice"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Selected || d.Outcome != OutcomeDisabled {
		t.Fatalf("disabled config should reject: %+v", d)
	}
}

func TestEvaluateExceptionalAccept(t *testing.T) {
	ctrl, _ := newController(t, models.PlanFree, staticParams{}, 1)
	d, err := ctrl.Evaluate(context.Background(), exceptionalPulse("bob"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Selected || d.Outcome != OutcomeAccepted {
		t.Fatalf("exceptional pulse should be accepted: %+v", d)
	}
	if d.Info.WorthinessScore < worthiness.ExceptionalThreshold {
		t.Errorf("score %v below exceptional threshold", d.Info.WorthinessScore)
	}
	if !strings.Contains(d.Info.DecisionReason, "Exceptional worthiness") {
		t.Errorf("reason: %q", d.Info.DecisionReason)
	}
	if len(d.Rewards) == 0 {
		t.Error("accept should pre-compute display rewards")
	}
	if d.Info.BudgetStatus == nil {
		t.Error("decision trace should carry budget status")
	}
}

func TestEvaluateLowWorthiness(t *testing.T) {
	ctrl, _ := newController(t, models.PlanFree, staticParams{}, 1)
	d, err := ctrl.Evaluate(context.Background(), shortPulse("carol"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Selected || d.Outcome != OutcomeLowWorthiness {
		t.Fatalf("short pulse should be rejected on worthiness: %+v", d)
	}
	if !strings.Contains(d.Info.DecisionReason, "Low worthiness") {
		t.Errorf("reason: %q", d.Info.DecisionReason)
	}
}

func TestEvaluateBudgetBlocked(t *testing.T) {
	ctrl, svc := newController(t, models.PlanFree, staticParams{}, 1)
	ctx := context.Background()

	// Exhaust the monthly cap first.
	for i := 0; i < 6; i++ {
		if _, _, err := svc.CommitEnhancement(ctx, "dave", models.CentsFromInt(5), nil); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	d, err := ctrl.Evaluate(ctx, exceptionalPulse("dave"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Selected || d.Outcome != OutcomeBudget {
		t.Fatalf("capped user should be budget-blocked: %+v", d)
	}
	if !d.Info.CouldBeEnhanced {
		t.Error("budget rejection should flag could_be_enhanced")
	}
	if d.Info.BudgetStatus == nil || d.Info.BudgetStatus.MonthlyUsed != d.Info.BudgetStatus.MonthlyCap {
		t.Errorf("budget status should show the cap reached: %+v", d.Info.BudgetStatus)
	}
	if len(d.Rewards) != 0 {
		t.Error("budget rejection must not pre-compute rewards")
	}
}

func TestProbabilisticRollDeterministicBySeed(t *testing.T) {
	run := func() *Decision {
		ctrl, _ := newController(t, models.PlanUnlimited, staticParams{}, 42)
		// A mid-band pulse: good but not exceptional.
		p := shortPulse("erin")
		p.Intent = strings.Repeat("steady work on the import pipeline ", 5)
		p.Reflection = strings.Repeat("made progress on the cleanup ", 5)
		p.DurationSeconds = 45 * 60
		p.StoppedAt = p.StartTime.Add(45 * time.Minute)
		d, err := ctrl.Evaluate(context.Background(), p)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		return d
	}

	first := run()
	second := run()
	if first.Info.WorthinessScore < worthiness.GoodThreshold ||
		first.Info.WorthinessScore >= worthiness.ExceptionalThreshold {
		t.Fatalf("pulse not in the probabilistic band: %v", first.Info.WorthinessScore)
	}
	if first.Selected != second.Selected {
		t.Error("same seed should reproduce the roll")
	}
	if first.Info.Draw != second.Info.Draw {
		t.Error("same seed should reproduce the draw")
	}
	if first.Info.Probability <= 0 || first.Info.Probability > 1 {
		t.Errorf("probability out of range: %v", first.Info.Probability)
	}
}

func TestAdmissionProbabilityMonotone(t *testing.T) {
	// Probability of acceptance never decreases as the score rises.
	prev := -1.0
	for score := 0.4; score <= 0.8; score += 0.01 {
		p := (score - worthiness.GoodThreshold) /
			(worthiness.ExceptionalThreshold - worthiness.GoodThreshold) * 1.5
		if p > 1 {
			p = 1
		}
		if p < prev {
			t.Fatalf("acceptance probability decreased at score %v", score)
		}
		prev = p
	}
}
