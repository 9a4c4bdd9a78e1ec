package budget

import (
	"context"
	"testing"
	"time"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
)

type fixedPlans struct{ plan string }

func (f fixedPlans) Plan(context.Context, string) string { return f.plan }

func newTestService(t *testing.T, plan string) *Service {
	t.Helper()
	s, err := store.NewSQLite(store.DefaultSQLiteConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	svc, err := NewService(s, "ai_usage_tracking", fixedPlans{plan: plan})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func testPulse(durationSeconds int64, reflection string) *models.StoppedPulse {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return &models.StoppedPulse{
		StartedPulse: models.StartedPulse{
			UserID:          "u1",
			PulseID:         "p1",
			Intent:          "work session",
			StartTime:       start,
			DurationSeconds: durationSeconds,
		},
		Reflection: reflection,
		StoppedAt:  start.Add(time.Duration(durationSeconds) * time.Second),
	}
}

func TestFreshUsageGetsTierBonus(t *testing.T) {
	svc := newTestService(t, models.PlanPremium)
	usage, err := svc.GetOrCreateUsage(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if usage.UserTier != models.PlanPremium {
		t.Errorf("tier: got %s", usage.UserTier)
	}
	if usage.DailyAICredits != models.CentsFromInt(2) {
		t.Errorf("premium bonus credits: got %s", usage.DailyAICredits)
	}
	if usage.DailyCostCents != 0 {
		t.Error("fresh day should have zero spend")
	}
	if usage.ExpiresAt == 0 {
		t.Error("usage record should carry a retention expiry")
	}
}

func TestCanAffordFreeTier(t *testing.T) {
	svc := newTestService(t, models.PlanFree)
	ctx := context.Background()

	// Free tier: 5¢ daily, 30¢ monthly, no bonus credits.
	ok, reason, _, err := svc.CanAfford(ctx, "bob", models.CentsFromInt(4))
	if err != nil {
		t.Fatalf("can afford: %v", err)
	}
	if !ok || reason != "Budget available" {
		t.Fatalf("4¢ should fit the free daily budget, got %q", reason)
	}

	ok, reason, _, err = svc.CanAfford(ctx, "bob", models.CentsFromInt(6))
	if err != nil {
		t.Fatalf("can afford: %v", err)
	}
	if ok || reason != "Daily budget exceeded" {
		t.Fatalf("6¢ should exceed the free daily budget, got ok=%v reason=%q", ok, reason)
	}
}

func TestCanAffordMonthlyCap(t *testing.T) {
	svc := newTestService(t, models.PlanFree)
	ctx := context.Background()

	// Spend the month out through commits.
	for i := 0; i < 6; i++ {
		if _, _, err := svc.CommitEnhancement(ctx, "carol", models.CentsFromInt(5), nil); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	usage, err := svc.GetOrCreateUsage(ctx, "carol")
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if usage.MonthlyCostCents != models.CentsFromInt(30) {
		t.Fatalf("monthly spend: got %s", usage.MonthlyCostCents)
	}

	ok, reason, _, err := svc.CanAfford(ctx, "carol", models.CentsFromInt(1))
	if err != nil {
		t.Fatalf("can afford: %v", err)
	}
	if ok || reason != "Monthly budget exceeded" {
		t.Fatalf("at-cap user should be blocked, got ok=%v reason=%q", ok, reason)
	}
}

func TestCanAffordWouldExceedMonthly(t *testing.T) {
	svc := newTestService(t, models.PlanFree)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, _, err := svc.CommitEnhancement(ctx, "dora", models.CentsFromInt(7), nil); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	// 28¢ of 30¢ used; a 3¢ job would cross the cap.
	ok, reason, _, err := svc.CanAfford(ctx, "dora", models.CentsFromInt(3))
	if err != nil {
		t.Fatalf("can afford: %v", err)
	}
	if ok || reason != "Would exceed monthly budget" {
		t.Fatalf("got ok=%v reason=%q", ok, reason)
	}
}

func TestCommitAccruesRewardsOnce(t *testing.T) {
	svc := newTestService(t, models.PlanUnlimited)
	ctx := context.Background()

	pulse := testPulse(2*3600+60, "a breakthrough in the indexing layer")
	grants, usage, err := svc.CommitEnhancement(ctx, "erin", models.CentsFromInt(1), pulse)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	byID := map[string]models.RewardGrant{}
	for _, g := range grants {
		byID[g.ID] = g
	}
	first, ok := byID["first_ai_enhancement"]
	if !ok {
		t.Fatal("first enhancement reward missing")
	}
	if first.Message != "🤖 Welcome to AI enhancement!" || first.Achievement != "ai_apprentice" {
		t.Errorf("unexpected first-enhancement grant: %+v", first)
	}
	if _, ok := byID["long_session"]; !ok {
		t.Error("2h session should trigger long_session")
	}
	if _, ok := byID["breakthrough_words"]; !ok {
		t.Error("breakthrough wording should trigger its reward")
	}

	// Credits accrued: unlimited bonus 25 + 5 + 3 + 1.
	wantCredits := models.CentsFromInt(25 + 5 + 3 + 1)
	if usage.DailyAICredits != wantCredits {
		t.Errorf("daily credits: got %s want %s", usage.DailyAICredits, wantCredits)
	}
	if usage.TotalAIEnhancements != 1 || usage.DailyPulsesEnhanced != 1 {
		t.Errorf("counters: total=%d daily=%d", usage.TotalAIEnhancements, usage.DailyPulsesEnhanced)
	}
	if len(usage.Achievements) != 1 || usage.Achievements[0] != "ai_apprentice" {
		t.Errorf("achievements: %v", usage.Achievements)
	}

	// Second commit: first-enhancement reward must not repeat.
	grants, usage, err = svc.CommitEnhancement(ctx, "erin", models.CentsFromInt(1), nil)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	for _, g := range grants {
		if g.ID == "first_ai_enhancement" {
			t.Error("first enhancement reward granted twice")
		}
	}
	if usage.TotalAIEnhancements != 2 {
		t.Errorf("total after second commit: %d", usage.TotalAIEnhancements)
	}
	if usage.DailyCostCents != models.CentsFromInt(2) {
		t.Errorf("daily cost after two 1¢ commits: %s", usage.DailyCostCents)
	}
}

func TestEnthusiastMilestone(t *testing.T) {
	svc := newTestService(t, models.PlanUnlimited)
	ctx := context.Background()

	var lastGrants []models.RewardGrant
	for i := 0; i < 10; i++ {
		var err error
		lastGrants, _, err = svc.CommitEnhancement(ctx, "finn", 0, nil)
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	found := false
	for _, g := range lastGrants {
		if g.ID == "ai_enthusiast" {
			found = true
			if g.Credits != models.CentsFromInt(5) || g.Achievement != "ai_enthusiast" {
				t.Errorf("unexpected enthusiast grant: %+v", g)
			}
		}
	}
	if !found {
		t.Error("10th enhancement should grant ai_enthusiast")
	}
}

func TestCarryForwardAcrossDays(t *testing.T) {
	svc := newTestService(t, models.PlanPremium)
	ctx := context.Background()

	day1 := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }
	if _, _, err := svc.CommitEnhancement(ctx, "gail", models.CentsFromInt(4), nil); err != nil {
		t.Fatalf("day1 commit: %v", err)
	}

	svc.now = func() time.Time { return day1.AddDate(0, 0, 1) }
	usage, err := svc.GetOrCreateUsage(ctx, "gail")
	if err != nil {
		t.Fatalf("day2 usage: %v", err)
	}
	if usage.DailyCostCents != 0 {
		t.Error("daily spend should reset on a new day")
	}
	if usage.MonthlyCostCents != models.CentsFromInt(4) {
		t.Errorf("monthly spend should carry: got %s", usage.MonthlyCostCents)
	}
	if usage.TotalAIEnhancements != 1 {
		t.Errorf("lifetime count should carry: got %d", usage.TotalAIEnhancements)
	}
	if usage.StreakDays != 2 {
		t.Errorf("consecutive day should extend the streak: got %d", usage.StreakDays)
	}

	// Next month: monthly totals reset, lifetime count persists.
	svc.now = func() time.Time { return time.Date(2025, 7, 2, 12, 0, 0, 0, time.UTC) }
	usage, err = svc.GetOrCreateUsage(ctx, "gail")
	if err != nil {
		t.Fatalf("next month usage: %v", err)
	}
	if usage.MonthlyCostCents != 0 {
		t.Errorf("monthly spend should reset across months: got %s", usage.MonthlyCostCents)
	}
	if usage.TotalAIEnhancements != 1 {
		t.Errorf("lifetime count lost across months: got %d", usage.TotalAIEnhancements)
	}
}

func TestDailyPulseCount(t *testing.T) {
	svc := newTestService(t, models.PlanFree)
	ctx := context.Background()

	count, err := svc.DailyPulseCount(ctx, "hank")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("no enhancements should floor at 1, got %d", count)
	}

	if _, _, err := svc.CommitEnhancement(ctx, "hank", 0, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	count, err = svc.DailyPulseCount(ctx, "hank")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 8 {
		t.Errorf("one enhancement should estimate 8 pulses, got %d", count)
	}
}

func TestCommitFinishesUnderDeadline(t *testing.T) {
	svc := newTestService(t, models.PlanPremium)

	// Seed yesterday so the commit path has a history scan to tempt it
	// with. The store serializes on a single connection, so any store read
	// issued while the commit transaction is open never returns; a bounded
	// context turns that hang into a failure instead.
	day1 := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }
	if _, _, err := svc.CommitEnhancement(context.Background(), "iris", models.CentsFromInt(1), nil); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	svc.now = func() time.Time { return day1.AddDate(0, 0, 1) }
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, usage, err := svc.CommitEnhancement(ctx, "iris", models.CentsFromInt(2), nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if usage.DailyCostCents != models.CentsFromInt(2) {
		t.Errorf("daily spend: got %s", usage.DailyCostCents)
	}
	if usage.MonthlyCostCents != models.CentsFromInt(3) {
		t.Errorf("monthly spend should include yesterday: got %s", usage.MonthlyCostCents)
	}
}
