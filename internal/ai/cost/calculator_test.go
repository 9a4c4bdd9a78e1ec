package cost

import (
	"testing"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

func TestPriceKnownModels(t *testing.T) {
	calc := NewCalculator()

	// Haiku: 1000 in + 1000 out = 0.025 + 0.125 = 0.15 cents.
	got := calc.Price("anthropic.claude-3-haiku-20240307-v1:0", 1000, 1000)
	if want := models.CentsFromFloat(0.15); got != want {
		t.Errorf("haiku: got %s want %s", got, want)
	}

	// Nova lite: 2000 in + 500 out = 0.012 + 0.012 = 0.024 cents.
	got = calc.Price("us.amazon.nova-lite-v1:0", 2000, 500)
	if want := models.CentsFromFloat(0.024); got != want {
		t.Errorf("nova-lite: got %s want %s", got, want)
	}
}

func TestRegionalVariantsShareRates(t *testing.T) {
	calc := NewCalculator()
	us := calc.Price("us.amazon.nova-lite-v1:0", 1500, 400)
	eu := calc.Price("eu.amazon.nova-lite-v1:0", 1500, 400)
	apac := calc.Price("apac.amazon.nova-lite-v1:0", 1500, 400)
	if us != eu || us != apac {
		t.Errorf("regional pricing diverged: us=%s eu=%s apac=%s", us, eu, apac)
	}
}

func TestUnknownModelFallsBackToHaiku(t *testing.T) {
	calc := NewCalculator()
	unknown := calc.Price("acme.mystery-model-v9", 1000, 1000)
	haiku := calc.Price(FallbackModelID, 1000, 1000)
	if unknown != haiku {
		t.Errorf("unknown model should price as haiku: got %s want %s", unknown, haiku)
	}
}

func TestActualCostBreakdown(t *testing.T) {
	calc := NewCalculator()
	total, breakdown := calc.ActualCost("us.amazon.nova-lite-v1:0", 800, 120)
	if total != breakdown.TotalCostCents {
		t.Error("total and breakdown disagree")
	}
	if breakdown.InputCostCents+breakdown.OutputCostCents != total {
		t.Error("breakdown does not sum to total")
	}
	if breakdown.InputTokens != 800 || breakdown.OutputTokens != 120 {
		t.Error("breakdown lost token counts")
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		chars   int
		wantIn  int
		wantOut int
	}{
		{0, 1, 52},
		{3, 1, 52},
		{100, 25, 100},
		{400, 100, 250},
		{10_000, 100, 250}, // capped at 400 chars
	}
	for _, tc := range cases {
		in, out := EstimateTokens(tc.chars)
		if in != tc.wantIn || out != tc.wantOut {
			t.Errorf("%d chars: got (%d, %d) want (%d, %d)", tc.chars, in, out, tc.wantIn, tc.wantOut)
		}
	}
}

func TestEstimatePulseCoversSequence(t *testing.T) {
	calc := NewCalculator()
	single := calc.Price("us.amazon.nova-lite-v1:0", 100, 250)
	sequence := calc.EstimatePulse(400, "us.amazon.nova-lite-v1:0")
	if sequence != single*4 {
		t.Errorf("sequence estimate should be 4x the single call: got %s want %s", sequence, single*4)
	}

	// Monotone in content size.
	if calc.EstimatePulse(50, "us.amazon.nova-lite-v1:0") > calc.EstimatePulse(300, "us.amazon.nova-lite-v1:0") {
		t.Error("estimate should not decrease with more content")
	}
}
