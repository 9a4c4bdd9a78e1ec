package budget

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/metrics"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/worthiness"
)

// Outcome is the admission decision, as a closed set rather than exceptions.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeBudget        Outcome = "budget"
	OutcomeLowWorthiness Outcome = "low_worthiness"
	OutcomeLowRoll       Outcome = "low_roll"
	OutcomeDisabled      Outcome = "ai_disabled"
)

// Decision is the full admission result. Info is persisted verbatim in the
// archived pulse's selection trace.
type Decision struct {
	Outcome  Outcome
	Selected bool
	ModelID  string
	// EstimatedCost is for the full three-call LLM sequence.
	EstimatedCost models.Cents
	// Rewards are pre-computed for display on accept; nothing is committed
	// until the enhancement completes.
	Rewards []models.RewardGrant
	Info    models.SelectionInfo
}

// Estimator prices the three-call enhancement sequence for a pulse.
type Estimator interface {
	EstimatePulse(totalChars int, modelID string) models.Cents
}

// Controller makes admission decisions: worthiness gates value, the budget
// gates spend, and a probabilistic roll spreads mid-tier enhancements.
type Controller struct {
	service  *Service
	scorer   *worthiness.Scorer
	estimate Estimator
	params   *config.Params
	defaults config.AIConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewController wires the admission controller. seed fixes the probabilistic
// roll; 0 derives from the clock.
func NewController(service *Service, scorer *worthiness.Scorer, estimate Estimator, params *config.Params, defaults config.AIConfig, seed int64) *Controller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Controller{
		service:  service,
		scorer:   scorer,
		estimate: estimate,
		params:   params,
		defaults: defaults,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (c *Controller) roll() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64()
}

func (c *Controller) enabled() bool {
	return c.params.Bool(config.ParamAIEnabled, c.defaults.Enabled)
}

func (c *Controller) modelID() string {
	return c.params.String(config.ParamBedrockModelID, c.defaults.ModelID)
}

// MaxCostCents reports the per-pulse spend ceiling, runtime-tunable.
func (c *Controller) MaxCostCents() models.Cents {
	return models.CentsFromFloat(c.params.Float(config.ParamMaxCostCents, c.defaults.MaxCostPerPulseCents))
}

// Evaluate decides whether a stopped pulse gets the LLM path.
func (c *Controller) Evaluate(ctx context.Context, p *models.StoppedPulse) (*Decision, error) {
	score := c.scorer.Score(ctx, p)
	modelID := c.modelID()
	estimated := c.estimate.EstimatePulse(p.TotalChars(), modelID)

	d := &Decision{
		ModelID:       modelID,
		EstimatedCost: estimated,
		Info: models.SelectionInfo{
			WorthinessScore:    score,
			EstimatedCostCents: estimated,
			ModelID:            modelID,
			EvaluatedAt:        time.Now().UTC(),
		},
	}

	if !c.enabled() {
		d.Outcome = OutcomeDisabled
		d.Info.DecisionReason = "AI enhancement disabled"
		metrics.RecordAdmissionDecision("disabled")
		return d, nil
	}

	affordable, budgetReason, usage, err := c.service.CanAfford(ctx, p.UserID, estimated)
	if err != nil {
		return nil, err
	}
	status := c.service.BudgetStatus(usage)
	d.Info.BudgetStatus = &status

	if !affordable {
		d.Outcome = OutcomeBudget
		d.Info.DecisionReason = budgetReason
		d.Info.CouldBeEnhanced = true
		metrics.RecordAdmissionDecision("budget_denied")
		return d, nil
	}
	d.Info.CouldBeEnhanced = true

	switch {
	case score >= worthiness.ExceptionalThreshold:
		d.Selected = true
		d.Outcome = OutcomeAccepted
		d.Info.DecisionReason = fmt.Sprintf("Exceptional worthiness (%.3f >= %v)",
			score, worthiness.ExceptionalThreshold)

	case score >= worthiness.GoodThreshold:
		probability := (score - worthiness.GoodThreshold) /
			(worthiness.ExceptionalThreshold - worthiness.GoodThreshold)
		if probability *= 1.5; probability > 1 {
			probability = 1
		}
		draw := c.roll()
		d.Selected = draw < probability
		d.Info.Probability = probability
		d.Info.Draw = draw
		d.Info.DecisionReason = fmt.Sprintf("Good worthiness (%.3f), probability=%.3f, random=%.3f",
			score, probability, draw)
		if d.Selected {
			d.Outcome = OutcomeAccepted
		} else {
			d.Outcome = OutcomeLowRoll
		}

	default:
		d.Outcome = OutcomeLowWorthiness
		d.Info.DecisionReason = fmt.Sprintf("Low worthiness (%.3f < %v)",
			score, worthiness.GoodThreshold)
	}

	d.Info.Selected = d.Selected
	if d.Selected {
		d.Rewards = c.service.ComputeRewards(usage, p)
		metrics.RecordAdmissionDecision("selected")
	} else if d.Outcome != OutcomeBudget {
		metrics.RecordAdmissionDecision("rejected")
	}

	log.Info().
		Str("user_id", p.UserID).
		Str("pulse_id", p.PulseID).
		Str("outcome", string(d.Outcome)).
		Bool("selected", d.Selected).
		Float64("score", score).
		Str("estimated_cost", estimated.String()).
		Msg("Admission decision")

	return d, nil
}
