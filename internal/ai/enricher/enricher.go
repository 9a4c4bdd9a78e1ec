// Package enricher runs the premium enrichment path: three sequential model
// calls producing a title, a badge, and structured insights for a stopped
// pulse. Model availability is probed with a fallback chain, responses go
// through per-field cleaners, and observed token counts feed actual-cost
// accounting. A transport or model failure aborts the whole run so the
// caller can demote to the rule path; a merely unusable response degrades
// only the affected field.
package enricher

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/ai/cost"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/ai/providers"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/metrics"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

// fallbackModels is tried in order when the configured model fails its
// probe. Haiku-class first since it is universally available.
var fallbackModels = []string{
	"anthropic.claude-3-haiku-20240307-v1:0",
	"us.amazon.nova-lite-v1:0",
	"eu.amazon.nova-lite-v1:0",
	"apac.amazon.nova-lite-v1:0",
}

// Result is the outcome of a successful enrichment run.
type Result struct {
	Title    string
	Badge    string
	Insights *models.Insights

	// ModelID is the model that actually served the calls, which may
	// differ from the configured one after probe fallback.
	ModelID string

	ActualCost   models.Cents
	InputTokens  int
	OutputTokens int
}

// Enricher drives the three-call enhancement sequence.
type Enricher struct {
	router *providers.Router
	calc   *cost.Calculator
	params *config.Params
	ai     config.AIConfig
}

func New(router *providers.Router, calc *cost.Calculator, params *config.Params, ai config.AIConfig) *Enricher {
	return &Enricher{router: router, calc: calc, params: params, ai: ai}
}

// modelID resolves the configured model, parameter store first.
func (e *Enricher) modelID() string {
	return e.params.String(config.ParamBedrockModelID, e.ai.ModelID)
}

func (e *Enricher) maxCostCents() models.Cents {
	limit := e.params.Float(config.ParamMaxCostCents, e.ai.MaxCostPerPulseCents)
	return models.CentsFromFloat(limit)
}

// resolveModel probes the configured model and walks the fallback chain
// until one answers. Exhausting the chain is a ModelUnavailable error.
func (e *Enricher) resolveModel(ctx context.Context, preferred string) (string, error) {
	const op = "enricher.resolve_model"

	candidates := make([]string, 0, len(fallbackModels)+1)
	candidates = append(candidates, preferred)
	for _, m := range fallbackModels {
		if m != preferred {
			candidates = append(candidates, m)
		}
	}

	var lastErr error
	for _, model := range candidates {
		provider, err := e.router.For(model)
		if err != nil {
			lastErr = err
			continue
		}
		if err := provider.Probe(ctx, model); err != nil {
			if ctx.Err() != nil {
				return "", pserrors.New(pserrors.KindModelUnavailable, op, ctx.Err())
			}
			log.Warn().Str("model_id", model).Err(err).Msg("Model probe failed, trying next")
			lastErr = err
			continue
		}
		if model != preferred {
			log.Warn().Str("model_id", model).Str("preferred", preferred).Msg("Falling back to model")
		}
		return model, nil
	}
	return "", pserrors.New(pserrors.KindModelUnavailable, op, lastErr)
}

// call runs one chat completion and accumulates observed token usage into
// the result. Token counts fall back to char/4 when the provider reports
// none.
func (e *Enricher) call(ctx context.Context, model, prompt string, maxTokens int, out *Result) (string, error) {
	provider, err := e.router.For(model)
	if err != nil {
		return "", err
	}
	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: promptTemperature,
		Messages:    []providers.Message{{Role: "user", Content: prompt}},
	})
	metrics.RecordLLMCall(model, err)
	if err != nil {
		return "", err
	}
	in, outTok := resp.InputTokens, resp.OutputTokens
	if in == 0 {
		in = len(prompt) / 4
	}
	if outTok == 0 {
		outTok = len(resp.Content) / 4
	}
	out.InputTokens += in
	out.OutputTokens += outTok
	return resp.Content, nil
}

// Enrich runs the full sequence for one stopped pulse. Any provider error
// aborts and returns; callers treat that as a demotion signal. Unusable
// responses degrade to deterministic fallbacks per field.
func (e *Enricher) Enrich(ctx context.Context, pulse *models.StoppedPulse) (*Result, error) {
	const op = "enricher.enrich"

	preferred := e.modelID()
	totalChars := len(pulse.Intent) + len(pulse.Reflection)
	if est := e.calc.EstimatePulse(totalChars, preferred); est > e.maxCostCents() {
		return nil, pserrors.Newf(pserrors.KindBudgetExceeded, op,
			"estimated cost %s cents exceeds per-pulse limit %s", est, e.maxCostCents()).
			WithPulse(pulse.PulseID).WithUser(pulse.UserID)
	}

	model, err := e.resolveModel(ctx, preferred)
	if err != nil {
		return nil, err
	}

	result := &Result{ModelID: model}

	raw, err := e.call(ctx, model, titlePrompt(pulse), titleMaxTokens, result)
	if err != nil {
		return nil, err
	}
	result.Title = cleanTitle(raw)
	if result.Title == "" {
		log.Warn().Str("pulse_id", pulse.PulseID).Msg("Unusable title response, using fallback")
		result.Title = fallbackTitle(pulse)
	}

	raw, err = e.call(ctx, model, badgePrompt(pulse), badgeMaxTokens, result)
	if err != nil {
		return nil, err
	}
	result.Badge = cleanBadge(raw)
	if result.Badge == "" {
		log.Warn().Str("pulse_id", pulse.PulseID).Msg("Unusable badge response, using fallback")
		result.Badge = fallbackBadge(pulse)
	}

	raw, err = e.call(ctx, model, insightsPrompt(pulse), insightsMaxTokens, result)
	if err != nil {
		return nil, err
	}
	insights, ok := parseInsights(raw)
	if !ok {
		log.Warn().Str("pulse_id", pulse.PulseID).Msg("Unparseable insights response, using fallback")
		insights = fallbackInsights(pulse)
	}
	result.Insights = insights

	actual, breakdown := e.calc.ActualCost(model, result.InputTokens, result.OutputTokens)
	result.ActualCost = actual
	log.Debug().
		Str("pulse_id", pulse.PulseID).
		Str("model_id", model).
		Int("input_tokens", breakdown.InputTokens).
		Int("output_tokens", breakdown.OutputTokens).
		Str("cost_cents", actual.String()).
		Msg("Enhancement sequence complete")
	return result, nil
}
