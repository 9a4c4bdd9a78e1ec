// Package cost prices model invocations in fixed-point cents. Rates follow
// published per-1K-token pricing; unknown models fall back to haiku-class
// rates with a warning so a new model id never silently prices at zero.
package cost

import (
	"github.com/rs/zerolog/log"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

// FallbackModelID prices unknown models conservatively.
const FallbackModelID = "anthropic.claude-3-haiku-20240307-v1:0"

// rate is cents per 1000 tokens.
type rate struct {
	input  float64
	output float64
}

var modelRates = map[string]rate{
	"anthropic.claude-3-haiku-20240307-v1:0":  {input: 0.025, output: 0.125},
	"anthropic.claude-3-sonnet-20240229-v1:0": {input: 0.3, output: 1.5},
	"anthropic.claude-3-opus-20240229-v1:0":   {input: 1.5, output: 7.5},
	"us.amazon.nova-lite-v1:0":                {input: 0.006, output: 0.024},
	"us.amazon.nova-micro-v1:0":               {input: 0.0035, output: 0.014},
	"us.amazon.nova-pro-v1:0":                 {input: 0.08, output: 0.32},
}

// Regional variants share the us-region rates.
func init() {
	for _, region := range []string{"eu", "apac"} {
		for _, base := range []string{"nova-lite", "nova-micro", "nova-pro"} {
			modelRates[region+".amazon."+base+"-v1:0"] = modelRates["us.amazon."+base+"-v1:0"]
		}
	}
}

func rateFor(modelID string) rate {
	if r, ok := modelRates[modelID]; ok {
		return r
	}
	log.Warn().Str("model_id", modelID).Msg("Unknown model, pricing with haiku-class rates")
	return modelRates[FallbackModelID]
}

// Calculator prices estimated and observed token usage.
type Calculator struct{}

// NewCalculator returns a pricing calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Price converts a token count pair into fixed-point cents for one call.
func (c *Calculator) Price(modelID string, inputTokens, outputTokens int) models.Cents {
	r := rateFor(modelID)
	total := float64(inputTokens)/1000*r.input + float64(outputTokens)/1000*r.output
	return models.CentsFromFloat(total)
}

// Breakdown reports the per-direction split for ledger events.
type Breakdown struct {
	InputCostCents  models.Cents `json:"input_cost_cents"`
	OutputCostCents models.Cents `json:"output_cost_cents"`
	TotalCostCents  models.Cents `json:"total_cost_cents"`
	InputTokens     int          `json:"input_tokens"`
	OutputTokens    int          `json:"output_tokens"`
	ModelID         string       `json:"model_id"`
}

// ActualCost prices observed usage and returns the per-direction breakdown.
func (c *Calculator) ActualCost(modelID string, inputTokens, outputTokens int) (models.Cents, Breakdown) {
	r := rateFor(modelID)
	input := models.CentsFromFloat(float64(inputTokens) / 1000 * r.input)
	output := models.CentsFromFloat(float64(outputTokens) / 1000 * r.output)
	return input + output, Breakdown{
		InputCostCents:  input,
		OutputCostCents: output,
		TotalCostCents:  input + output,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		ModelID:         modelID,
	}
}

// Token estimation for the three-call enhancement sequence. Content length
// is capped so an estimate never balloons past what the prompts actually
// carry.
const (
	estimateCharCap     = 400
	charsPerToken       = 4
	outputTokenBase     = 50
	outputTokenCap      = 300
	callsPerEnhancement = 4
)

// EstimateTokens derives the per-call token estimates from content size.
func EstimateTokens(totalChars int) (inputTokens, outputTokens int) {
	if totalChars > estimateCharCap {
		totalChars = estimateCharCap
	}
	inputTokens = (totalChars + charsPerToken - 1) / charsPerToken
	if inputTokens < 1 {
		inputTokens = 1
	}
	outputTokens = outputTokenBase + 2*inputTokens
	if outputTokens > outputTokenCap {
		outputTokens = outputTokenCap
	}
	return inputTokens, outputTokens
}

// EstimatePulse prices the full enhancement sequence for a pulse of the
// given content size. Satisfies the admission controller's estimator.
func (c *Calculator) EstimatePulse(totalChars int, modelID string) models.Cents {
	inputTokens, outputTokens := EstimateTokens(totalChars)
	return c.Price(modelID, inputTokens, outputTokens) * callsPerEnhancement
}
