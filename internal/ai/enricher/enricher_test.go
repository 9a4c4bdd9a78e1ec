package enricher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/ai/cost"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/ai/providers"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

type stubProvider struct {
	name     string
	probeErr error
	chat     func(req providers.ChatRequest) (*providers.ChatResponse, error)
	calls    int
}

func (s *stubProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.calls++
	return s.chat(req)
}

func (s *stubProvider) Probe(context.Context, string) error { return s.probeErr }
func (s *stubProvider) Name() string                        { return s.name }

type staticParams map[string]string

func (s staticParams) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

func testPulse() *models.StoppedPulse {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.StoppedPulse{
		StartedPulse: models.StartedPulse{
			UserID:          "user-1",
			PulseID:         "pulse-1",
			Intent:          "Refactor the ingestion worker pool",
			StartTime:       start,
			DurationSeconds: 3600,
			IntentEmotion:   "focused",
			Tags:            []string{"engineering"},
		},
		Reflection:        "Finished the redesign and cut tail latency in half",
		ReflectionEmotion: "accomplished",
		StoppedAt:         start.Add(time.Hour),
	}
}

const goodInsightsJSON = `{"productivity_score": 8, "key_insight": "Worker pool redesign paid off",` +
	` "next_suggestion": "Profile the new hot path", "mood_assessment": "strong finish",` +
	` "emotion_pattern": "focused to accomplished"}`

func respondByPrompt(req providers.ChatRequest) (*providers.ChatResponse, error) {
	prompt := req.Messages[0].Content
	resp := &providers.ChatResponse{Model: req.Model, InputTokens: 100, OutputTokens: 40}
	switch {
	case strings.Contains(prompt, "RAW JSON"):
		resp.Content = goodInsightsJSON
	case strings.Contains(prompt, "badge"):
		resp.Content = "🚀 Pipeline Champion"
	default:
		resp.Content = "⚡ Worker Pool Revolution: Latency Breakthrough!"
	}
	return resp, nil
}

func newEnricher(anthropic, openai providers.Provider, params staticParams) *Enricher {
	cfg := config.Defaults()
	return New(
		providers.NewRouterWith(anthropic, openai),
		cost.NewCalculator(),
		config.NewParams(cfg, params),
		cfg.AI,
	)
}

func TestEnrichHappyPath(t *testing.T) {
	openai := &stubProvider{name: "openai", chat: respondByPrompt}
	anthropic := &stubProvider{name: "anthropic", chat: respondByPrompt}
	e := newEnricher(anthropic, openai, staticParams{})

	result, err := e.Enrich(context.Background(), testPulse())
	require.NoError(t, err)

	// Default model is nova-class, served by the openai-compatible client.
	assert.Equal(t, "us.amazon.nova-lite-v1:0", result.ModelID)
	assert.Equal(t, 3, openai.calls)
	assert.Equal(t, 0, anthropic.calls)

	assert.Equal(t, "⚡ Worker Pool Revolution: Latency Breakthrough!", result.Title)
	assert.Equal(t, "🚀 Pipeline Champion", result.Badge)
	require.NotNil(t, result.Insights)
	assert.Equal(t, 8, result.Insights.ProductivityScore)
	assert.Equal(t, "Worker pool redesign paid off", result.Insights.KeyInsight)

	assert.Equal(t, 300, result.InputTokens)
	assert.Equal(t, 120, result.OutputTokens)
	expected, _ := cost.NewCalculator().ActualCost(result.ModelID, 300, 120)
	assert.Equal(t, expected, result.ActualCost)
	assert.Greater(t, int64(result.ActualCost), int64(0))
}

func TestEnrichModelFallbackOnProbeFailure(t *testing.T) {
	openai := &stubProvider{name: "openai", probeErr: errors.New("endpoint down"), chat: respondByPrompt}
	anthropic := &stubProvider{name: "anthropic", chat: respondByPrompt}
	e := newEnricher(anthropic, openai, staticParams{})

	result, err := e.Enrich(context.Background(), testPulse())
	require.NoError(t, err)

	// Configured nova model fails its probe; the chain lands on haiku.
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", result.ModelID)
	assert.Equal(t, 3, anthropic.calls)
	assert.Equal(t, 0, openai.calls)
}

func TestEnrichAllModelsUnavailable(t *testing.T) {
	down := errors.New("region outage")
	openai := &stubProvider{name: "openai", probeErr: down, chat: respondByPrompt}
	anthropic := &stubProvider{name: "anthropic", probeErr: down, chat: respondByPrompt}
	e := newEnricher(anthropic, openai, staticParams{})

	_, err := e.Enrich(context.Background(), testPulse())
	require.Error(t, err)
	assert.Equal(t, pserrors.KindModelUnavailable, pserrors.KindOf(err))
}

func TestEnrichCallFailureAborts(t *testing.T) {
	openai := &stubProvider{name: "openai", chat: func(req providers.ChatRequest) (*providers.ChatResponse, error) {
		if strings.Contains(req.Messages[0].Content, "RAW JSON") {
			return nil, pserrors.Newf(pserrors.KindModelUnavailable, "providers.chat", "throttled")
		}
		return respondByPrompt(req)
	}}
	anthropic := &stubProvider{name: "anthropic", chat: respondByPrompt}
	e := newEnricher(anthropic, openai, staticParams{})

	_, err := e.Enrich(context.Background(), testPulse())
	require.Error(t, err)
	assert.Equal(t, pserrors.KindModelUnavailable, pserrors.KindOf(err))
}

func TestEnrichUnparseableInsightsFallsBack(t *testing.T) {
	openai := &stubProvider{name: "openai", chat: func(req providers.ChatRequest) (*providers.ChatResponse, error) {
		if strings.Contains(req.Messages[0].Content, "RAW JSON") {
			return &providers.ChatResponse{Content: "I cannot produce JSON right now, sorry."}, nil
		}
		return respondByPrompt(req)
	}}
	anthropic := &stubProvider{name: "anthropic", chat: respondByPrompt}
	e := newEnricher(anthropic, openai, staticParams{})

	result, err := e.Enrich(context.Background(), testPulse())
	require.NoError(t, err)

	assert.Equal(t, "⚡ Worker Pool Revolution: Latency Breakthrough!", result.Title)
	require.NotNil(t, result.Insights)
	assert.Equal(t, "Emotional journey: focused → accomplished in 60min", result.Insights.KeyInsight)
	assert.Equal(t, "Great work! Try increasing session length gradually", result.Insights.NextSuggestion)
}

func TestEnrichRefusesAbovePerPulseLimit(t *testing.T) {
	openai := &stubProvider{name: "openai", chat: respondByPrompt}
	anthropic := &stubProvider{name: "anthropic", chat: respondByPrompt}
	e := newEnricher(anthropic, openai, staticParams{
		"/pulseshrine/ai/max_cost_per_pulse_cents": "0.00001",
	})

	_, err := e.Enrich(context.Background(), testPulse())
	require.Error(t, err)
	assert.Equal(t, pserrors.KindBudgetExceeded, pserrors.KindOf(err))
	assert.Equal(t, 0, openai.calls)
	assert.Equal(t, 0, anthropic.calls)
}

func TestEnrichHonorsParameterModelOverride(t *testing.T) {
	openai := &stubProvider{name: "openai", chat: respondByPrompt}
	anthropic := &stubProvider{name: "anthropic", chat: respondByPrompt}
	e := newEnricher(anthropic, openai, staticParams{
		"/pulseshrine/ai/bedrock_model_id": "anthropic.claude-3-haiku-20240307-v1:0",
	})

	result, err := e.Enrich(context.Background(), testPulse())
	require.NoError(t, err)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", result.ModelID)
	assert.Equal(t, 3, anthropic.calls)
}
