package providers

import (
	"github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/config"
	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
)

// Model-id patterns routed to the anthropic-style dialect; anything else
// goes through the openai-compatible endpoint.
var anthropicPatterns = []string{
	"*anthropic.claude*",
	"claude-*",
	"*.anthropic.*",
}

func isAnthropicModel(modelID string) bool {
	for _, pattern := range anthropicPatterns {
		if wildcard.Match(pattern, modelID) {
			return true
		}
	}
	return false
}

// Router resolves a model id to the provider client that can serve it.
type Router struct {
	anthropic Provider
	openai    Provider
}

// NewRouter builds the provider router from the AI configuration.
func NewRouter(cfg config.AIConfig) *Router {
	return &Router{
		anthropic: NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicURL),
		openai:    NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
	}
}

// NewRouterWith injects explicit providers, for tests and stubs.
func NewRouterWith(anthropic, openai Provider) *Router {
	return &Router{anthropic: anthropic, openai: openai}
}

// For returns the provider serving the given model id.
func (r *Router) For(modelID string) (Provider, error) {
	if modelID == "" {
		return nil, pserrors.Newf(pserrors.KindValidation, "providers.for", "model id is required")
	}
	if isAnthropicModel(modelID) {
		return r.anthropic, nil
	}
	return r.openai, nil
}
