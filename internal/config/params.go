package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Param keys resolved under the configured parameter prefix. These mirror the
// runtime-tunable enrichment settings so they can be flipped without a
// restart.
const (
	ParamAIEnabled        = "enabled"
	ParamBedrockModelID   = "bedrock_model_id"
	ParamMaxCostCents     = "max_cost_per_pulse_cents"
	ParamSelectionEnabled = "selection_enabled"
)

const paramTTL = 5 * time.Minute

// ParamSource supplies raw parameter values by fully-qualified key. The
// default source reads the process environment, with the key uppercased and
// slashes mapped to underscores (/pulseshrine/ai/enabled ->
// PULSESHRINE_AI_ENABLED).
type ParamSource interface {
	Lookup(key string) (string, bool)
}

type envParamSource struct{}

func (envParamSource) Lookup(key string) (string, bool) {
	name := strings.ToUpper(strings.Trim(key, "/"))
	name = strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
	return os.LookupEnv(name)
}

// Params is a read-through cache over a ParamSource with a bounded TTL, so a
// changed parameter is picked up within paramTTL without hammering the source
// on every enrichment decision.
type Params struct {
	prefix string
	source ParamSource

	mu    sync.Mutex
	cache *lru.Cache[string, paramEntry]
	now   func() time.Time
}

type paramEntry struct {
	value   string
	ok      bool
	fetched time.Time
}

// NewParams builds a parameter cache rooted at the AI parameter prefix.
func NewParams(cfg *Config, source ParamSource) *Params {
	if source == nil {
		source = envParamSource{}
	}
	cache, _ := lru.New[string, paramEntry](64)
	return &Params{
		prefix: cfg.AI.ParameterPrefix,
		source: source,
		cache:  cache,
		now:    time.Now,
	}
}

func (p *Params) get(key string) (string, bool) {
	full := p.prefix + key
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.cache.Get(full); ok && p.now().Sub(entry.fetched) < paramTTL {
		return entry.value, entry.ok
	}
	value, ok := p.source.Lookup(full)
	p.cache.Add(full, paramEntry{value: value, ok: ok, fetched: p.now()})
	return value, ok
}

// Bool resolves a boolean parameter, returning def when absent or malformed.
func (p *Params) Bool(key string, def bool) bool {
	v, ok := p.get(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring malformed boolean parameter")
		return def
	}
}

// Float resolves a numeric parameter, returning def when absent or malformed.
func (p *Params) Float(key string, def float64) float64 {
	v, ok := p.get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Ignoring malformed numeric parameter")
		return def
	}
	return f
}

// String resolves a string parameter, returning def when absent or blank.
func (p *Params) String(key, def string) string {
	v, ok := p.get(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// Invalidate drops all cached entries, forcing fresh lookups. Called on
// reload signals.
func (p *Params) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}
