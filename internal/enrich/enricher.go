// Package enrich is the deterministic enrichment path: template-composed
// titles and a curated badge table, no model calls. Every admitted pulse
// that cannot or should not take the premium path still leaves with a
// non-empty title and badge.
package enrich

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

// Generator composes titles from the curated tables. Randomness is seeded
// per pulse from its id so a redelivered pulse generates the same title.
type Generator struct {
	seed int64
}

// NewGenerator builds a generator. The seed perturbs the per-pulse RNG;
// zero is fine for production, tests fix it for reproducibility.
func NewGenerator(seed int64) *Generator {
	return &Generator{seed: seed}
}

func (g *Generator) rng(pulseID string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(pulseID))
	return rand.New(rand.NewSource(int64(h.Sum64()) ^ g.seed))
}

func pick(r *rand.Rand, values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[r.Intn(len(values))]
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// sentimentAdjective resolves the title adjective, reported emotion first,
// lexical polarity of the reflection otherwise.
func sentimentAdjective(r *rand.Rand, reflection, reflectionEmotion string) string {
	if bucket, ok := emotionSentiments[strings.ToLower(reflectionEmotion)]; ok {
		if adj := pick(r, sentimentAdjectives[bucket]); adj != "" {
			return titleCase(adj)
		}
	}
	adj := pick(r, sentimentAdjectives[sentimentBucket(reflection)])
	if adj == "" {
		adj = "Neutral"
	}
	return titleCase(adj)
}

func emoji(r *rand.Rand, category, intentEmotion, reflectionEmotion string) string {
	if e, ok := emotionEmojis[strings.ToLower(reflectionEmotion)]; ok && reflectionEmotion != "" {
		return e
	}
	if e, ok := emotionEmojis[strings.ToLower(intentEmotion)]; ok && intentEmotion != "" {
		return e
	}
	pool, ok := intentEmojis[category]
	if !ok {
		pool = intentEmojis["default"]
	}
	return pick(r, pool)
}

func actionNoun(r *rand.Rand, category string) string {
	nouns, ok := intentNouns[category]
	if !ok || len(nouns) == 0 {
		return "Session"
	}
	return pick(r, nouns)
}

// durationSuffix appends session-length context to a title.
func durationSuffix(durationSeconds int64) string {
	d := durationSeconds
	switch {
	case d < 1200:
		return fmt.Sprintf(" (Quick %ds burst!)", d)
	case d < 3600:
		return fmt.Sprintf(" (%.0f min session!)", float64(d)/60)
	default:
		return fmt.Sprintf(" (%.1fh marathon!)", float64(d)/3600)
	}
}

// Title composes a gamified title for a stopped pulse.
func (g *Generator) Title(pulse *models.StoppedPulse) string {
	r := g.rng(pulse.PulseID)
	duration := pulse.ActualDurationSeconds()

	prefix := pick(r, durationLevel(duration).Prefixes)
	category := extractIntentCategory(pulse.Intent)
	adjective := sentimentAdjective(r, pulse.Reflection, pulse.ReflectionEmotion)
	noun := actionNoun(r, category)
	em := emoji(r, category, pulse.IntentEmotion, pulse.ReflectionEmotion)

	templates := []string{
		fmt.Sprintf("%s %s %s! %s", prefix, adjective, noun, em),
		fmt.Sprintf("%s %s %s %s", adjective, prefix, noun, em),
		fmt.Sprintf("%s %s & %s %s", em, prefix, adjective, noun),
		fmt.Sprintf("%s: %s and %s! %s", noun, prefix, adjective, em),
	}

	startEmotion := strings.ToLower(pulse.IntentEmotion)
	endEmotion := strings.ToLower(pulse.ReflectionEmotion)
	if startEmotion != "" && endEmotion != "" && startEmotion != endEmotion {
		templates = append(templates,
			fmt.Sprintf("%s %s → %s %s", em, titleCase(startEmotion), titleCase(endEmotion), noun),
			fmt.Sprintf("%s %s to %s Journey! %s", prefix, startEmotion, endEmotion, em),
			fmt.Sprintf("%s: %s → %s Growth %s", noun, startEmotion, endEmotion, em),
		)
	}

	return pick(r, templates) + durationSuffix(duration)
}

// Enrich produces the rule-path title and badge pair.
func (g *Generator) Enrich(pulse *models.StoppedPulse) (title, badge string) {
	return g.Title(pulse), Badge(pulse)
}
