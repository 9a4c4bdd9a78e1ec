// Package worthiness scores a stopped pulse's expected enrichment value in
// [0,1]. The score is a fixed linear combination of content length, session
// duration, reflection depth, and daily engagement; each component is
// monotone non-decreasing in its input.
package worthiness

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

// Component weights. Length dominates because it tracks user effort most
// directly.
const (
	weightLength    = 0.4
	weightDuration  = 0.3
	weightDepth     = 0.2
	weightFrequency = 0.1
)

// Admission thresholds shared with the budget controller.
const (
	ExceptionalThreshold = 0.8
	GoodThreshold        = 0.4
)

var breakthroughWords = []string{
	"breakthrough", "innovation", "revolutionary", "novel", "pioneering",
	"discovery", "groundbreaking", "cutting-edge", "advanced", "sophisticated",
	"exceptional", "remarkable", "extraordinary", "unprecedented", "milestone",
	"achievement", "success", "triumph", "victory", "accomplishment",
}

// Ordered scan: the first matching domain contributes, subsequent ones are
// ignored.
var technicalDomains = []struct {
	name     string
	keywords []string
}{
	{"ai_ml", []string{
		"ai", "artificial intelligence", "machine learning", "ml", "neural",
		"deep learning", "transformer", "algorithm", "model", "training",
		"inference", "data science",
	}},
	{"research", []string{
		"research", "study", "analysis", "investigation", "experiment",
		"hypothesis", "methodology", "findings", "results", "conclusion",
		"publication",
	}},
	{"engineering", []string{
		"engineering", "development", "coding", "programming", "software",
		"system", "architecture", "design", "implementation", "optimization",
		"performance",
	}},
	{"creative", []string{
		"creative", "design", "art", "writing", "content", "visual",
		"aesthetic", "inspiration", "imagination", "artistic",
		"innovative design",
	}},
	{"business", []string{
		"strategy", "planning", "meeting", "presentation", "analysis",
		"decision", "leadership", "management", "collaboration", "teamwork",
	}},
}

var positiveEmotions = []string{
	"accomplished", "fulfilled", "energized", "breakthrough", "innovative",
	"creative", "excited", "motivated", "inspired", "confident", "proud",
	"satisfied", "successful", "triumphant", "exhilarated",
}

var negativeEmotions = []string{
	"frustrated", "tired", "stuck", "confused", "overwhelmed", "disappointed",
	"discouraged", "stressed", "anxious", "blocked",
}

var eliteEmotions = []string{"breakthrough", "innovative", "accomplished", "exhilarated"}

var actionVerbs = []string{
	"implemented", "developed", "created", "built", "designed", "achieved",
	"completed", "solved", "optimized", "improved",
}

var (
	metricPattern     = regexp.MustCompile(`\d+(?:\.\d+)?(?:%|percent|hours?|minutes?|seconds?|mb|gb|tb|kb)`)
	technicalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b\w+(?:API|SDK|ML|AI|DB|SQL|HTTP|JSON|XML|CSS|HTML|JS)\b`),
		regexp.MustCompile(`(?i)\b(?:algorithm|architecture|framework|methodology|implementation)\b`),
		regexp.MustCompile(`(?i)\b(?:performance|optimization|efficiency|scalability|reliability)\b`),
	}
)

// DailyCounter reports how many pulses a user completed today. The budget
// service provides it; unknown counts fall back to a moderate bonus.
type DailyCounter interface {
	DailyPulseCount(ctx context.Context, userID string) (int, error)
}

// Scorer computes worthiness scores.
type Scorer struct {
	counter DailyCounter
}

// NewScorer builds a scorer. counter may be nil, in which case the frequency
// component always uses the moderate default.
func NewScorer(counter DailyCounter) *Scorer {
	return &Scorer{counter: counter}
}

// Score computes the worthiness of a stopped pulse, capped at 1.0.
func (s *Scorer) Score(ctx context.Context, p *models.StoppedPulse) float64 {
	length := lengthScore(len(p.Intent) + len(p.Reflection))
	duration := durationScore(p.ActualDurationSeconds())
	depth := depthScore(p.Intent, p.Reflection, p.IntentEmotion, p.ReflectionEmotion)
	frequency := s.frequencyBonus(ctx, p.UserID)

	score := length*weightLength + duration*weightDuration +
		depth*weightDepth + frequency*weightFrequency

	log.Debug().
		Str("user_id", p.UserID).
		Str("pulse_id", p.PulseID).
		Float64("length", length).
		Float64("duration", duration).
		Float64("depth", depth).
		Float64("frequency", frequency).
		Float64("total", score).
		Msg("Worthiness computed")

	return math.Min(1.0, score)
}

// Explanation breaks the score down per component for decision traces.
type Explanation struct {
	Total      float64            `json:"total"`
	Components map[string]float64 `json:"components"`
}

// Explain returns the per-component breakdown used for trace records.
func (s *Scorer) Explain(ctx context.Context, p *models.StoppedPulse) Explanation {
	components := map[string]float64{
		"content_length":   lengthScore(len(p.Intent) + len(p.Reflection)),
		"duration":         durationScore(p.ActualDurationSeconds()),
		"reflection_depth": depthScore(p.Intent, p.Reflection, p.IntentEmotion, p.ReflectionEmotion),
		"frequency_bonus":  s.frequencyBonus(ctx, p.UserID),
	}
	return Explanation{Total: s.Score(ctx, p), Components: components}
}

func lengthScore(totalChars int) float64 {
	n := float64(totalChars)
	switch {
	case n >= 350:
		return 1.0
	case n >= 250:
		return 0.8 + (n-250)/100*0.2
	case n >= 150:
		return 0.5 + (n-150)/100*0.3
	case n >= 50:
		return 0.2 + (n-50)/100*0.3
	default:
		return n / 50 * 0.2
	}
}

func durationScore(actualSeconds int64) float64 {
	m := float64(actualSeconds) / 60
	switch {
	case m >= 90:
		return 1.0
	case m >= 60:
		return 0.8 + (m-60)/30*0.2
	case m >= 30:
		return 0.6 + (m-30)/30*0.2
	case m >= 20:
		return 0.4 + (m-20)/10*0.2
	case m >= 10:
		return 0.2 + (m-10)/10*0.2
	default:
		return m / 10 * 0.2
	}
}

func depthScore(intent, reflection, intentEmotion, reflectionEmotion string) float64 {
	content := strings.ToLower(intent + " " + reflection)
	score := 0.0

	breakthroughCount := lo.CountBy(breakthroughWords, func(w string) bool {
		return strings.Contains(content, w)
	})
	score += math.Min(0.3, float64(breakthroughCount)*0.1)

	for _, domain := range technicalDomains {
		matches := lo.CountBy(domain.keywords, func(k string) bool {
			return strings.Contains(content, k)
		})
		if matches > 0 {
			score += math.Min(0.2, float64(matches)*0.05)
			break
		}
	}

	score += emotionScore(intentEmotion, reflectionEmotion)
	score += specificityScore(content)

	return math.Min(1.0, score)
}

func emotionScore(startEmotion, endEmotion string) float64 {
	start := strings.ToLower(startEmotion)
	end := strings.ToLower(endEmotion)
	score := 0.0

	if lo.Contains(positiveEmotions, end) {
		score += 0.15
	}
	if lo.Contains(negativeEmotions, start) && lo.Contains(positiveEmotions, end) {
		score += 0.15
	}
	if lo.Contains(eliteEmotions, end) {
		score += 0.1
	}
	return score
}

func specificityScore(content string) float64 {
	score := 0.0

	if metricPattern.MatchString(content) {
		score += 0.05
	}
	for _, pattern := range technicalPatterns {
		if pattern.MatchString(content) {
			score += 0.03
		}
	}

	longSentences := 0
	for _, sentence := range strings.Split(content, ".") {
		if len(strings.TrimSpace(sentence)) > 80 {
			longSentences++
		}
	}
	if longSentences >= 2 {
		score += 0.05
	}

	actionCount := lo.CountBy(actionVerbs, func(v string) bool {
		return strings.Contains(content, v)
	})
	score += math.Min(0.05, float64(actionCount)*0.02)

	return score
}

func (s *Scorer) frequencyBonus(ctx context.Context, userID string) float64 {
	if s.counter == nil {
		return 0.5
	}
	count, err := s.counter.DailyPulseCount(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Daily pulse count unavailable, using moderate bonus")
		return 0.5
	}
	n := float64(count)
	switch {
	case count >= 5:
		return 1.0
	case count >= 3:
		return 0.7 + (n-3)*0.15
	case count >= 2:
		return 0.5 + (n-2)*0.2
	case count >= 1:
		return 0.3
	default:
		return 0.5
	}
}
