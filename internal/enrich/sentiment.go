package enrich

import "strings"

// Lexical polarity scoring for reflection text. Each matched token
// contributes its weight; the score is the mean over matches, clamped to
// [-1, 1], then bucketed with fixed thresholds.

var polarityLexicon = map[string]float64{
	"amazing": 1.0, "incredible": 1.0, "breakthrough": 1.0, "phenomenal": 1.0,
	"excellent": 0.9, "fantastic": 0.9, "wonderful": 0.9, "thrilled": 0.9,
	"great": 0.8, "accomplished": 0.8, "proud": 0.8, "love": 0.8,
	"good": 0.6, "productive": 0.6, "solid": 0.6, "happy": 0.6,
	"nice": 0.5, "pleasant": 0.5, "progress": 0.5, "better": 0.4,
	"fine": 0.2, "okay": 0.2, "ok": 0.2, "decent": 0.3,
	"slow": -0.3, "boring": -0.4, "tired": -0.4, "stuck": -0.5,
	"bad": -0.6, "hard": -0.3, "difficult": -0.3, "struggled": -0.5,
	"frustrated": -0.7, "frustrating": -0.7, "annoying": -0.6, "failed": -0.7,
	"awful": -0.9, "terrible": -0.9, "horrible": -1.0, "miserable": -0.9,
	"hate": -0.8, "worst": -1.0, "useless": -0.8, "hopeless": -0.9,
}

func polarity(text string) float64 {
	if text == "" {
		return 0
	}
	var sum float64
	var n int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if w, ok := polarityLexicon[word]; ok {
			sum += w
			n++
		}
	}
	if n == 0 {
		return 0
	}
	p := sum / float64(n)
	if p > 1 {
		return 1
	}
	if p < -1 {
		return -1
	}
	return p
}

func sentimentBucket(text string) string {
	p := polarity(text)
	switch {
	case p >= 0.7:
		return "very_positive"
	case p >= 0.3:
		return "positive"
	case p >= 0.1:
		return "neutral_positive"
	case p >= -0.1:
		return "neutral"
	case p >= -0.3:
		return "neutral_negative"
	case p >= -0.7:
		return "negative"
	default:
		return "very_negative"
	}
}
