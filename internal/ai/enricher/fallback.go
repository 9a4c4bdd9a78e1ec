package enricher

import (
	"fmt"
	"strings"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

// Deterministic per-field fallbacks. Used when a model answered but the
// response survived no cleaner; the other fields keep their generated values.

var emotionEmojis = map[string]string{
	"focus": "🎯", "focused": "🎯",
	"creation": "💡", "creative": "💡",
	"study": "📚", "learning": "📚",
	"work": "💼", "productive": "💼",
	"brainstorm": "🧠", "thinking": "🧠",
	"reflection": "🤔", "contemplative": "🤔",
	"energized": "⚡", "excited": "⚡",
	"accomplished": "🏆", "fulfilled": "🏆",
	"peaceful": "🕯️", "calm": "🕯️",
	"grounded": "🌿", "centered": "🌿",
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func fallbackTitle(p *models.StoppedPulse) string {
	start, end := emotions(p)
	emoji, ok := emotionEmojis[strings.ToLower(end)]
	if !ok {
		if emoji, ok = emotionEmojis[strings.ToLower(start)]; !ok {
			emoji = "⚡"
		}
	}
	if start != end {
		return fmt.Sprintf("%s %s → %s", emoji, p.Intent, titleWord(end))
	}
	return fmt.Sprintf("%s %s %s Session", emoji, titleWord(start), p.Intent)
}

// Keyword scan order matters only within a category; the first hit wins.
var activityEmojis = []struct {
	keyword string
	emoji   string
}{
	{"code", "💻"}, {"programming", "💻"}, {"development", "💻"}, {"software", "💻"},
	{"research", "🔬"},
	{"study", "📚"}, {"learning", "📚"},
	{"analysis", "🔍"},
	{"design", "🎨"}, {"creative", "🎨"}, {"art", "🎨"}, {"visual", "🎨"},
	{"writing", "✍️"}, {"content", "✍️"}, {"blog", "✍️"}, {"documentation", "✍️"},
	{"meeting", "🤝"}, {"collaboration", "🤝"}, {"team", "🤝"}, {"discussion", "🤝"},
	{"planning", "📋"}, {"strategy", "📋"}, {"organizing", "📋"}, {"project", "📋"},
}

var emotionBadgeWords = map[string]string{
	"breakthrough": "Breakthrough",
	"accomplished": "Champion",
	"fulfilled":    "Master",
	"energized":    "Dynamo",
	"innovative":   "Pioneer",
	"creative":     "Genius",
	"focused":      "Laser",
	"productive":   "Machine",
	"successful":   "Hero",
}

func fallbackBadge(p *models.StoppedPulse) string {
	_, end := emotions(p)
	activity := strings.ToLower(p.Intent + " " + p.Reflection)

	emoji := "⚡"
	for _, a := range activityEmojis {
		if strings.Contains(activity, a.keyword) {
			emoji = a.emoji
			break
		}
	}

	word := emotionBadgeWords[strings.ToLower(end)]
	if word == "" {
		word = "Achiever"
	}

	var domain string
	switch {
	case strings.Contains(activity, "code") || strings.Contains(activity, "programming"):
		domain = "Code"
	case strings.Contains(activity, "research") || strings.Contains(activity, "analysis"):
		domain = "Research"
	case strings.Contains(activity, "design") || strings.Contains(activity, "creative"):
		domain = "Creative"
	case strings.Contains(activity, "writing"):
		domain = "Writing"
	case strings.Contains(activity, "learning") || strings.Contains(activity, "study"):
		domain = "Learning"
	default:
		domain = "Productivity"
	}

	return fmt.Sprintf("%s %s %s", emoji, domain, word)
}

var fallbackSuggestions = map[string]string{
	"frustrated":   "Try shorter sessions or clearer goals next time",
	"tired":        "Consider taking breaks or adjusting session timing",
	"accomplished": "Great work! Try increasing session length gradually",
	"energized":    "Channel this energy into your next challenge",
	"peaceful":     "This calm state is perfect for reflection sessions",
	"focused":      "Excellent focus! Maintain this momentum",
}

func fallbackInsights(p *models.StoppedPulse) *models.Insights {
	start, end := emotions(p)
	minutes := durationMinutes(p)

	score := int(minutes / 6)
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	switch end {
	case "accomplished", "fulfilled", "energized", "peaceful":
		if score < 10 {
			score++
		}
	}

	var keyInsight, pattern string
	if start != end {
		keyInsight = fmt.Sprintf("Emotional journey: %s → %s in %.0fmin", start, end, minutes)
		pattern = fmt.Sprintf("%s evolved to %s", start, end)
	} else {
		keyInsight = fmt.Sprintf("Maintained %s energy for %.0fmin", start, minutes)
		pattern = fmt.Sprintf("Consistent %s state", start)
	}

	suggestion := fallbackSuggestions[end]
	if suggestion == "" {
		suggestion = "Continue building on this positive momentum"
	}

	return &models.Insights{
		ProductivityScore: score,
		KeyInsight:        keyInsight,
		NextSuggestion:    suggestion,
		MoodAssessment:    fmt.Sprintf("%s with %s foundation", end, start),
		EmotionPattern:    pattern,
	}
}
