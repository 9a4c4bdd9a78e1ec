package enricher

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

// Response cleaners. Chat models wrap their answers in prefixes, markdown
// fences, and explanatory prose; each field gets a cleaner that digs the
// usable value out, and the caller falls back to a deterministic value when
// nothing survives.

var (
	fenceOpenRe  = regexp.MustCompile("^```(?:json|tabular-data-json)?\\s*\n?")
	fenceCloseRe = regexp.MustCompile("\n?```\\s*$")
	fenceBlockRe = regexp.MustCompile("(?s)```(?:tabular-data-json|json)?\\s*\n(.*?)\n```")
	scoredObjRe  = regexp.MustCompile(`(?s)\{[^}]*"productivity_score"[^}]*\}`)
	anyObjRe     = regexp.MustCompile(`(?s)\{.*\}`)
	markdownRe   = regexp.MustCompile("[*_`]")
	boldRe       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe     = regexp.MustCompile(`\*([^*]+)\*`)
)

// cleanTitle extracts a usable one-line title from a model response. Empty
// return means the response was unusable.
func cleanTitle(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "TITLE:"); i >= 0 {
		s = strings.TrimSpace(s[i+len("TITLE:"):])
	}
	// Verbose models append explanations on later lines.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	for _, prefix := range []string{"Title:", "TITLE:", "title:", "SOPHISTICATED TITLE:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

var badgeVerbosePrefixes = []string{
	"PRESTIGIOUS BADGE:",
	"**PRESTIGIOUS BADGE:**",
	"Your badge:",
	"Badge:",
	"BADGE:",
	"Analysis:",
	"**Analysis:**",
}

func startsWithEmoji(word string) bool {
	if word == "" || len(word) > 8 {
		return false
	}
	for _, r := range word {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

// cleanBadge extracts an "emoji + 2-3 words" badge. Empty return means the
// response did not contain one.
func cleanBadge(raw string) string {
	s := strings.TrimSpace(raw)
	s = boldRe.ReplaceAllString(s, "$1")
	s = italicRe.ReplaceAllString(s, "$1")
	for _, prefix := range badgeVerbosePrefixes {
		if i := strings.Index(s, prefix); i >= 0 {
			s = strings.TrimSpace(s[i+len(prefix):])
		}
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•") {
			continue
		}
		line = strings.TrimSpace(markdownRe.ReplaceAllString(line, ""))
		parts := strings.Fields(line)
		if len(parts) >= 2 && len(parts) <= 4 && startsWithEmoji(parts[0]) {
			return strings.Join(parts, " ")
		}
	}
	return ""
}

// extractJSON digs a JSON object out of a chat response that may be wrapped
// in prefixes, markdown fences, or explanatory prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "RAW JSON:"); i >= 0 {
		s = strings.TrimSpace(s[i+len("RAW JSON:"):])
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "JSON:"))
	if m := fenceBlockRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	s = fenceOpenRe.ReplaceAllString(s, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	if m := scoredObjRe.FindString(s); m != "" {
		return m
	}
	if m := anyObjRe.FindString(s); m != "" {
		return m
	}
	return strings.TrimSpace(s)
}

// parseInsights cleans and decodes the insights response. The score is
// required and clamped to [1, 10]; the three text fields must be present.
func parseInsights(raw string) (*models.Insights, bool) {
	var out models.Insights
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		return nil, false
	}
	if out.KeyInsight == "" || out.NextSuggestion == "" || out.MoodAssessment == "" {
		return nil, false
	}
	if out.ProductivityScore < 1 {
		out.ProductivityScore = 1
	}
	if out.ProductivityScore > 10 {
		out.ProductivityScore = 10
	}
	return &out, true
}
