package enricher

import (
	"fmt"
	"strings"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

// Token limits per call. Title and badge are short-form; insights returns a
// JSON object and needs headroom for verbose models.
const (
	titleMaxTokens    = 150
	badgeMaxTokens    = 60
	insightsMaxTokens = 600

	promptTemperature = 0.8
	promptExcerptMax  = 200
)

func excerpt(s string) string {
	if len(s) > promptExcerptMax {
		return s[:promptExcerptMax]
	}
	return s
}

func durationMinutes(p *models.StoppedPulse) float64 {
	m := float64(p.ActualDurationSeconds()) / 60
	if m < 1 {
		return 1
	}
	return m
}

func emotions(p *models.StoppedPulse) (start, end string) {
	start, end = p.IntentEmotion, p.ReflectionEmotion
	if start == "" {
		start = "focused"
	}
	if end == "" {
		end = "accomplished"
	}
	return start, end
}

func titlePrompt(p *models.StoppedPulse) string {
	start, end := emotions(p)
	return fmt.Sprintf(`Craft a sophisticated, expressive achievement title that captures the essence of this groundbreaking session:

DEEP WORK SESSION ANALYSIS:
• Activity: %s
• Duration: %.1f minutes of focused innovation
• Emotional Journey: %s mindset → %s achievement
• Key Breakthrough: %s
• Tags: %s

TITLE REQUIREMENTS:
• 50-70 characters (longer than basic titles)
• Sophisticated, professional language
• Capture specific technical achievement (not generic success)
• Include precise emotional transformation
• Reference concrete accomplishments from reflection
• Use power words: breakthrough, revolutionary, novel, pioneering
• 1 perfectly chosen emoji that matches the domain

SOPHISTICATED EXAMPLES:
• Research breakthrough: "🔬 Novel Transformer Architecture: 40%% Multimodal Leap!"
• Technical innovation: "🚀 Revolutionary AI Reasoning: Visual-Text Breakthrough!"
• Scientific advance: "🧬 Pioneering Attention Mechanisms: 2hr Research Victory!"
• Engineering feat: "⚡ Breakthrough ML Pipeline: Performance Revolution!"

Analyze the reflection deeply and create a title that a world-class researcher would be proud to share. Focus on the specific innovation described.

TITLE:`,
		excerpt(p.Intent), durationMinutes(p), start, end,
		excerpt(p.Reflection), strings.Join(p.Tags, ", "))
}

func badgePrompt(p *models.StoppedPulse) string {
	return fmt.Sprintf(`Generate a prestigious achievement badge for this session.

SESSION DETAILS:
- Work: %s
- Duration: %d minutes
- Result: %s

REQUIRED OUTPUT FORMAT:
Return ONLY the badge in this exact format:
[emoji] [Word1] [Word2]

Examples of CORRECT output:
🧠 Neural Architect
🚀 Algorithm Pioneer
📊 Data Visionary
⚡ Code Revolutionary
🔬 Research Champion

RULES:
- Start with ONE emoji
- Follow with exactly 2-3 words
- Use sophisticated terms: Pioneer, Architect, Visionary, Revolutionary, Champion, Genius, Master
- NO markdown, NO formatting, NO explanations
- NO "BADGE:" prefix
- NO analysis or extra text

Your badge:`,
		excerpt(p.Intent), int(durationMinutes(p)), excerpt(p.Reflection))
}

func insightsPrompt(p *models.StoppedPulse) string {
	start, end := emotions(p)
	shift := fmt.Sprintf("Consistent Emotional State: %s maintained throughout", start)
	if start != end {
		shift = fmt.Sprintf("Emotional Transformation: %s → %s", start, end)
	}
	return fmt.Sprintf(`Analyze this breakthrough session and return sophisticated insights as RAW JSON:

DEEP SESSION ANALYSIS:
• Core Innovation: %s
• Duration: %.1f minutes of focused excellence
• Emotional Evolution: %s → %s
• Breakthrough Details: %s
• Technical Domain: %s
%s

Generate sophisticated insights that reflect world-class expertise and breakthrough achievement.

RETURN ONLY this JSON structure with NO formatting, NO markdown, NO explanations:

{
  "productivity_score": <number 1-10 based on breakthrough significance>,
  "key_insight": "<sophisticated technical insight, max 120 chars>",
  "next_suggestion": "<expert-level next step recommendation, max 140 chars>",
  "mood_assessment": "<professional achievement assessment, max 60 chars>",
  "emotion_pattern": "<sophisticated emotional analysis, max 80 chars>"
}

Focus on the SPECIFIC technical achievement described. Use professional, research-level language.

RAW JSON:`,
		excerpt(p.Intent), durationMinutes(p), start, end,
		excerpt(p.Reflection), strings.Join(p.Tags, ", "), shift)
}
