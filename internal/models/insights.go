package models

// Insights is the structured payload returned by the insights generation
// call. ProductivityScore is clamped to [1,10] on parse.
type Insights struct {
	ProductivityScore int    `json:"productivity_score"`
	KeyInsight        string `json:"key_insight"`
	NextSuggestion    string `json:"next_suggestion"`
	MoodAssessment    string `json:"mood_assessment"`
	EmotionPattern    string `json:"emotion_pattern,omitempty"`
}
