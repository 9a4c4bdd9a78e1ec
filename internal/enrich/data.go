package enrich

// Curated generation tables. Category names line up with the badge table in
// badges.go; intensity levels partition session duration into five bands.

// IntensityLevel is one duration band with its title prefixes.
type IntensityLevel struct {
	Name        string
	MinDuration int64 // seconds, inclusive
	MaxDuration int64 // seconds, exclusive
	Prefixes    []string
}

// intensityLevels is ordered; classification takes the first band with
// min <= d < max and falls back to the first when none matches.
var intensityLevels = []IntensityLevel{
	{
		Name:        "micro",
		MinDuration: 0,
		MaxDuration: 60,
		Prefixes:    []string{"Quick", "Swift", "Snappy", "Rapid"},
	},
	{
		Name:        "minor",
		MinDuration: 60,
		MaxDuration: 300,
		Prefixes:    []string{"Solid", "Steady", "Honest", "Focused"},
	},
	{
		Name:        "major",
		MinDuration: 300,
		MaxDuration: 1800,
		Prefixes:    []string{"Mighty", "Strong", "Serious", "Deep"},
	},
	{
		Name:        "grand",
		MinDuration: 1800,
		MaxDuration: 5400,
		Prefixes:    []string{"Grand", "Epic", "Heroic", "Relentless"},
	},
	{
		Name:        "epic",
		MinDuration: 5400,
		MaxDuration: 86400 * 365,
		Prefixes:    []string{"Legendary", "Monumental", "Titanic", "Unstoppable"},
	},
}

func durationLevel(durationSeconds int64) IntensityLevel {
	for _, level := range intensityLevels {
		if level.MinDuration <= durationSeconds && durationSeconds < level.MaxDuration {
			return level
		}
	}
	return intensityLevels[0]
}

// intentNouns maps an activity category to the nouns a title can celebrate.
var intentNouns = map[string][]string{
	"workout":    {"Workout", "Training", "Sweat Session", "Exercise"},
	"meditation": {"Meditation", "Mindfulness", "Stillness", "Breathing"},
	"study":      {"Study Session", "Learning", "Revision", "Deep Dive"},
	"work":       {"Work Sprint", "Grind", "Task Run", "Focus Block"},
	"reading":    {"Reading", "Book Time", "Page Run", "Chapter Sprint"},
	"creative":   {"Creation", "Art Session", "Design Run", "Making"},
	"coding":     {"Coding Session", "Hack", "Build", "Debugging Run"},
	"music":      {"Jam Session", "Practice", "Rehearsal", "Composition"},
	"cooking":    {"Cooking", "Kitchen Run", "Meal Prep", "Baking"},
	"gaming":     {"Gaming Session", "Play", "Match", "Campaign"},
	"social":     {"Catch-Up", "Conversation", "Gathering", "Connection"},
	"travel":     {"Journey", "Exploration", "Trip", "Adventure"},
	"default":    {"Session", "Effort", "Pursuit", "Endeavor"},
}

// intentEmojis maps a category to its emoji pool, consulted when no emotion
// overrides the choice.
var intentEmojis = map[string][]string{
	"workout":    {"💪", "🏋️", "🏃"},
	"meditation": {"🧘", "☮️", "🌿"},
	"study":      {"📚", "🎓", "✏️"},
	"work":       {"💼", "⚡", "🚀"},
	"reading":    {"📖", "📚", "🔖"},
	"creative":   {"🎨", "💡", "🖌️"},
	"coding":     {"💻", "⌨️", "🛠️"},
	"music":      {"🎵", "🎶", "🎸"},
	"cooking":    {"🍲", "👨‍🍳", "🥄"},
	"gaming":     {"🎮", "🕹️", "🎲"},
	"social":     {"🤝", "💬", "👋"},
	"travel":     {"🌍", "🧳", "🗺️"},
	"default":    {"✨", "🌟", "⭐"},
}

// synonyms maps common free-form words to a category.
var synonyms = map[string]string{
	"exercise":      "workout",
	"gym":           "workout",
	"running":       "workout",
	"fitness":       "workout",
	"yoga":          "meditation",
	"breathe":       "meditation",
	"mindfulness":   "meditation",
	"homework":      "study",
	"revision":      "study",
	"lecture":       "study",
	"meeting":       "work",
	"email":         "work",
	"report":        "work",
	"novel":         "reading",
	"book":          "reading",
	"article":       "reading",
	"painting":      "creative",
	"drawing":       "creative",
	"writing":       "creative",
	"sketching":     "creative",
	"programming":   "coding",
	"debugging":     "coding",
	"refactoring":   "coding",
	"development":   "coding",
	"guitar":        "music",
	"piano":         "music",
	"singing":       "music",
	"baking":        "cooking",
	"recipe":        "cooking",
	"dinner":        "cooking",
	"videogame":     "gaming",
	"playthrough":   "gaming",
	"friends":       "social",
	"family":        "social",
	"networking":    "social",
	"hiking":        "travel",
	"sightseeing":   "travel",
	"roadtrip":      "travel",
	"concentration": "default",
}

// activityKeywords is the final classification fallback: a substring or
// near-match on the keyword resolves to the category.
var activityKeywords = []struct {
	keyword  string
	category string
}{
	{"work", "work"},
	{"study", "study"},
	{"learn", "study"},
	{"read", "reading"},
	{"create", "creative"},
	{"write", "creative"},
	{"code", "coding"},
	{"program", "coding"},
	{"design", "creative"},
	{"think", "meditation"},
	{"meditate", "meditation"},
	{"plan", "work"},
	{"organize", "work"},
	{"exercise", "workout"},
	{"workout", "workout"},
	{"run", "workout"},
	{"cook", "cooking"},
	{"play", "gaming"},
	{"travel", "travel"},
}

// sentimentAdjectives maps a polarity bucket to title adjectives.
var sentimentAdjectives = map[string][]string{
	"very_positive":    {"Triumphant", "Glorious", "Phenomenal", "Stellar"},
	"positive":         {"Great", "Strong", "Uplifting", "Rewarding"},
	"neutral_positive": {"Good", "Pleasant", "Decent", "Promising"},
	"neutral":          {"Steady", "Quiet", "Calm", "Even"},
	"neutral_negative": {"Rocky", "Uneven", "Sluggish", "Muted"},
	"negative":         {"Tough", "Draining", "Frustrating", "Heavy"},
	"very_negative":    {"Brutal", "Grueling", "Punishing", "Crushing"},
}

// emotionSentiments biases sentiment selection when the user reported how
// the session ended.
var emotionSentiments = map[string]string{
	"accomplished":  "very_positive",
	"fulfilled":     "very_positive",
	"energized":     "positive",
	"excited":       "positive",
	"peaceful":      "neutral_positive",
	"calm":          "neutral_positive",
	"focused":       "neutral_positive",
	"grounded":      "neutral_positive",
	"centered":      "neutral_positive",
	"contemplative": "neutral",
	"tired":         "neutral_negative",
	"frustrated":    "negative",
}

// emotionEmojis overrides the category emoji when an emotion is reported;
// the reflection emotion wins over the intent one.
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
	"frustrated": "😤", "tired": "😴",
}
