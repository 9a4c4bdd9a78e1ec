package enrich

import (
	"strings"

	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
)

type badgeKey struct {
	category string
	level    string
}

var badges = map[badgeKey]string{
	{"workout", "epic"}:  "🏆 Fitness Warrior",
	{"workout", "grand"}: "🥇 Grand Fitness Champion",
	{"workout", "major"}: "💪 Strong Performer",
	{"workout", "minor"}: "🏃 Active Starter",
	{"workout", "micro"}: "🔸 Quick Mover",

	{"meditation", "epic"}:  "☮️ Inner Peace Champion",
	{"meditation", "grand"}: "🌌 Grand Zen Sage",
	{"meditation", "major"}: "🧘‍♀️ Zen Master",
	{"meditation", "minor"}: "🌱 Calm Initiate",
	{"meditation", "micro"}: "🫧 Mindful Moment",

	{"study", "epic"}:  "🎓 Knowledge Seeker",
	{"study", "grand"}: "🏅 Grand Scholar",
	{"study", "major"}: "📚 Learning Champion",
	{"study", "minor"}: "✏️ Study Starter",
	{"study", "micro"}: "🔖 Quick Learner",

	{"work", "epic"}:  "🚀 Productivity Hero",
	{"work", "grand"}: "🏆 Grand Productivity Master",
	{"work", "major"}: "⚡ Task Crusher",
	{"work", "minor"}: "📝 Task Initiator",
	{"work", "micro"}: "⏳ Quick Contributor",

	{"reading", "epic"}:  "📖 Reading Legend",
	{"reading", "grand"}: "🏅 Grand Bookworm",
	{"reading", "major"}: "📚 Page Turner",
	{"reading", "minor"}: "🔖 Reading Starter",
	{"reading", "micro"}: "📄 Quick Reader",

	{"creative", "epic"}:  "🎨 Creative Virtuoso",
	{"creative", "grand"}: "🏅 Grand Creator",
	{"creative", "major"}: "🖌️ Artful Achiever",
	{"creative", "minor"}: "✏️ Creative Starter",
	{"creative", "micro"}: "🪄 Quick Creator",

	{"coding", "epic"}:  "💻 Code Ninja",
	{"coding", "grand"}: "🏅 Grand Code Architect",
	{"coding", "major"}: "🛠️ Bug Slayer",
	{"coding", "minor"}: "👨‍💻 Code Starter",
	{"coding", "micro"}: "⌨️ Quick Coder",

	{"music", "epic"}:  "🎶 Maestro Supreme",
	{"music", "grand"}: "🏅 Grand Virtuoso",
	{"music", "major"}: "🎸 Music Maker",
	{"music", "minor"}: "🎵 Music Starter",
	{"music", "micro"}: "🔔 Quick Tune",

	{"cooking", "epic"}:  "👨‍🍳 Culinary Legend",
	{"cooking", "grand"}: "🏅 Grand Chef",
	{"cooking", "major"}: "🍲 Kitchen Pro",
	{"cooking", "minor"}: "🥄 Cooking Starter",
	{"cooking", "micro"}: "🍪 Quick Cook",

	{"gaming", "epic"}:  "🎮 Gaming Champion",
	{"gaming", "grand"}: "🏅 Grand Gamer",
	{"gaming", "major"}: "🕹️ Game Master",
	{"gaming", "minor"}: "🎲 Game Starter",
	{"gaming", "micro"}: "🃏 Quick Player",

	{"social", "epic"}:  "🤝 Social Star",
	{"social", "grand"}: "🏅 Grand Connector",
	{"social", "major"}: "💬 Social Achiever",
	{"social", "minor"}: "👋 Social Starter",
	{"social", "micro"}: "📱 Quick Chat",

	{"travel", "epic"}:  "🌍 World Explorer",
	{"travel", "grand"}: "🏅 Grand Traveler",
	{"travel", "major"}: "🧳 Journey Maker",
	{"travel", "minor"}: "🚗 Travel Starter",
	{"travel", "micro"}: "🗺️ Quick Trip",

	{"default", "epic"}:  "🏆 Legendary Achiever",
	{"default", "grand"}: "⭐ Grand Performer",
	{"default", "major"}: "✨ Progress Maker",
	{"default", "minor"}: "🔹 Starter",
	{"default", "micro"}: "🔸 Quick Session",
}

// emotionJourneyBadges reward a notable shift from intent to reflection
// emotion; checked before the standard table.
var emotionJourneyBadges = map[badgeKey]string{
	{"focus", "accomplished"}:  "🎯➡️🏆 Focus Champion",
	{"creation", "fulfilled"}:  "💡➡️✨ Creative Master",
	{"study", "energized"}:     "📚➡️⚡ Learning Dynamo",
	{"work", "accomplished"}:   "💼➡️🎉 Task Conqueror",
	{"frustrated", "peaceful"}: "😤➡️🕯️ Transformation Hero",
	{"tired", "energized"}:     "😴➡️⚡ Energy Transformer",
}

var highEnergyEmotions = []string{"accomplished", "fulfilled", "energized", "excited", "peaceful"}

// Badge picks the achievement badge for a pulse. Journey badges win when
// the emotions shifted; long sessions ending on a high-energy emotion earn
// an emotion master badge; everything else resolves through the standard
// (category, level) table with tier fallbacks.
func Badge(pulse *models.StoppedPulse) string {
	category := extractIntentCategory(pulse.Intent)
	level := durationLevel(pulse.DurationSeconds).Name
	startEmotion := strings.ToLower(pulse.IntentEmotion)
	endEmotion := strings.ToLower(pulse.ReflectionEmotion)

	if startEmotion != "" && endEmotion != "" {
		if startEmotion != endEmotion {
			if badge, ok := emotionJourneyBadges[badgeKey{startEmotion, endEmotion}]; ok {
				return badge
			}
		}
		if level == "epic" || level == "grand" {
			if _, ok := bestMatch(endEmotion, highEnergyEmotions, 60); ok {
				return "🌟 " + titleCase(endEmotion) + " Master"
			}
		}
	}

	if badge, ok := badges[badgeKey{category, level}]; ok {
		return badge
	}
	switch level {
	case "epic":
		return "🏆 Legendary Achiever"
	case "major":
		return "⭐ Great Performer"
	default:
		return "✨ Progress Maker"
	}
}
