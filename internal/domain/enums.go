package domain

import "fmt"

// State is the state-machine tag stored on a session. The machine is driven
// one discrete user action at a time; StateEnd terminates one invocation and
// the surrounding driver re-enters StateInitial for the next interaction.
type State string

const (
	StateInitial          State = "initial"
	StateSelectCategory   State = "select_category"
	StateSelectTopic      State = "select_topic"
	StateSetProgramLength State = "set_program_length"
	StateConfirmProgram   State = "confirm_program"
	StateDeliverDaily     State = "deliver_daily_content"
	StateJustChat         State = "just_chat"
	StateSOSSupport       State = "sos_support"
	StateViewProgress     State = "view_progress"
	StateEnd              State = "end"
)

// Category is the program category selected at the start of an interaction.
type Category string

const (
	CategoryDevotion       Category = "devotion"
	CategoryPrayer         Category = "prayer"
	CategoryMeditation     Category = "meditation"
	CategoryAccountability Category = "accountability"
	CategoryJustChat       Category = "just_chat"
	CategoryProgress       Category = "view_progress"
)

// Categories lists all selectable categories in menu order.
var Categories = []Category{
	CategoryDevotion,
	CategoryPrayer,
	CategoryMeditation,
	CategoryAccountability,
	CategoryJustChat,
	CategoryProgress,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// NeedsTopic reports whether the category requires a topic selection before
// a program length can be chosen. Chat and the progress dashboard short-
// circuit the program flow entirely.
func (c Category) NeedsTopic() bool {
	return c != CategoryJustChat && c != CategoryProgress
}

// Title returns the user-facing label for the category.
func (c Category) Title() string {
	switch c {
	case CategoryDevotion:
		return "Daily Devotion"
	case CategoryPrayer:
		return "Daily Prayer"
	case CategoryMeditation:
		return "Daily Meditation"
	case CategoryAccountability:
		return "Daily Accountability"
	case CategoryJustChat:
		return "Just Chat"
	case CategoryProgress:
		return "View Progress"
	}
	return string(c)
}

// topicsByCategory fixes the selectable topics per program category. The
// trailing free-form option ("Something else...") of the menu UI is expressed
// by accepting any non-empty topic string; these lists only drive validation
// of the numbered choices.
var topicsByCategory = map[Category][]string{
	CategoryDevotion: {
		"Dealing with Stress", "Overcoming Fear", "Conquering Depression",
		"Relationships", "Healing", "Purpose & Calling", "Anxiety",
	},
	CategoryPrayer: {
		"Personal Growth", "Healing", "Family/Friends",
		"Forgiveness", "Finances", "Work/Career",
	},
	CategoryMeditation: {
		"Peace", "God's Presence", "Strength", "Wisdom", "Faith",
	},
	CategoryAccountability: {
		"Pornography", "Alcohol", "Drugs", "Sex", "Addiction", "Laziness",
	},
}

// TopicsFor returns the predefined topics for a category (nil when the
// category takes no topic).
func TopicsFor(c Category) []string { return topicsByCategory[c] }

// ContentKind selects how devotion content is delivered.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentVideo ContentKind = "video"
	ContentBoth  ContentKind = "both"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentText, ContentVideo, ContentBoth:
		return true
	}
	return false
}

// ProgramLengths is the fixed set of allowed program lengths in days.
var ProgramLengths = []int{1, 7, 14, 30}

// ValidProgramLength reports whether n is one of the allowed lengths.
func ValidProgramLength(n int) bool {
	for _, l := range ProgramLengths {
		if n == l {
			return true
		}
	}
	return false
}

// dayThemes is the predefined thematic progression for the first seven days
// of any program. Days beyond the progression fall back to a generic label;
// a 30-day program intentionally repeats no theme beyond these seven.
var dayThemes = map[int]string{
	1: "introduction and foundation",
	2: "deepening understanding",
	3: "practical application",
	4: "overcoming challenges",
	5: "spiritual growth",
	6: "community and relationships",
	7: "reflection and future direction",
}

// DayTheme returns the thematic label used to differentiate generated
// content across days.
func DayTheme(day int) string {
	if t, ok := dayThemes[day]; ok {
		return t
	}
	return fmt.Sprintf("day %d specific focus", day)
}
