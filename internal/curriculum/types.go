package curriculum

import "fmt"

const (
	// LevelsPerTopic is the fixed number of difficulty levels in every topic.
	LevelsPerTopic = 10
	// QuestionsPerLevel is the size of a complete level.
	QuestionsPerLevel = 6
	// OptionsPerQuestion is the number of answer options of every question.
	OptionsPerQuestion = 4
)

// Topic is one historical period of the revision programme.
type Topic struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	NameEn      string `yaml:"name_en" json:"nameEn"`
	Era         string `yaml:"era" json:"era"`
	Description string `yaml:"description" json:"description"`
	Color       string `yaml:"color" json:"color"`
	Context     string `yaml:"context" json:"-"` // used to prompt the generator
	Order       int    `yaml:"-" json:"order"`
}

// Question is an immutable multiple-choice item.
type Question struct {
	ID            string   `yaml:"id" json:"id"`
	Text          string   `yaml:"question" json:"question"`
	Options       []string `yaml:"options" json:"options"`
	CorrectAnswer int      `yaml:"correct_answer" json:"correctAnswer"`
	Explanation   string   `yaml:"explanation" json:"explanation"`
	TopicID       string   `yaml:"-" json:"topicId"`
	Level         int      `yaml:"-" json:"level"`
}

// IsCorrect reports whether option is the canonical answer.
func (q Question) IsCorrect(option int) bool {
	return option == q.CorrectAnswer
}

// Valid checks the authoring invariants of a question.
func (q Question) Valid() error {
	if q.Text == "" {
		return fmt.Errorf("question %s has no text", q.ID)
	}
	if len(q.Options) != OptionsPerQuestion {
		return fmt.Errorf("question %s has %d options, want %d", q.ID, len(q.Options), OptionsPerQuestion)
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
		return fmt.Errorf("question %s correct answer %d out of range", q.ID, q.CorrectAnswer)
	}
	return nil
}

// Tier is the difficulty band of a level rank.
type Tier int

const (
	TierEasy Tier = iota
	TierMedium
	TierHard
	TierExpert
)

func (t Tier) String() string {
	switch t {
	case TierEasy:
		return "easy"
	case TierMedium:
		return "medium"
	case TierHard:
		return "hard"
	case TierExpert:
		return "expert"
	default:
		return "unknown"
	}
}

// Label is the French display name shown to learners.
func (t Tier) Label() string {
	switch t {
	case TierEasy:
		return "Facile"
	case TierMedium:
		return "Moyen"
	case TierHard:
		return "Difficile"
	default:
		return "Expert"
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	for _, c := range []Tier{TierEasy, TierMedium, TierHard, TierExpert} {
		if c.String() == string(text) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", text)
}

// DifficultyTier derives the tier from a level rank: 1-3 easy, 4-6 medium,
// 7-8 hard, 9-10 expert.
func DifficultyTier(rank int) Tier {
	switch {
	case rank <= 3:
		return TierEasy
	case rank <= 6:
		return TierMedium
	case rank <= 8:
		return TierHard
	default:
		return TierExpert
	}
}

// ValidRank reports whether rank addresses a level.
func ValidRank(rank int) bool {
	return rank >= 1 && rank <= LevelsPerTopic
}

// catalogFile is the on-disk shape of periods.yaml.
type catalogFile struct {
	Topics []Topic `yaml:"topics"`
}

// questionFile is the on-disk shape of questions/<topic>.yaml.
type questionFile struct {
	TopicID string      `yaml:"topic_id"`
	Levels  []levelFile `yaml:"levels"`
}

type levelFile struct {
	Level     int        `yaml:"level"`
	Questions []Question `yaml:"questions"`
}
