// Package progress holds the learner progress aggregate and the pure rules
// that move a learner through topics and levels.
package progress

import (
	"maps"
	"slices"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
)

// MasteryThreshold is the number of passed levels that opens the next topic.
const MasteryThreshold = 8

// LevelState is the progression state of one level.
type LevelState struct {
	Rank      int  `json:"rank"`
	Unlocked  bool `json:"unlocked"`
	Completed bool `json:"completed"`
	Passed    bool `json:"passed"`
	BestScore int  `json:"bestScore"`
	Stars     int  `json:"stars"`
}

// TopicProgress is the progression state of one topic.
type TopicProgress struct {
	Unlocked        bool         `json:"unlocked"`
	OverallProgress float64      `json:"overallProgress"`
	Levels          []LevelState `json:"levels"`
}

// PassedLevels counts the passed levels of the topic.
func (t TopicProgress) PassedLevels() int {
	n := 0
	for _, l := range t.Levels {
		if l.Passed {
			n++
		}
	}
	return n
}

// Level returns the state of the level with the given rank.
func (t TopicProgress) Level(rank int) (LevelState, bool) {
	if !curriculum.ValidRank(rank) || rank > len(t.Levels) {
		return LevelState{}, false
	}
	return t.Levels[rank-1], true
}

// Mastered reports whether the topic reached the mastery threshold.
func (t TopicProgress) Mastered() bool {
	return t.PassedLevels() >= MasteryThreshold
}

func (t TopicProgress) clone() TopicProgress {
	t.Levels = slices.Clone(t.Levels)
	return t
}

// LegacyFields carries totals of the single-quiz-per-topic format.
type LegacyFields struct {
	TotalScore      int      `json:"totalScore"`
	CompletedTopics []string `json:"completedTopics,omitempty"`
}

// Progress is the learner progress aggregate. Treat values as immutable and
// change them through the transition functions, which return copies.
type Progress struct {
	LearnerName string                   `json:"learnerName"`
	AvatarColor string                   `json:"avatarColor"`
	Mode        Mode                     `json:"mode"`
	Topics      map[string]TopicProgress `json:"topics"`
	Stats       map[string]LevelStats    `json:"stats"`
	Legacy      *LegacyFields            `json:"legacyFields,omitempty"`

	// Order is the global topic order. It comes from the catalog and is not
	// persisted.
	Order []string `json:"-"`
}

// New returns the initial progress over topicIDs, given in global order:
// level 1 of the first topic is the only unlocked level.
func New(topicIDs []string) Progress {
	p := Progress{
		Topics: make(map[string]TopicProgress, len(topicIDs)),
		Stats:  make(map[string]LevelStats),
		Order:  slices.Clone(topicIDs),
	}
	for i, id := range topicIDs {
		p.Topics[id] = newTopic(i == 0)
	}
	return p
}

func newTopic(first bool) TopicProgress {
	t := TopicProgress{
		Unlocked: first,
		Levels:   make([]LevelState, curriculum.LevelsPerTopic),
	}
	for i := range t.Levels {
		t.Levels[i].Rank = i + 1
	}
	t.Levels[0].Unlocked = first
	return t
}

// Clone returns a deep copy.
func (p Progress) Clone() Progress {
	out := p
	out.Order = slices.Clone(p.Order)
	out.Topics = make(map[string]TopicProgress, len(p.Topics))
	for id, t := range p.Topics {
		out.Topics[id] = t.clone()
	}
	out.Stats = make(map[string]LevelStats, len(p.Stats))
	for k, s := range p.Stats {
		s.Weaknesses = slices.Clone(s.Weaknesses)
		out.Stats[k] = s
	}
	if p.Legacy != nil {
		legacy := *p.Legacy
		legacy.CompletedTopics = slices.Clone(legacy.CompletedTopics)
		out.Legacy = &legacy
	}
	return out
}

// HasLearner reports whether a learner profile was created.
func (p Progress) HasLearner() bool {
	return p.LearnerName != ""
}

// Topic returns the progress of a topic.
func (p Progress) Topic(id string) (TopicProgress, bool) {
	t, ok := p.Topics[id]
	return t, ok
}

// Successor returns the topic after id in global order.
func (p Progress) Successor(id string) (string, bool) {
	i := slices.Index(p.Order, id)
	if i < 0 || i+1 >= len(p.Order) {
		return "", false
	}
	return p.Order[i+1], true
}

// UnlockedLevels counts unlocked levels across every topic.
func (p Progress) UnlockedLevels() int {
	n := 0
	for _, t := range p.Topics {
		for _, l := range t.Levels {
			if l.Unlocked {
				n++
			}
		}
	}
	return n
}

// WithLearner returns a copy carrying the learner profile.
func (p Progress) WithLearner(name, color string) Progress {
	out := p.Clone()
	out.LearnerName = name
	out.AvatarColor = color
	return out
}

// topicIDs returns the topics of p, in global order first.
func (p Progress) topicIDs() []string {
	ids := make([]string, 0, len(p.Topics))
	for _, id := range p.Order {
		if _, ok := p.Topics[id]; ok {
			ids = append(ids, id)
		}
	}
	for _, id := range slices.Sorted(maps.Keys(p.Topics)) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}
