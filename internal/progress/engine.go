package progress

import (
	"errors"
	"fmt"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/grading"
)

var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrInvalidLevel = errors.New("invalid level")
	ErrLevelLocked  = errors.New("level locked")
)

// Outcome describes what one graded session changed.
type Outcome struct {
	TopicID       string         `json:"topicId"`
	Level         int            `json:"level"`
	Raw           int            `json:"raw"`
	Total         int            `json:"total"`
	Grade         grading.Result `json:"grade"`
	UnlockedLevel int            `json:"unlockedLevel,omitempty"` // rank opened in the same topic
	UnlockedTopic string         `json:"unlockedTopic,omitempty"`
	PassedLevels  int            `json:"passedLevels"`
	Mastered      bool           `json:"mastered"`
}

// ApplyGrade records a finished session of raw correct answers out of total
// on (topicID, rank) and applies the unlock rules of the current mode. The
// input is never modified; on error it is returned unchanged.
func ApplyGrade(p Progress, topicID string, rank, raw, total int, mistakes ...string) (Progress, Outcome, error) {
	if _, ok := p.Topics[topicID]; !ok {
		return p, Outcome{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topicID)
	}
	if !curriculum.ValidRank(rank) || rank > len(p.Topics[topicID].Levels) {
		return p, Outcome{}, fmt.Errorf("%w: %d", ErrInvalidLevel, rank)
	}

	raw = max(0, min(raw, total))
	g := grading.Grade(raw, total)
	out := p.Clone()
	t := out.Topics[topicID]

	lvl := &t.Levels[rank-1]
	lvl.Completed = true
	lvl.BestScore = max(lvl.BestScore, raw)
	lvl.Stars = max(lvl.Stars, g.Stars)
	lvl.Passed = lvl.Passed || g.Passed

	res := Outcome{TopicID: topicID, Level: rank, Raw: raw, Total: total, Grade: g}

	if g.Passed && rank < len(t.Levels) && !t.Levels[rank].Unlocked {
		t.Levels[rank].Unlocked = true
		res.UnlockedLevel = rank + 1
	}

	res.PassedLevels = t.PassedLevels()
	res.Mastered = res.PassedLevels >= MasteryThreshold
	t.OverallProgress = float64(res.PassedLevels) / curriculum.LevelsPerTopic * 100
	out.Topics[topicID] = t

	if res.Mastered && out.Mode.Policy() == Strict {
		if next, ok := out.Successor(topicID); ok {
			nt := out.Topics[next]
			if !nt.Unlocked || !nt.Levels[0].Unlocked {
				nt.Unlocked = true
				nt.Levels[0].Unlocked = true
				out.Topics[next] = nt
				res.UnlockedTopic = next
			}
		}
	}

	key := StatsKey(topicID, rank)
	out.Stats[key] = out.Stats[key].record(raw, g.Percentage, g.Passed, mistakes)

	return out, res, nil
}

// SelectMode switches the game mode. Open modes make every topic playable
// and every level that was played, plus the first of each topic. Going back
// to discovery rebuilds strict gating from the recorded passes.
func SelectMode(p Progress, m Mode) Progress {
	out := p.Clone()
	out.Mode = m

	ids := out.topicIDs()
	if m.Policy() == Open {
		for _, id := range ids {
			t := out.Topics[id]
			t.Unlocked = true
			for i := range t.Levels {
				l := &t.Levels[i]
				l.Unlocked = l.Completed || l.Passed || l.Rank == 1
			}
			out.Topics[id] = t
		}
		return out
	}

	prevMastered := true
	for i, id := range ids {
		t := out.Topics[id]
		t.Unlocked = i == 0 || prevMastered
		for j := range t.Levels {
			l := &t.Levels[j]
			l.Unlocked = t.Unlocked && (j == 0 || t.Levels[j-1].Passed)
		}
		out.Topics[id] = t
		prevMastered = t.Mastered()
	}
	return out
}

// Playable reports whether (topicID, rank) may be started in the current
// mode.
func Playable(p Progress, topicID string, rank int) bool {
	t, ok := p.Topics[topicID]
	if !ok {
		return false
	}
	l, ok := t.Level(rank)
	if !ok || !l.Unlocked {
		return false
	}
	return p.Mode.Policy() == Open || t.Unlocked
}

// CheckPlayable is Playable returning the reason as an error.
func CheckPlayable(p Progress, topicID string, rank int) error {
	t, ok := p.Topics[topicID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topicID)
	}
	if _, ok := t.Level(rank); !ok {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, rank)
	}
	if !Playable(p, topicID, rank) {
		return fmt.Errorf("%w: %s level %d", ErrLevelLocked, topicID, rank)
	}
	return nil
}

// Summary aggregates progress across topics.
type Summary struct {
	CompletedTopics int  `json:"completedTopics"` // topics at the mastery threshold
	TotalTopics     int  `json:"totalTopics"`
	Mode            Mode `json:"mode"`
	TotalAttempts   int  `json:"totalAttempts"`
	LevelsCompleted int  `json:"levelsCompleted"`
	TotalLevels     int  `json:"totalLevels"`
	LevelsPassed    int  `json:"levelsPassed"`
	TotalStars      int  `json:"totalStars"`
}

// CompletionRatio returns the share of passed levels, in percent.
func (s Summary) CompletionRatio() float64 {
	if s.TotalLevels == 0 {
		return 0
	}
	return float64(s.LevelsPassed) / float64(s.TotalLevels) * 100
}

// Summarize computes the aggregate counters of p.
func Summarize(p Progress) Summary {
	s := Summary{
		TotalTopics: len(p.Topics),
		Mode:        p.Mode,
	}
	for _, t := range p.Topics {
		if t.Mastered() {
			s.CompletedTopics++
		}
		for _, l := range t.Levels {
			s.TotalLevels++
			s.TotalStars += l.Stars
			if l.Completed {
				s.LevelsCompleted++
			}
			if l.Passed {
				s.LevelsPassed++
			}
		}
	}
	for _, st := range p.Stats {
		s.TotalAttempts += st.Attempts
	}
	return s
}
