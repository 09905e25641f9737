package app

import (
	"fmt"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
)

// TopicView is a topic with the learner's standing in it.
type TopicView struct {
	curriculum.Topic
	Playable        bool    `json:"playable"`
	InPreparation   bool    `json:"inPreparation"`
	Mastered        bool    `json:"mastered"`
	PassedLevels    int     `json:"passedLevels"`
	OverallProgress float64 `json:"overallProgress"`
}

// LevelView is a level with its progression state.
type LevelView struct {
	progress.LevelState
	Tier      curriculum.Tier `json:"tier"`
	TierLabel string          `json:"tierLabel"`
	Playable  bool            `json:"playable"`
}

// Topics lists the catalog in global order.
func (s *Service) Topics() []TopicView {
	p := s.Progress()

	topics := s.bank.Topics()
	out := make([]TopicView, 0, len(topics))
	for _, t := range topics {
		tp, _ := p.Topic(t.ID)
		out = append(out, TopicView{
			Topic:           t,
			Playable:        tp.Unlocked || p.Mode.Policy() == progress.Open,
			InPreparation:   !s.bank.IsThemeComplete(t.ID),
			Mastered:        tp.Mastered(),
			PassedLevels:    tp.PassedLevels(),
			OverallProgress: tp.OverallProgress,
		})
	}
	return out
}

// Levels lists the ten levels of a topic.
func (s *Service) Levels(topicID string) ([]LevelView, error) {
	p := s.Progress()

	tp, ok := p.Topic(topicID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", progress.ErrUnknownTopic, topicID)
	}
	out := make([]LevelView, 0, len(tp.Levels))
	for _, l := range tp.Levels {
		tier := curriculum.DifficultyTier(l.Rank)
		out = append(out, LevelView{
			LevelState: l,
			Tier:       tier,
			TierLabel:  tier.Label(),
			Playable:   progress.Playable(p, topicID, l.Rank),
		})
	}
	return out, nil
}
