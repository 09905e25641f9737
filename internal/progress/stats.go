package progress

import (
	"fmt"
	"math"
	"slices"
)

// LevelStats are the revision statistics of one level across attempts.
type LevelStats struct {
	Attempts       int      `json:"attempts"`
	BestScore      int      `json:"bestScore"`
	LastScore      int      `json:"lastScore"`
	AverageScore   int      `json:"averageScore"`
	BestPercentage float64  `json:"bestPercentage"`
	Weaknesses     []string `json:"weaknesses"`
	Passed         bool     `json:"passed"`
}

// StatsKey is the key of a level in Progress.Stats.
func StatsKey(topicID string, rank int) string {
	return fmt.Sprintf("%s-%d", topicID, rank)
}

// record folds one attempt into the statistics. The running average is kept
// rounded, so it drifts the same way it always has for saved data.
func (s LevelStats) record(raw int, pct float64, passed bool, mistakes []string) LevelStats {
	attempts := s.Attempts + 1
	avg := (float64(s.AverageScore*s.Attempts) + float64(raw)) / float64(attempts)

	out := LevelStats{
		Attempts:       attempts,
		BestScore:      max(s.BestScore, raw),
		LastScore:      raw,
		AverageScore:   int(math.Round(avg)),
		BestPercentage: max(s.BestPercentage, pct),
		Weaknesses:     slices.Clone(s.Weaknesses),
		Passed:         s.Passed || passed,
	}
	for _, m := range mistakes {
		if m != "" && !slices.Contains(out.Weaknesses, m) {
			out.Weaknesses = append(out.Weaknesses, m)
		}
	}
	return out
}
