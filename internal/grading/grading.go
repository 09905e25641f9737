// Package grading converts a raw session score into a percentage, a star
// rating and a pass flag.
package grading

import "math"

// Result is the outcome of grading one finished session.
type Result struct {
	Percentage float64 `json:"percentage"`
	Stars      int     `json:"stars"`
	Passed     bool    `json:"passed"`
}

// Policy grades a raw score out of total.
type Policy interface {
	Grade(raw, total int) Result
}

// Star and pass thresholds, in percent.
const (
	PassThreshold = 60
	MaxStars      = 3

	levelThreeStars = 90
	levelTwoStars   = 70
	levelOneStar    = 60

	legacyThreeStars = 90
	legacyTwoStars   = 75
	legacyOneStar    = 60
)

// LevelPolicy is the grading used by level-based progression.
type LevelPolicy struct{}

func (LevelPolicy) Grade(raw, total int) Result {
	pct, ok := percentage(raw, total)
	if !ok {
		return Result{}
	}
	raw = clamp(raw, total)
	return Result{
		Percentage: pct,
		Stars:      stars(raw, total, levelThreeStars, levelTwoStars, levelOneStar),
		Passed:     atLeast(raw, total, PassThreshold),
	}
}

// LegacyPolicy is the grading of the single-quiz-per-topic format. It has no
// pass gate: a finished attempt always counts as passed.
//
// Deprecated: kept to interpret old saved progress. Use LevelPolicy.
type LegacyPolicy struct{}

func (LegacyPolicy) Grade(raw, total int) Result {
	pct, ok := percentage(raw, total)
	if !ok {
		return Result{}
	}
	return Result{
		Percentage: pct,
		Stars:      stars(clamp(raw, total), total, legacyThreeStars, legacyTwoStars, legacyOneStar),
		Passed:     true,
	}
}

// Grade applies LevelPolicy.
func Grade(raw, total int) Result {
	return LevelPolicy{}.Grade(raw, total)
}

// LegacyScore converts a raw score to the legacy score out of 10.
func LegacyScore(raw, total int) int {
	pct, ok := percentage(raw, total)
	if !ok {
		return 0
	}
	return int(math.Round(pct / 10))
}

func percentage(raw, total int) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	return float64(clamp(raw, total)) / float64(total) * 100, true
}

func clamp(raw, total int) int {
	return max(0, min(raw, total))
}

// atLeast reports raw/total >= pct%, in integer arithmetic.
func atLeast(raw, total, pct int) bool {
	return raw*100 >= pct*total
}

func stars(raw, total, three, two, one int) int {
	switch {
	case atLeast(raw, total, three):
		return MaxStars
	case atLeast(raw, total, two):
		return 2
	case atLeast(raw, total, one):
		return 1
	default:
		return 0
	}
}
