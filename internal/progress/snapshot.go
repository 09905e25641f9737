package progress

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/grading"
)

// SnapshotVersion is the version written by Encode.
const SnapshotVersion = 2

//go:embed snapshot.schema.json
var snapshotSchemaJSON []byte

var (
	snapshotSchemaOnce sync.Once
	snapshotSchema     *gojsonschema.Schema
	snapshotSchemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	snapshotSchemaOnce.Do(func() {
		snapshotSchema, snapshotSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(snapshotSchemaJSON))
	})
	return snapshotSchema, snapshotSchemaErr
}

// Shape identifies the layout a snapshot was decoded from.
type Shape int

const (
	ShapeCurrent Shape = iota
	ShapeLegacy
)

// ErrCorruptSnapshot wraps every decoding failure.
var ErrCorruptSnapshot = errors.New("corrupt progress snapshot")

type snapshot struct {
	Version int `json:"version"`
	Progress
}

// Encode serializes p as a versioned snapshot.
func Encode(p Progress) ([]byte, error) {
	data, err := json.Marshal(snapshot{Version: SnapshotVersion, Progress: p})
	if err != nil {
		return nil, fmt.Errorf("encoding progress: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot in either the current or the legacy layout.
// order is the global topic order of the catalog; topics it names but the
// snapshot lacks are added locked. Legacy data is migrated to the current
// layout.
func Decode(data []byte, order []string) (Progress, Shape, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Progress{}, 0, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	switch {
	case hasLevels(doc):
		p, err := decodeCurrent(data, order)
		return p, ShapeCurrent, err
	case doc["gameState"] != nil, doc["periodProgress"] != nil:
		p, err := decodeLegacy(data, order)
		return p, ShapeLegacy, err
	default:
		return Progress{}, 0, fmt.Errorf("%w: unrecognised layout", ErrCorruptSnapshot)
	}
}

// hasLevels reports whether doc carries topics[*].levels arrays.
func hasLevels(doc map[string]any) bool {
	topics, ok := doc["topics"].(map[string]any)
	if !ok || len(topics) == 0 {
		return false
	}
	for _, t := range topics {
		obj, ok := t.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := obj["levels"].([]any); !ok {
			return false
		}
	}
	return true
}

func decodeCurrent(data []byte, order []string) (Progress, error) {
	schema, err := compiledSchema()
	if err != nil {
		return Progress{}, fmt.Errorf("compiling snapshot schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Progress{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return Progress{}, fmt.Errorf("%w: %s", ErrCorruptSnapshot, strings.Join(reasons, "; "))
	}

	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Progress{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	for id, t := range s.Topics {
		for i, l := range t.Levels {
			if l.Rank != i+1 {
				return Progress{}, fmt.Errorf("%w: topic %s level %d has rank %d", ErrCorruptSnapshot, id, i+1, l.Rank)
			}
			if l.Passed && !l.Completed {
				return Progress{}, fmt.Errorf("%w: topic %s level %d passed but not completed", ErrCorruptSnapshot, id, l.Rank)
			}
		}
	}

	p := s.Progress
	if p.Stats == nil {
		p.Stats = make(map[string]LevelStats)
	}
	p.Order = slices.Clone(order)
	for i, id := range order {
		if _, ok := p.Topics[id]; !ok {
			p.Topics[id] = newTopic(i == 0)
		}
	}
	return p, nil
}

// legacySnapshot is the layout saved under LegacyStorageKey. Older saves
// carry only gameState; later ones add per-level periodProgress.
type legacySnapshot struct {
	GameState struct {
		PlayerName       string   `json:"playerName"`
		AvatarColor      string   `json:"avatarColor"`
		UnlockedPeriods  []string `json:"unlockedPeriods"`
		CompletedPeriods []string `json:"completedPeriods"`
		TotalScore       int      `json:"totalScore"`
	} `json:"gameState"`
	Periods []struct {
		ID       string `json:"id"`
		Unlocked bool   `json:"unlocked"`
	} `json:"periods"`
	PeriodProgress map[string]struct {
		Levels []legacyLevel `json:"levels"`
	} `json:"periodProgress"`
	RevisionStats map[string]LevelStats `json:"revisionStats"`
}

type legacyLevel struct {
	Level     int  `json:"level"`
	Unlocked  bool `json:"unlocked"`
	Completed bool `json:"completed"`
	Passed    bool `json:"passed"`
	Score     int  `json:"score"`
	Stars     int  `json:"stars"`
}

// decodeLegacy upgrades the legacy layout. The profile, totals and per-level
// statistics carry over. Level state carries over when the save has
// periodProgress; otherwise it starts from the initial state.
func decodeLegacy(data []byte, order []string) (Progress, error) {
	var s legacySnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Progress{}, fmt.Errorf("%w: legacy layout: %v", ErrCorruptSnapshot, err)
	}

	p := New(order)
	p.LearnerName = s.GameState.PlayerName
	p.AvatarColor = s.GameState.AvatarColor
	p.Legacy = &LegacyFields{TotalScore: max(0, s.GameState.TotalScore)}
	if len(s.GameState.CompletedPeriods) > 0 {
		p.Legacy.CompletedTopics = slices.Clone(s.GameState.CompletedPeriods)
	}

	unlocked := make(map[string]bool)
	for _, id := range s.GameState.UnlockedPeriods {
		unlocked[id] = true
	}
	for _, per := range s.Periods {
		if per.Unlocked {
			unlocked[per.ID] = true
		}
	}

	for i, id := range order {
		pp, ok := s.PeriodProgress[id]
		if !ok || len(pp.Levels) == 0 {
			continue
		}
		t := newTopic(i == 0)
		t.Unlocked = t.Unlocked || unlocked[id]
		for _, l := range pp.Levels {
			if !curriculum.ValidRank(l.Level) {
				continue
			}
			t.Levels[l.Level-1] = LevelState{
				Rank:      l.Level,
				Unlocked:  l.Unlocked || (l.Level == 1 && i == 0),
				Completed: l.Completed || l.Passed,
				Passed:    l.Passed,
				BestScore: max(0, min(l.Score, curriculum.QuestionsPerLevel)),
				Stars:     max(0, min(l.Stars, grading.MaxStars)),
			}
		}
		t.OverallProgress = float64(t.PassedLevels()) / curriculum.LevelsPerTopic * 100
		p.Topics[id] = t
	}

	for _, id := range order {
		for rank := 1; rank <= curriculum.LevelsPerTopic; rank++ {
			key := StatsKey(id, rank)
			if st, ok := s.RevisionStats[key]; ok && st.Attempts > 0 {
				st.Weaknesses = slices.Clone(st.Weaknesses)
				p.Stats[key] = st
			}
		}
	}
	return p, nil
}
