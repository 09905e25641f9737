package curriculum

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const (
	catalogFileName = "periods.yaml"
	questionsDir    = "questions"
)

//go:embed data
var embedded embed.FS

//go:embed data/question.schema.json
var questionSchema []byte

// Embedded returns the question bank shipped with the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic(err) // the embed directive guarantees the directory
	}
	return sub
}

type levelKey struct {
	topicID string
	rank    int
}

// Loader loads and caches the topic catalog and question files. It is the
// static Bank implementation.
type Loader struct {
	topics    map[string]Topic
	order     []string
	questions map[levelKey][]Question
	schema    *gojsonschema.Schema
	mu        sync.RWMutex
}

// NewLoader loads the catalog and every question file found in fsys.
func NewLoader(fsys fs.FS) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(questionSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling question schema: %w", err)
	}

	l := &Loader{
		topics:    make(map[string]Topic),
		questions: make(map[levelKey][]Question),
		schema:    schema,
	}

	if err := l.loadCatalog(fsys); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}
	if err := l.loadQuestions(fsys); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded", "topics", len(l.order), "levels", len(l.questions))
	return l, nil
}

// Topics returns the catalog in global order.
func (l *Loader) Topics() []Topic {
	l.mu.RLock()
	defer l.mu.RUnlock()
	topics := make([]Topic, 0, len(l.order))
	for _, id := range l.order {
		topics = append(topics, l.topics[id])
	}
	return topics
}

// Topic returns a topic by ID.
func (l *Loader) Topic(id string) (Topic, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.topics[id]
	return t, ok
}

// Successor returns the topic that follows id in global order.
func (l *Loader) Successor(id string) (Topic, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.topics[id]
	if !ok || t.Order+1 >= len(l.order) {
		return Topic{}, false
	}
	return l.topics[l.order[t.Order+1]], true
}

// QuestionsFor returns the authored questions of a level, in authoring order.
func (l *Loader) QuestionsFor(_ context.Context, topicID string, rank int) []Question {
	l.mu.RLock()
	defer l.mu.RUnlock()
	qs := l.questions[levelKey{topicID, rank}]
	if len(qs) == 0 {
		return nil
	}
	return copyQuestions(qs)
}

// IsThemeComplete reports whether all 10 levels of the topic hold 6 questions.
func (l *Loader) IsThemeComplete(topicID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.topics[topicID]; !ok {
		return false
	}
	for rank := 1; rank <= LevelsPerTopic; rank++ {
		if len(l.questions[levelKey{topicID, rank}]) != QuestionsPerLevel {
			return false
		}
	}
	return true
}

func (l *Loader) loadCatalog(fsys fs.FS) error {
	data, err := fs.ReadFile(fsys, catalogFileName)
	if err != nil {
		return fmt.Errorf("reading %s: %w", catalogFileName, err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("parsing %s: %w", catalogFileName, err)
	}
	if len(catalog.Topics) == 0 {
		return fmt.Errorf("%s lists no topics", catalogFileName)
	}

	for _, t := range catalog.Topics {
		if t.ID == "" {
			return fmt.Errorf("%s: topic without id", catalogFileName)
		}
		if _, dup := l.topics[t.ID]; dup {
			return fmt.Errorf("%s: duplicate topic %q", catalogFileName, t.ID)
		}
		t.Order = len(l.order)
		t.Context = strings.TrimSpace(t.Context)
		l.topics[t.ID] = t
		l.order = append(l.order, t.ID)
	}
	return nil
}

func (l *Loader) loadQuestions(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, questionsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // catalog only, every level in preparation
		}
		return fmt.Errorf("reading %s: %w", questionsDir, err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		if err := l.loadQuestionFile(fsys, path.Join(questionsDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) loadQuestionFile(fsys fs.FS, p string) error {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Warn("skipping invalid question YAML", "path", p, "error", err)
		return nil
	}
	result, err := l.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		slog.Warn("skipping unreadable question file", "path", p, "error", err)
		return nil
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		slog.Warn("skipping question file failing schema", "path", p, "errors", strings.Join(reasons, "; "))
		return nil
	}

	var file questionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		slog.Warn("skipping invalid question YAML", "path", p, "error", err)
		return nil
	}
	if _, ok := l.topics[file.TopicID]; !ok {
		slog.Warn("skipping questions for unknown topic", "path", p, "topic_id", file.TopicID)
		return nil
	}

	for _, lvl := range file.Levels {
		key := levelKey{file.TopicID, lvl.Level}
		if _, dup := l.questions[key]; dup {
			slog.Warn("duplicate level definition, keeping first", "path", p, "topic_id", file.TopicID, "level", lvl.Level)
			continue
		}
		qs := make([]Question, 0, len(lvl.Questions))
		for _, q := range lvl.Questions {
			q.TopicID = file.TopicID
			q.Level = lvl.Level
			if err := q.Valid(); err != nil {
				slog.Warn("dropping invalid question", "path", p, "error", err)
				continue
			}
			qs = append(qs, q)
		}
		if len(qs) > 0 {
			l.questions[key] = qs
		}
	}
	return nil
}
