package app_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/app"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/events"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/quiz"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/storage"
)

// stubBank serves six questions whose correct answer is always option 0 for
// every level of "ww1" and "totalitarian", and nothing for "ww2".
type stubBank struct{}

var stubTopics = []curriculum.Topic{
	{ID: "ww1", Name: "Première Guerre mondiale", Order: 0},
	{ID: "totalitarian", Name: "Les régimes totalitaires", Order: 1},
	{ID: "ww2", Name: "Seconde Guerre mondiale", Order: 2},
}

func (stubBank) Topics() []curriculum.Topic { return stubTopics }

func (stubBank) Topic(id string) (curriculum.Topic, bool) {
	for _, t := range stubTopics {
		if t.ID == id {
			return t, true
		}
	}
	return curriculum.Topic{}, false
}

func (b stubBank) Successor(id string) (curriculum.Topic, bool) {
	t, ok := b.Topic(id)
	if !ok || t.Order+1 >= len(stubTopics) {
		return curriculum.Topic{}, false
	}
	return stubTopics[t.Order+1], true
}

func (stubBank) QuestionsFor(_ context.Context, topicID string, rank int) []curriculum.Question {
	if topicID == "ww2" {
		return nil
	}
	qs := make([]curriculum.Question, 6)
	for i := range qs {
		qs[i] = curriculum.Question{
			ID:          fmt.Sprintf("%s-%d-%d", topicID, rank, i),
			Text:        fmt.Sprintf("Question %d", i+1),
			Options:     []string{"A", "B", "C", "D"},
			Explanation: "Parce que.",
			TopicID:     topicID,
			Level:       rank,
		}
	}
	return qs
}

func (stubBank) IsThemeComplete(topicID string) bool { return topicID != "ww2" }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc      *app.Service
	store    *storage.MemoryStore
	notifier *events.MemoryNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    storage.NewMemoryStore(),
		notifier: events.NewMemoryNotifier(),
		clock:    &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	repo := progress.NewRepository(f.store, []string{"ww1", "totalitarian", "ww2"})
	f.svc, _ = app.New(context.Background(), stubBank{}, repo, f.notifier, app.Options{
		Sessions: app.DefaultSessions(30*time.Second, 5*time.Minute),
		Now:      f.clock.Now,
	})
	return f
}

// play answers correct questions right and the rest wrong, advancing after
// each answer.
func (f *fixture) play(t *testing.T, topic string, rank, correct int) app.SessionView {
	t.Helper()
	ctx := context.Background()
	v, err := f.svc.StartSession(ctx, topic, rank)
	if err != nil {
		t.Fatalf("StartSession(%s, %d) error = %v", topic, rank, err)
	}
	for i := 0; i < v.Total; i++ {
		option := 1
		if i < correct {
			option = 0
		}
		if _, err := f.svc.Answer(ctx, option); err != nil {
			t.Fatalf("Answer() error = %v", err)
		}
		if v, err = f.svc.Advance(ctx); err != nil {
			t.Fatalf("Advance() error = %v", err)
		}
	}
	return v
}

func TestService_EndToEndFirstLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateLearner(ctx, "  Lina   Martin ", "#E67E22"); err != nil {
		t.Fatalf("CreateLearner() error = %v", err)
	}
	ev, ok := f.notifier.Last()
	if !ok || ev.Completed || ev.Score != 0 || ev.MaxScore != 10 {
		t.Errorf("learner event = %+v", ev)
	}

	v := f.play(t, "ww1", 1, 4)

	if v.State != quiz.Finished || v.Result == nil || v.Outcome == nil {
		t.Fatalf("view = %+v, want finished with result", v)
	}
	if v.Result.Raw != 4 || len(v.Result.Mistakes) != 2 {
		t.Errorf("result = %+v", v.Result)
	}
	if !v.Outcome.Grade.Passed || v.Outcome.Grade.Stars != 1 || v.Outcome.UnlockedLevel != 2 {
		t.Errorf("outcome = %+v", v.Outcome)
	}

	p := f.svc.Progress()
	if p.LearnerName != "Lina Martin" || p.AvatarColor != "#e67e22" {
		t.Errorf("profile = %q %q", p.LearnerName, p.AvatarColor)
	}
	l1 := p.Topics["ww1"].Levels[0]
	if !l1.Completed || !l1.Passed || l1.Stars != 1 {
		t.Errorf("level 1 = %+v", l1)
	}
	if !p.Topics["ww1"].Levels[1].Unlocked || p.UnlockedLevels() != 2 {
		t.Error("only ww1 level 2 should be newly unlocked")
	}

	ev, _ = f.notifier.Last()
	if ev.Score != 4 || ev.MaxScore != 6 || ev.Data.LevelsPassed != 1 || ev.Completed {
		t.Errorf("graded event = %+v", ev)
	}
	if got := len(f.notifier.Events()); got != 2 {
		t.Errorf("events = %d, want 2", got)
	}

	// The graded state was persisted.
	if _, err := f.store.Get(ctx, progress.StorageKey); err != nil {
		t.Errorf("snapshot not saved: %v", err)
	}
	reloaded, status := progress.NewRepository(f.store, []string{"ww1", "totalitarian", "ww2"}).Load(ctx)
	if status != progress.StatusRestored || !reloaded.Topics["ww1"].Levels[0].Passed {
		t.Errorf("reload = %v, passed=%v", status, reloaded.Topics["ww1"].Levels[0].Passed)
	}
}

func TestService_RequiresLearner(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.StartSession(context.Background(), "ww1", 1); !errors.Is(err, app.ErrNoLearner) {
		t.Errorf("StartSession() error = %v, want ErrNoLearner", err)
	}
	if _, err := f.svc.SelectMode(context.Background(), progress.Revision); !errors.Is(err, app.ErrNoLearner) {
		t.Errorf("SelectMode() error = %v, want ErrNoLearner", err)
	}
}

func TestService_CreateLearnerValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, learner, color string
		want                 error
	}{
		{"blank name", "   ", "#ffffff", app.ErrInvalidName},
		{"long name", "Maximilien-Alexandre de la Tour d'Auvergne", "", app.ErrInvalidName},
		{"bad color", "Noé", "blue", app.ErrInvalidColor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.CreateLearner(context.Background(), tt.learner, tt.color); !errors.Is(err, tt.want) {
				t.Errorf("CreateLearner() error = %v, want %v", err, tt.want)
			}
		})
	}

	p, err := f.svc.CreateLearner(context.Background(), "Noé", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.AvatarColor != "#3498db" {
		t.Errorf("default color = %q", p.AvatarColor)
	}
}

func TestService_StartSessionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateLearner(ctx, "Sam", ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		topic string
		rank  int
		want  error
	}{
		{"locked level", "ww1", 2, progress.ErrLevelLocked},
		{"locked topic", "totalitarian", 1, progress.ErrLevelLocked},
		{"unknown topic", "prehistory", 1, progress.ErrUnknownTopic},
		{"bad rank", "ww1", 0, progress.ErrInvalidLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.StartSession(ctx, tt.topic, tt.rank); !errors.Is(err, tt.want) {
				t.Errorf("StartSession() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := f.svc.SelectMode(ctx, progress.Revision); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartSession(ctx, "ww2", 1); !errors.Is(err, app.ErrNotReady) {
		t.Errorf("StartSession(ww2) error = %v, want ErrNotReady", err)
	}
}

func TestService_DoubleAnswerIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateLearner(ctx, "Sam", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartSession(ctx, "ww1", 1); err != nil {
		t.Fatal(err)
	}

	v, err := f.svc.Answer(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v.Feedback == nil || v.Feedback.Correct {
		t.Fatalf("feedback = %+v, want wrong answer", v.Feedback)
	}
	v, err = f.svc.Answer(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Score != 0 || v.Feedback.Correct || v.State != quiz.AwaitingAdvance {
		t.Errorf("second answer changed the session: %+v", v)
	}
	if v.Feedback.CorrectAnswer == nil || *v.Feedback.CorrectAnswer != 0 || v.Feedback.Explanation == "" {
		t.Errorf("discovery mode should reveal the correction: %+v", v.Feedback)
	}
}

func TestService_QuestionTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateLearner(ctx, "Sam", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartSession(ctx, "ww1", 1); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(31 * time.Second)
	v, err := f.svc.Answer(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Feedback == nil || !v.Feedback.TimedOut || v.Feedback.Selected != quiz.NoAnswer || v.Score != 0 {
		t.Errorf("late answer should be a timeout: %+v", v.Feedback)
	}

	// The next question gets a fresh budget.
	if _, err := f.svc.Advance(ctx); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(20 * time.Second)
	v, err = f.svc.Answer(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Feedback.Correct || v.Score != 1 {
		t.Errorf("answer within budget = %+v", v.Feedback)
	}
}

func TestService_LevelTimeoutGrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateLearner(ctx, "Sam", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SelectMode(ctx, progress.Exam); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartSession(ctx, "totalitarian", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Answer(ctx, 0); err != nil {
		t.Fatal(err)
	}
	v, err := f.svc.Advance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Feedback != nil {
		t.Error("exam mode feedback should be cleared on advance")
	}

	f.clock.Advance(6 * time.Minute)
	v, err = f.svc.Session(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.State != quiz.Finished || v.Result == nil || v.Result.Raw != 1 || v.Result.Total != 6 {
		t.Fatalf("view after level timeout = %+v", v)
	}
	if f.svc.Progress().Topics["totalitarian"].Levels[0].Passed {
		t.Error("1/6 must not pass")
	}
	if st := f.svc.Progress().Stats[progress.StatsKey("totalitarian", 1)]; st.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", st.Attempts)
	}

	// Further calls never grade twice.
	if _, err := f.svc.Session(ctx); err != nil {
		t.Fatal(err)
	}
	if st := f.svc.Progress().Stats[progress.StatsKey("totalitarian", 1)]; st.Attempts != 1 {
		t.Errorf("attempts after second read = %d, want 1", st.Attempts)
	}
}

func TestService_AbandonRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateLearner(ctx, "Sam", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartSession(ctx, "ww1", 1); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		if _, err := f.svc.Answer(ctx, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Advance(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.svc.Abandon(); err != nil {
		t.Fatalf("Abandon() error = %v", err)
	}
	if err := f.svc.Abandon(); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("second Abandon() error = %v, want ErrNoSession", err)
	}
	if _, err := f.svc.Session(ctx); !errors.Is(err, app.ErrNoSession) {
		t.Errorf("Session() error = %v, want ErrNoSession", err)
	}
	if f.svc.Progress().Topics["ww1"].Levels[0].Completed {
		t.Error("abandoned session was recorded")
	}
	if got := len(f.notifier.Events()); got != 1 {
		t.Errorf("events = %d, want only the learner event", got)
	}
}

func TestService_MasteryOpensNextTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateLearner(ctx, "Sam", ""); err != nil {
		t.Fatal(err)
	}
	for rank := 1; rank <= 8; rank++ {
		f.play(t, "ww1", rank, 6)
	}

	topics := f.svc.Topics()
	if !topics[0].Mastered || topics[0].PassedLevels != 8 {
		t.Errorf("ww1 view = %+v", topics[0])
	}
	if !topics[1].Playable {
		t.Error("totalitarian should be playable after mastering ww1")
	}
	if topics[2].Playable || !topics[2].InPreparation {
		t.Errorf("ww2 view = %+v, want locked and in preparation", topics[2])
	}

	levels, err := f.svc.Levels("totalitarian")
	if err != nil {
		t.Fatal(err)
	}
	if !levels[0].Playable || levels[1].Playable || levels[9].TierLabel != "Expert" {
		t.Errorf("totalitarian levels = %+v", levels[:2])
	}
	if _, err := f.svc.Levels("nowhere"); !errors.Is(err, progress.ErrUnknownTopic) {
		t.Errorf("Levels(nowhere) error = %v", err)
	}
}

func TestService_ResetAndExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateLearner(ctx, "Sam", ""); err != nil {
		t.Fatal(err)
	}
	f.play(t, "ww1", 1, 6)

	var buf bytes.Buffer
	if err := f.svc.Export(&buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Export() wrote nothing")
	}

	p, err := f.svc.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if p.HasLearner() || p.UnlockedLevels() != 1 {
		t.Error("Reset() should return the initial state")
	}
	if _, err := f.store.Get(ctx, progress.StorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Error("Reset() should clear the save slot")
	}
	if _, err := f.svc.Session(ctx); !errors.Is(err, app.ErrNoSession) {
		t.Error("Reset() should drop the session")
	}
}
