package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/quiz"
)

// QuestionView is the live question without its answer.
type QuestionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"question"`
	Options []string `json:"options"`
}

// SessionView is the state of the live session as shown to the learner.
type SessionView struct {
	TopicID    string            `json:"topicId"`
	Level      int               `json:"level"`
	Tier       curriculum.Tier   `json:"tier"`
	State      quiz.State        `json:"state"`
	Index      int               `json:"index"`
	Total      int               `json:"total"`
	Score      int               `json:"score"`
	Question   *QuestionView     `json:"question,omitempty"`
	Feedback   *quiz.Feedback    `json:"feedback,omitempty"`
	QuestionMs int64             `json:"questionRemainingMs,omitempty"`
	LevelMs    int64             `json:"levelRemainingMs,omitempty"`
	Result     *quiz.Result      `json:"result,omitempty"`
	Outcome    *progress.Outcome `json:"outcome,omitempty"`
	InProgress bool              `json:"inProgress"`
}

// StartSession begins a session on (topicID, rank). A live session is
// discarded first.
func (s *Service) StartSession(ctx context.Context, topicID string, rank int) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.progress.HasLearner() {
		return SessionView{}, ErrNoLearner
	}
	if err := progress.CheckPlayable(s.progress, topicID, rank); err != nil {
		return SessionView{}, err
	}

	qs := s.bank.QuestionsFor(ctx, topicID, rank)
	if len(qs) == 0 {
		return SessionView{}, fmt.Errorf("%w: %s level %d", ErrNotReady, topicID, rank)
	}
	if len(qs) < curriculum.QuestionsPerLevel {
		slog.Warn("starting level with partial content", "topic_id", topicID, "level", rank, "questions", len(qs))
	}

	if s.session != nil && s.session.quiz.Abandon() {
		slog.Info("session abandoned", "topic_id", s.session.quiz.TopicID(), "level", s.session.quiz.Rank())
	}

	q := quiz.New(topicID, rank, qs, s.sessionOptions())
	if err := q.Start(); err != nil {
		return SessionView{}, err
	}
	s.session = &liveSession{quiz: q, lastTick: s.now()}

	slog.Info("session started", "topic_id", topicID, "level", rank, "questions", len(qs), "mode", s.progress.Mode.String())
	return s.view(), nil
}

func (s *Service) sessionOptions() quiz.Options {
	if opts, ok := s.sessions[s.progress.Mode]; ok {
		return opts
	}
	return quiz.Options{Timing: quiz.Untimed(), Reveal: true}
}

// Session returns the live session after applying elapsed time.
func (s *Service) Session(ctx context.Context) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.advanceClock(ctx); err != nil {
		return SessionView{}, err
	}
	return s.view(), nil
}

// Answer submits option for the live question. Submitting again to an
// answered question changes nothing.
func (s *Service) Answer(ctx context.Context, option int) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.advanceClock(ctx); err != nil {
		return SessionView{}, err
	}
	if _, _, err := s.session.quiz.Answer(option); err != nil {
		return SessionView{}, err
	}
	return s.view(), nil
}

// Advance moves to the next question, grading the session after the last.
func (s *Service) Advance(ctx context.Context) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.advanceClock(ctx); err != nil {
		return SessionView{}, err
	}
	if err := s.session.quiz.Advance(); err != nil {
		return SessionView{}, err
	}
	// The countdown restarts on the new question.
	s.session.lastTick = s.now()
	if err := s.finish(ctx); err != nil {
		return SessionView{}, err
	}
	return s.view(), nil
}

// Abandon discards the live session. Nothing is recorded.
func (s *Service) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrNoSession
	}
	if s.session.quiz.Abandon() {
		slog.Info("session abandoned", "topic_id", s.session.quiz.TopicID(), "level", s.session.quiz.Rank())
	}
	s.session = nil
	return nil
}

// advanceClock feeds the wall time elapsed since the previous call into the
// session countdown and grades the session if time ran out.
func (s *Service) advanceClock(ctx context.Context) error {
	if s.session == nil {
		return ErrNoSession
	}
	now := s.now()
	elapsed := now.Sub(s.session.lastTick)
	s.session.lastTick = now
	if s.session.quiz.Tick(elapsed) {
		slog.Debug("session budget expired", "topic_id", s.session.quiz.TopicID(), "level", s.session.quiz.Rank())
	}
	return s.finish(ctx)
}

// finish grades a finished session once, applies it to the progress, saves
// and notifies the host.
func (s *Service) finish(ctx context.Context) error {
	ls := s.session
	if ls.quiz.State() != quiz.Finished || ls.result != nil {
		return nil
	}
	res, err := ls.quiz.TakeResult()
	if err != nil {
		return err
	}

	next, out, err := progress.ApplyGrade(s.progress, res.TopicID, res.Level, res.Raw, res.Total, res.Mistakes...)
	if err != nil {
		return fmt.Errorf("recording session: %w", err)
	}
	s.progress = next
	ls.result = &res
	ls.outcome = &out

	s.save(ctx)
	sum := progress.Summarize(s.progress)
	s.notify(ctx, sum.CompletionRatio() >= completionThreshold, res.Raw, res.Total)

	slog.Info("session graded",
		"topic_id", res.TopicID,
		"level", res.Level,
		"score", res.Raw,
		"total", res.Total,
		"stars", out.Grade.Stars,
		"passed", out.Grade.Passed,
		"unlocked_level", out.UnlockedLevel,
		"unlocked_topic", out.UnlockedTopic,
	)
	return nil
}

func (s *Service) view() SessionView {
	q := s.session.quiz
	v := SessionView{
		TopicID:    q.TopicID(),
		Level:      q.Rank(),
		Tier:       curriculum.DifficultyTier(q.Rank()),
		State:      q.State(),
		Index:      q.Index(),
		Total:      q.Len(),
		Score:      q.Score(),
		Result:     s.session.result,
		Outcome:    s.session.outcome,
		InProgress: q.State() == quiz.InProgress || q.State() == quiz.AwaitingAdvance,
	}
	if cur, ok := q.Current(); ok {
		v.Question = &QuestionView{ID: cur.ID, Text: cur.Text, Options: append([]string(nil), cur.Options...)}
	}
	if fb, ok := q.Feedback(); ok {
		v.Feedback = &fb
	}
	if v.InProgress {
		question, level := q.Remaining()
		v.QuestionMs = question.Milliseconds()
		v.LevelMs = level.Milliseconds()
	}
	return v
}
