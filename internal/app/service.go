// Package app wires the question bank, quiz sessions, grading, progression,
// persistence and completion events into the operations the presentation
// layer calls.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/events"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/quiz"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/report"
)

var (
	ErrNoLearner    = errors.New("no learner profile")
	ErrNoSession    = errors.New("no active session")
	ErrInvalidName  = errors.New("invalid learner name")
	ErrInvalidColor = errors.New("invalid avatar color")
	ErrNotReady     = errors.New("level content not ready")
)

const (
	maxNameRunes       = 30
	defaultAvatarColor = "#3498db"

	// completionThreshold is the share of passed levels, in percent, at which
	// the block reports itself completed to the host.
	completionThreshold = 80

	// learnerMaxScore is the maxScore sent with the learner creation event.
	learnerMaxScore = 10
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Options configure a Service.
type Options struct {
	// Sessions selects timing and answer review per mode. Modes missing from
	// the map play untimed with review.
	Sessions map[progress.Mode]quiz.Options
	// Now is the clock that drives session countdowns. Defaults to time.Now.
	Now func() time.Time
}

// DefaultSessions returns the per-mode session behaviour: discovery and
// challenge give each question its own budget, revision and exam time the
// whole level, and exam hides corrections until the end.
func DefaultSessions(questionTime, levelTime time.Duration) map[progress.Mode]quiz.Options {
	return map[progress.Mode]quiz.Options{
		progress.Discovery: {Timing: quiz.ManualTiming(questionTime), Reveal: true},
		progress.Revision:  {Timing: quiz.ClassicTiming(levelTime), Reveal: true},
		progress.Exam:      {Timing: quiz.ClassicTiming(levelTime), Reveal: false},
		progress.Challenge: {Timing: quiz.ManualTiming(questionTime), Reveal: true},
	}
}

// Service owns the single learner's progress and live session. It is safe
// for concurrent use; calls are serialized.
type Service struct {
	bank     curriculum.Bank
	repo     *progress.Repository
	notifier events.Notifier
	sessions map[progress.Mode]quiz.Options
	now      func() time.Time

	mu       sync.Mutex
	progress progress.Progress
	session  *liveSession
}

type liveSession struct {
	quiz     *quiz.Session
	lastTick time.Time
	result   *quiz.Result
	outcome  *progress.Outcome
}

// New creates a service and loads the saved progress.
func New(ctx context.Context, bank curriculum.Bank, repo *progress.Repository, notifier events.Notifier, opts Options) (*Service, progress.LoadStatus) {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		bank:     bank,
		repo:     repo,
		notifier: notifier,
		sessions: opts.Sessions,
		now:      opts.Now,
	}

	p, status := repo.Load(ctx)
	s.progress = p
	slog.Info("learner progress loaded",
		"status", status.String(),
		"learner", p.LearnerName,
		"mode", p.Mode.String(),
		"unlocked_levels", p.UnlockedLevels(),
	)
	return s, status
}

// Progress returns a copy of the learner progress.
func (s *Service) Progress() progress.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.Clone()
}

// CreateLearner sets the learner profile, saves and notifies the host.
// Existing progress is kept.
func (s *Service) CreateLearner(ctx context.Context, name, color string) (progress.Progress, error) {
	name, err := normalizeName(name)
	if err != nil {
		return progress.Progress{}, err
	}
	if color == "" {
		color = defaultAvatarColor
	}
	if !hexColor.MatchString(color) {
		return progress.Progress{}, fmt.Errorf("%w: %q", ErrInvalidColor, color)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = s.progress.WithLearner(name, strings.ToLower(color))
	s.save(ctx)
	s.notify(ctx, false, 0, learnerMaxScore)

	slog.Info("learner created", "learner", name)
	return s.progress.Clone(), nil
}

func normalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(norm.NFC.String(name)), " ")
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	case n > maxNameRunes:
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, maxNameRunes)
	}
	return name, nil
}

// SelectMode switches the game mode and saves. The live session, if any,
// keeps the behaviour it started with.
func (s *Service) SelectMode(ctx context.Context, m progress.Mode) (progress.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.progress.HasLearner() {
		return progress.Progress{}, ErrNoLearner
	}
	s.progress = progress.SelectMode(s.progress, m)
	s.save(ctx)

	slog.Info("mode selected", "mode", m.String())
	return s.progress.Clone(), nil
}

// Reset clears saved progress and the live session.
func (s *Service) Reset(ctx context.Context) (progress.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, err := s.repo.Reset(ctx)
	if err != nil {
		return progress.Progress{}, err
	}
	s.progress = fresh
	s.session = nil

	slog.Info("progress reset")
	return s.progress.Clone(), nil
}

// Export writes the progress dashboard workbook to w.
func (s *Service) Export(w io.Writer) error {
	p := s.Progress()
	return report.Write(w, p, s.bank.Topics())
}

// save persists the aggregate. A failed save leaves the in-memory state
// ahead of the store; the next successful save catches up.
func (s *Service) save(ctx context.Context) {
	if !s.progress.HasLearner() {
		return
	}
	if err := s.repo.Save(ctx, s.progress); err != nil {
		slog.Error("saving progress failed", "error", err)
	}
}

func (s *Service) notify(ctx context.Context, completed bool, score, maxScore int) {
	c := events.NewCompletion(completed, score, maxScore, progress.Summarize(s.progress))
	if err := s.notifier.Notify(ctx, c); err != nil {
		slog.Warn("completion event not delivered", "error", err)
	}
}
