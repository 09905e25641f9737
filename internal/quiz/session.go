// Package quiz drives a learner through one level's questions.
package quiz

import (
	"errors"
	"fmt"
	"time"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/curriculum"
)

// NoAnswer is recorded when a question budget runs out.
const NoAnswer = -1

var (
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotAnswered    = errors.New("current question not answered")
	ErrNotFinished    = errors.New("session not finished")
	ErrResultTaken    = errors.New("session result already taken")
	ErrAbandoned      = errors.New("session abandoned")
	ErrInvalidOption  = errors.New("option out of range")
)

// State is the lifecycle position of a session.
type State int

const (
	NotStarted State = iota
	InProgress
	AwaitingAdvance
	Finished
	Abandoned
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case AwaitingAdvance:
		return "awaiting_advance"
	case Finished:
		return "finished"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for c := NotStarted; c <= Abandoned; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Timing holds the countdown budgets of a session. A zero budget is unlimited.
type Timing struct {
	PerQuestion time.Duration
	PerLevel    time.Duration
}

// ManualTiming gives every question its own budget.
func ManualTiming(perQuestion time.Duration) Timing {
	return Timing{PerQuestion: perQuestion}
}

// ClassicTiming gives the whole level a single budget.
func ClassicTiming(perLevel time.Duration) Timing {
	return Timing{PerLevel: perLevel}
}

// Untimed has no countdown.
func Untimed() Timing {
	return Timing{}
}

// Options configure a session.
type Options struct {
	Timing Timing
	Reveal bool // show the correct answer and explanation after each answer
}

// Answer is the recorded response to one question.
type Answer struct {
	QuestionID string `json:"questionId"`
	Selected   int    `json:"selected"`
	Correct    bool   `json:"correct"`
	TimedOut   bool   `json:"timedOut,omitempty"`
}

// Feedback is returned once a question is answered or timed out.
type Feedback struct {
	QuestionID    string `json:"questionId"`
	Selected      int    `json:"selected"`
	Correct       bool   `json:"correct"`
	TimedOut      bool   `json:"timedOut,omitempty"`
	CorrectAnswer *int   `json:"correctAnswer,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
}

// Result is the reduced outcome of a finished session.
type Result struct {
	TopicID  string   `json:"topicId"`
	Level    int      `json:"level"`
	Raw      int      `json:"raw"`
	Total    int      `json:"total"`
	Mistakes []string `json:"mistakes,omitempty"` // texts of missed questions
	Answers  []Answer `json:"answers"`
}

// Session is one attempt at a level. It is not safe for concurrent use.
type Session struct {
	topicID   string
	rank      int
	questions []curriculum.Question
	opts      Options

	state        State
	current      int
	answers      []Answer
	feedback     *Feedback
	questionLeft time.Duration
	levelLeft    time.Duration
	taken        bool
}

// New creates a session over qs. The slice is not modified.
func New(topicID string, rank int, qs []curriculum.Question, opts Options) *Session {
	return &Session{
		topicID:   topicID,
		rank:      rank,
		questions: qs,
		opts:      opts,
		answers:   make([]Answer, 0, len(qs)),
	}
}

// Start moves the session to the first question. A session without
// questions finishes immediately.
func (s *Session) Start() error {
	if s.state != NotStarted {
		return ErrAlreadyStarted
	}
	if len(s.questions) == 0 {
		s.state = Finished
		return nil
	}
	s.state = InProgress
	s.levelLeft = s.opts.Timing.PerLevel
	s.questionLeft = s.opts.Timing.PerQuestion
	return nil
}

// Answer records option for the live question. It returns recorded=false and
// the existing feedback when the question was already answered or the
// session is finished.
func (s *Session) Answer(option int) (fb Feedback, recorded bool, err error) {
	switch s.state {
	case NotStarted:
		return Feedback{}, false, ErrNotStarted
	case Abandoned:
		return Feedback{}, false, ErrAbandoned
	case AwaitingAdvance, Finished:
		if s.feedback == nil {
			return Feedback{}, false, nil
		}
		return *s.feedback, false, nil
	}

	q := s.questions[s.current]
	if option < 0 || option >= len(q.Options) {
		return Feedback{}, false, fmt.Errorf("%w: %d", ErrInvalidOption, option)
	}
	return s.record(option, false), true, nil
}

// Advance moves past an answered question, finishing the session after the
// last one.
func (s *Session) Advance() error {
	switch s.state {
	case NotStarted:
		return ErrNotStarted
	case Abandoned:
		return ErrAbandoned
	case InProgress:
		return ErrNotAnswered
	case Finished:
		return nil
	}

	s.feedback = nil
	if s.current+1 >= len(s.questions) {
		s.state = Finished
		return nil
	}
	s.current++
	s.state = InProgress
	s.questionLeft = s.opts.Timing.PerQuestion
	return nil
}

// Tick advances the countdown by d. It reports whether a budget ran out.
// The level budget runs until the session finishes, feedback included. The
// question budget only runs while the question is unanswered.
func (s *Session) Tick(d time.Duration) bool {
	if (s.state != InProgress && s.state != AwaitingAdvance) || d <= 0 {
		return false
	}

	if s.opts.Timing.PerLevel > 0 {
		s.levelLeft -= d
		if s.levelLeft <= 0 {
			s.levelLeft = 0
			s.expireLevel()
			return true
		}
	}
	if s.opts.Timing.PerQuestion > 0 && s.state == InProgress {
		s.questionLeft -= d
		if s.questionLeft <= 0 {
			s.questionLeft = 0
			s.record(NoAnswer, true)
			return true
		}
	}
	return false
}

// Abandon discards the attempt. It reports false for a finished session,
// whose result stays available.
func (s *Session) Abandon() bool {
	if s.state == Finished || s.state == Abandoned {
		return false
	}
	s.state = Abandoned
	s.feedback = nil
	return true
}

// TakeResult returns the result of a finished session exactly once.
func (s *Session) TakeResult() (Result, error) {
	switch {
	case s.state == Abandoned:
		return Result{}, ErrAbandoned
	case s.state != Finished:
		return Result{}, ErrNotFinished
	case s.taken:
		return Result{}, ErrResultTaken
	}
	s.taken = true

	res := Result{
		TopicID: s.topicID,
		Level:   s.rank,
		Total:   len(s.questions),
		Answers: append([]Answer(nil), s.answers...),
	}
	for i, a := range s.answers {
		if a.Correct {
			res.Raw++
			continue
		}
		res.Mistakes = append(res.Mistakes, s.questions[i].Text)
	}
	return res, nil
}

func (s *Session) record(option int, timedOut bool) Feedback {
	q := s.questions[s.current]
	a := Answer{
		QuestionID: q.ID,
		Selected:   option,
		Correct:    !timedOut && q.IsCorrect(option),
		TimedOut:   timedOut,
	}
	s.answers = append(s.answers, a)

	fb := Feedback{
		QuestionID: a.QuestionID,
		Selected:   a.Selected,
		Correct:    a.Correct,
		TimedOut:   a.TimedOut,
	}
	if s.opts.Reveal {
		correct := q.CorrectAnswer
		fb.CorrectAnswer = &correct
		fb.Explanation = q.Explanation
	}
	s.feedback = &fb
	s.state = AwaitingAdvance
	return fb
}

// expireLevel records every unanswered question as timed out.
func (s *Session) expireLevel() {
	for _, q := range s.questions[len(s.answers):] {
		s.answers = append(s.answers, Answer{QuestionID: q.ID, Selected: NoAnswer, TimedOut: true})
	}
	s.current = len(s.questions) - 1
	s.feedback = nil
	s.state = Finished
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// TopicID returns the topic of the level being played.
func (s *Session) TopicID() string { return s.topicID }

// Rank returns the rank of the level being played.
func (s *Session) Rank() int { return s.rank }

// Len returns the number of questions.
func (s *Session) Len() int { return len(s.questions) }

// Index returns the 0-based position of the live question.
func (s *Session) Index() int { return s.current }

// Options returns the session configuration.
func (s *Session) Options() Options { return s.opts }

// Score returns the number of correct answers so far.
func (s *Session) Score() int {
	n := 0
	for _, a := range s.answers {
		if a.Correct {
			n++
		}
	}
	return n
}

// Current returns the live question while the session is running.
func (s *Session) Current() (curriculum.Question, bool) {
	if s.state != InProgress && s.state != AwaitingAdvance {
		return curriculum.Question{}, false
	}
	return s.questions[s.current], true
}

// Feedback returns the feedback of the question awaiting advance.
func (s *Session) Feedback() (Feedback, bool) {
	if s.feedback == nil {
		return Feedback{}, false
	}
	return *s.feedback, true
}

// Remaining returns the budgets left. Unlimited budgets are reported as zero.
func (s *Session) Remaining() (question, level time.Duration) {
	return s.questionLeft, s.levelLeft
}
