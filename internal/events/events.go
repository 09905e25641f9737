// Package events publishes BLOCK_COMPLETION notifications to the embedding
// host. Delivery is fire-and-forget: the core never waits on a reply and
// never fails because a sink did.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
)

const (
	// TypeBlockCompletion is the type of every completion event.
	TypeBlockCompletion = "BLOCK_COMPLETION"
	// BlockID identifies this widget to the host page.
	BlockID = "history-revision-brevet"
)

// Completion is the payload posted to the host after learner creation and
// after every graded session.
type Completion struct {
	Type      string    `json:"type"`
	BlockID   string    `json:"blockId"`
	Completed bool      `json:"completed"`
	Score     int       `json:"score"`
	MaxScore  int       `json:"maxScore"`
	Data      Data      `json:"data"`
	CreatedAt time.Time `json:"-"`
}

// Data are the aggregate counters attached to a completion event.
type Data struct {
	CompletedTopics int    `json:"completedTopics"`
	TotalTopics     int    `json:"totalTopics"`
	Mode            string `json:"mode"`
	TotalAttempts   int    `json:"totalAttempts"`
	LevelsCompleted int    `json:"levelsCompleted"`
	TotalLevels     int    `json:"totalLevels"`
	LevelsPassed    int    `json:"levelsPassed"`
}

// NewCompletion builds an event from a progress summary.
func NewCompletion(completed bool, score, maxScore int, s progress.Summary) Completion {
	return Completion{
		Type:      TypeBlockCompletion,
		BlockID:   BlockID,
		Completed: completed,
		Score:     score,
		MaxScore:  maxScore,
		Data: Data{
			CompletedTopics: s.CompletedTopics,
			TotalTopics:     s.TotalTopics,
			Mode:            s.Mode.String(),
			TotalAttempts:   s.TotalAttempts,
			LevelsCompleted: s.LevelsCompleted,
			TotalLevels:     s.TotalLevels,
			LevelsPassed:    s.LevelsPassed,
		},
		CreatedAt: time.Now(),
	}
}

// Notifier delivers completion events to one sink.
type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}

// NopNotifier ignores all events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Completion) error {
	return nil
}

// MemoryNotifier stores events in memory for tests.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []Completion
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{
		events: []Completion{},
	}
}

func (n *MemoryNotifier) Notify(_ context.Context, c Completion) error {
	if c.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	n.mu.Lock()
	n.events = append(n.events, c)
	n.mu.Unlock()

	return nil
}

func (n *MemoryNotifier) Events() []Completion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Completion{}, n.events...)
}

// Last returns the most recent event.
func (n *MemoryNotifier) Last() (Completion, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return Completion{}, false
	}
	return n.events[len(n.events)-1], true
}

// SlogNotifier writes events to the structured log.
type SlogNotifier struct{}

func (SlogNotifier) Notify(_ context.Context, c Completion) error {
	slog.Info("block completion",
		"block_id", c.BlockID,
		"completed", c.Completed,
		"score", c.Score,
		"max_score", c.MaxScore,
		"mode", c.Data.Mode,
		"levels_passed", c.Data.LevelsPassed,
		"total_levels", c.Data.TotalLevels,
	)
	return nil
}

// Gateway fans events out to every registered notifier.
type Gateway struct {
	notifiers map[string]Notifier
	names     []string
	mu        sync.RWMutex
}

// NewGateway creates an empty gateway.
func NewGateway() *Gateway {
	return &Gateway{
		notifiers: make(map[string]Notifier),
	}
}

// Register adds a notifier under name, replacing any previous one.
func (g *Gateway) Register(name string, n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.notifiers[name]; !ok {
		g.names = append(g.names, name)
	}
	g.notifiers[name] = n
	slog.Info("event notifier registered", "notifier", name)
}

// HasNotifier returns true if the named notifier is registered.
func (g *Gateway) HasNotifier(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.notifiers[name]
	return ok
}

// Notify delivers c to every notifier in registration order. Failures are
// logged and do not stop delivery to the others.
func (g *Gateway) Notify(ctx context.Context, c Completion) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, name := range g.names {
		if err := g.notifiers[name].Notify(ctx, c); err != nil {
			slog.Warn("completion event not delivered", "notifier", name, "error", err)
		}
	}
	return nil
}
