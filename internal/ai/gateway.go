// Package ai provides a provider-agnostic completion gateway used to
// generate quiz questions for levels that have no authored content.
package ai

import "context"

// TaskType defines the kind of completion for routing and logging.
type TaskType int

const (
	TaskQuestionGeneration TaskType = iota
)

func (t TaskType) String() string {
	switch t {
	case TaskQuestionGeneration:
		return "question_generation"
	default:
		return "unknown"
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a completion.
type CompletionRequest struct {
	Messages    []Message         `json:"messages"`
	Model       string            `json:"model,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Task        TaskType          `json:"task,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"` // e.g. topic_id, tier
}

// Prompt returns the content of the last user message.
func (r CompletionRequest) Prompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// CompletionResponse is the output of a completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxTokens   int    `json:"max_tokens"`
	Description string `json:"description"`
}

// Completer is the narrow capability consumers depend on. Router and every
// Provider satisfy it.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Provider is the interface all completion providers must implement.
type Provider interface {
	Completer
	Models() []ModelInfo
	HealthCheck(ctx context.Context) error
}
