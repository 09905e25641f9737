package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/ai"
)

func generationRequest(prompt, topic, tier, index string) ai.CompletionRequest {
	return ai.CompletionRequest{
		Task:     ai.TaskQuestionGeneration,
		Messages: []ai.Message{{Role: "user", Content: prompt}},
		Metadata: map[string]string{ai.MetaTopicID: topic, ai.MetaTier: tier, ai.MetaIndex: index},
	}
}

func TestCannedProvider_ReturnsValidQuestion(t *testing.T) {
	p, err := ai.NewCannedProvider(0)
	if err != nil {
		t.Fatalf("NewCannedProvider() error = %v", err)
	}

	resp, err := p.Complete(context.Background(), generationRequest("prompt", "ww1", "easy", "0"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	var q ai.CannedQuestion
	if err := json.Unmarshal([]byte(resp.Content), &q); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if q.Question == "" || len(q.Options) != 4 {
		t.Errorf("question = %+v, want text and 4 options", q)
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer > 3 {
		t.Errorf("CorrectAnswer = %d out of range", q.CorrectAnswer)
	}
}

func TestCannedProvider_Deterministic(t *testing.T) {
	p, err := ai.NewCannedProvider(0)
	if err != nil {
		t.Fatalf("NewCannedProvider() error = %v", err)
	}

	tests := []ai.CompletionRequest{
		generationRequest("same prompt", "ww1", "medium", "3"),
		generationRequest("unknown pool", "europe-1989", "expert", ""),
	}
	for _, req := range tests {
		a, err := p.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		b, err := p.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		if a.Content != b.Content {
			t.Errorf("Complete() not deterministic for %v", req.Metadata)
		}
	}
}

func TestCannedProvider_IndexSelectsDistinctQuestions(t *testing.T) {
	p, err := ai.NewCannedProvider(0)
	if err != nil {
		t.Fatalf("NewCannedProvider() error = %v", err)
	}

	first, _ := p.Complete(context.Background(), generationRequest("x", "ww1", "hard", "0"))
	second, _ := p.Complete(context.Background(), generationRequest("x", "ww1", "hard", "1"))
	if first.Content == second.Content {
		t.Error("different indexes returned the same question")
	}
}

func TestCannedProvider_DelayHonoursContext(t *testing.T) {
	p, err := ai.NewCannedProvider(time.Hour)
	if err != nil {
		t.Fatalf("NewCannedProvider() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Complete(ctx, generationRequest("x", "ww1", "easy", "0"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Complete() error = %v, want context.DeadlineExceeded", err)
	}
}
