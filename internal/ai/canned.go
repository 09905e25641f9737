package ai

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"time"
)

// Metadata keys read by CannedProvider.
const (
	MetaTopicID = "topic_id"
	MetaTier    = "tier"
	MetaIndex   = "index"
)

//go:embed canned.json
var cannedJSON []byte

// CannedQuestion is the JSON document a question generation completion returns.
type CannedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type cannedFile struct {
	Pools map[string][]CannedQuestion `json:"pools"`
}

// CannedProvider simulates a question generator by replaying pre-written
// answers. The same request always yields the same answer.
type CannedProvider struct {
	pools map[string][]CannedQuestion
	names []string // sorted pool names
	delay time.Duration
}

// NewCannedProvider creates a provider over the embedded answer pools. delay
// is an artificial latency applied to every completion.
func NewCannedProvider(delay time.Duration) (*CannedProvider, error) {
	var f cannedFile
	if err := json.Unmarshal(cannedJSON, &f); err != nil {
		return nil, fmt.Errorf("parsing canned answers: %w", err)
	}
	if len(f.Pools) == 0 {
		return nil, fmt.Errorf("canned answers define no pools")
	}
	p := &CannedProvider{pools: f.Pools, delay: delay}
	for name, pool := range f.Pools {
		if len(pool) == 0 {
			return nil, fmt.Errorf("canned pool %q is empty", name)
		}
		p.names = append(p.names, name)
	}
	sort.Strings(p.names)
	return p, nil
}

func (p *CannedProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return CompletionResponse{}, ctx.Err()
		case <-timer.C:
		}
	}

	prompt := req.Prompt()
	h := fnv.New32a()
	h.Write([]byte(prompt))
	sum := int(h.Sum32() & 0x7fffffff)

	pool, ok := p.pools[req.Metadata[MetaTopicID]+"-"+req.Metadata[MetaTier]]
	if !ok {
		pool = p.pools[p.names[sum%len(p.names)]]
	}
	pick := sum % len(pool)
	if idx, err := strconv.Atoi(req.Metadata[MetaIndex]); err == nil && idx >= 0 {
		pick = idx % len(pool)
	}

	body, err := json.Marshal(pool[pick])
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("encoding canned answer: %w", err)
	}
	return CompletionResponse{
		Content:      string(body),
		Model:        "canned",
		InputTokens:  len(prompt) / 4,
		OutputTokens: len(body) / 4,
	}, nil
}

func (p *CannedProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "canned", Name: "Canned answers", MaxTokens: 1024, Description: "Replays pre-written questions"},
	}
}

func (p *CannedProvider) HealthCheck(_ context.Context) error {
	return nil
}
