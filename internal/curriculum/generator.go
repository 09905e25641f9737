package curriculum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/ai"
)

// GenerativeBank serves authored levels from a base bank and generates the
// levels the base bank does not hold yet. Generated sets are memoised, so a
// level keeps the same questions for the lifetime of the bank.
type GenerativeBank struct {
	base      Bank
	completer ai.Completer

	mu        sync.RWMutex
	generated map[levelKey][]Question
	group     singleflight.Group
}

// NewGenerativeBank wraps base with a completion-backed generator.
func NewGenerativeBank(base Bank, completer ai.Completer) *GenerativeBank {
	return &GenerativeBank{
		base:      base,
		completer: completer,
		generated: make(map[levelKey][]Question),
	}
}

func (g *GenerativeBank) Topics() []Topic { return g.base.Topics() }
func (g *GenerativeBank) Topic(id string) (Topic, bool) { return g.base.Topic(id) }
func (g *GenerativeBank) Successor(id string) (Topic, bool) { return g.base.Successor(id) }
func (g *GenerativeBank) IsThemeComplete(topicID string) bool { return g.base.IsThemeComplete(topicID) }

// QuestionsFor returns the authored questions when the base bank has any,
// otherwise a generated set. A cancelled context yields nothing and leaves
// the level ungenerated.
func (g *GenerativeBank) QuestionsFor(ctx context.Context, topicID string, rank int) []Question {
	if qs := g.base.QuestionsFor(ctx, topicID, rank); len(qs) > 0 {
		return qs
	}
	topic, ok := g.base.Topic(topicID)
	if !ok || !ValidRank(rank) {
		return nil
	}

	key := levelKey{topicID, rank}
	g.mu.RLock()
	qs, ok := g.generated[key]
	g.mu.RUnlock()
	if ok {
		return copyQuestions(qs)
	}

	v, err, _ := g.group.Do(fmt.Sprintf("%s-%d", topicID, rank), func() (any, error) {
		g.mu.RLock()
		qs, ok := g.generated[key]
		g.mu.RUnlock()
		if ok {
			return qs, nil
		}
		qs, err := g.generate(ctx, topic, rank)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.generated[key] = qs
		g.mu.Unlock()
		slog.Info("level generated", "topic_id", topicID, "level", rank, "questions", len(qs))
		return qs, nil
	})
	if err != nil {
		slog.Warn("question generation aborted", "topic_id", topicID, "level", rank, "error", err)
		return nil
	}
	return copyQuestions(v.([]Question))
}

func (g *GenerativeBank) generate(ctx context.Context, topic Topic, rank int) ([]Question, error) {
	prompt := generationPrompt(topic, rank)
	tier := DifficultyTier(rank)

	qs := make([]Question, 0, QuestionsPerLevel)
	for i := range QuestionsPerLevel {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := g.completer.Complete(ctx, ai.CompletionRequest{
			Task:        ai.TaskQuestionGeneration,
			Temperature: 0.7,
			MaxTokens:   512,
			Messages: []ai.Message{
				{Role: "system", Content: "Tu es un professeur d'histoire spécialisé dans le programme du Brevet français."},
				{Role: "user", Content: prompt},
			},
			Metadata: map[string]string{
				ai.MetaTopicID: topic.ID,
				ai.MetaTier:    tier.String(),
				ai.MetaIndex:   strconv.Itoa(i),
			},
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("generation failed, using fallback question", "topic_id", topic.ID, "level", rank, "index", i, "error", err)
			qs = append(qs, fallbackQuestion(topic.ID, rank, i))
			continue
		}

		q, err := parseGenerated(resp.Content)
		if err != nil {
			slog.Warn("generated question rejected, using fallback", "topic_id", topic.ID, "level", rank, "index", i, "error", err)
			qs = append(qs, fallbackQuestion(topic.ID, rank, i))
			continue
		}
		q.ID = fmt.Sprintf("ai-%s-%d-%d", topic.ID, rank, i+1)
		q.TopicID = topic.ID
		q.Level = rank
		qs = append(qs, q)
	}
	return qs, nil
}

func parseGenerated(content string) (Question, error) {
	content = strings.TrimSpace(content)
	// Models sometimes wrap the document in prose or code fences.
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}

	var doc ai.CannedQuestion
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return Question{}, fmt.Errorf("parsing generated question: %w", err)
	}
	q := Question{
		ID:            "generated",
		Text:          strings.TrimSpace(doc.Question),
		Options:       doc.Options,
		CorrectAnswer: doc.CorrectAnswer,
		Explanation:   doc.Explanation,
	}
	if err := q.Valid(); err != nil {
		return Question{}, err
	}
	return q, nil
}

func generationPrompt(topic Topic, rank int) string {
	tier := DifficultyTier(rank)
	var b strings.Builder
	fmt.Fprintf(&b, "Génère une question sur %q de niveau %s (niveau %d/%d).\n\n",
		topic.Name, strings.ToUpper(tier.Label()), rank, LevelsPerTopic)
	if topic.Context != "" {
		fmt.Fprintf(&b, "CONTEXTE HISTORIQUE:\n%s\n\n", topic.Context)
	}
	fmt.Fprintf(&b, "CRITÈRES DE DIFFICULTÉ:\nNIVEAU %s (%d/%d):\n%s\n\n",
		strings.ToUpper(tier.Label()), rank, LevelsPerTopic, difficultyGuidelines[tier])
	b.WriteString(`CONSIGNES STRICTES:
1. La question doit être précise et factuelle
2. Proposer 4 options de réponse
3. Une seule bonne réponse
4. Inclure une explication pédagogique
5. Respecter le programme du Brevet

FORMAT DE RÉPONSE ATTENDU (JSON strict):
{"question": "...", "options": ["A", "B", "C", "D"], "correctAnswer": 0, "explanation": "..."}
`)
	return b.String()
}

var difficultyGuidelines = map[Tier]string{
	TierEasy: `- Questions sur les faits de base, dates principales
- Vocabulaire simple, personnages célèbres
- Événements majeurs, causes principales`,
	TierMedium: `- Liens de cause à effet, chronologie précise
- Analyse des conséquences, comparaisons
- Personnages secondaires, batailles spécifiques`,
	TierHard: `- Détails historiques précis, nuances
- Analyse critique, interprétations
- Statistiques, données chiffrées`,
	TierExpert: `- Questions très pointues, détails spécialisés
- Analyse historiographique, débats d'experts
- Données précises, pourcentages, traités`,
}

var fallbackQuestions = map[string][]Question{
	"ww1": {
		{
			Text:          "En quelle année commence la Première Guerre mondiale ?",
			Options:       []string{"1913", "1914", "1915", "1916"},
			CorrectAnswer: 1,
			Explanation:   "La Première Guerre mondiale commence en 1914.",
		},
		{
			Text:          "Quel événement déclenche la Première Guerre mondiale ?",
			Options:       []string{"Invasion de la Belgique", "Attentat de Sarajevo", "Mobilisation russe", "Déclaration française"},
			CorrectAnswer: 1,
			Explanation:   "L'attentat de Sarajevo déclenche la guerre.",
		},
	},
	"totalitarian": {
		{
			Text:          "Qui arrive au pouvoir en Allemagne en 1933 ?",
			Options:       []string{"Mussolini", "Staline", "Hitler", "Franco"},
			CorrectAnswer: 2,
			Explanation:   "Adolf Hitler devient chancelier allemand en janvier 1933.",
		},
		{
			Text:          "Qui dirige l'URSS après Lénine ?",
			Options:       []string{"Trotski", "Staline", "Khrouchtchev", "Molotov"},
			CorrectAnswer: 1,
			Explanation:   "Staline prend le pouvoir après la mort de Lénine.",
		},
	},
}

func fallbackQuestion(topicID string, rank, index int) Question {
	pool, ok := fallbackQuestions[topicID]
	if !ok {
		pool = fallbackQuestions["ww1"]
	}
	q := pool[index%len(pool)]
	q.Options = append([]string(nil), q.Options...)
	q.ID = fmt.Sprintf("fallback-%s-%d-%d", topicID, rank, index+1)
	q.TopicID = topicID
	q.Level = rank
	return q
}

func copyQuestions(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, q := range qs {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}
