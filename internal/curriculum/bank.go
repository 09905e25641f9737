package curriculum

import "context"

// Bank is the question source consumed by quiz sessions and the service.
// Implementations must be deterministic: the same (topic, rank) pair always
// yields the same ordered questions.
type Bank interface {
	Topics() []Topic
	Topic(id string) (Topic, bool)
	Successor(id string) (Topic, bool)
	// QuestionsFor returns up to QuestionsPerLevel questions; empty when the
	// topic or level is unknown or not yet authored.
	QuestionsFor(ctx context.Context, topicID string, rank int) []Question
	IsThemeComplete(topicID string) bool
}

var (
	_ Bank = (*Loader)(nil)
	_ Bank = (*GenerativeBank)(nil)
)
