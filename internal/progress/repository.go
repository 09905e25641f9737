package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/storage"
)

// Save slots. Only StorageKey is written; LegacyStorageKey is read so older
// saves can be migrated.
const (
	StorageKey       = "history-revision-progress-v2"
	LegacyStorageKey = "history-revision-progress"
)

// LoadStatus tells how Load obtained its value.
type LoadStatus int

const (
	// StatusFresh means nothing was saved yet.
	StatusFresh LoadStatus = iota
	// StatusRestored means the current snapshot was read back.
	StatusRestored
	// StatusMigrated means a legacy snapshot was upgraded.
	StatusMigrated
	// StatusRecovered means saved data was unusable and was replaced by the
	// initial state.
	StatusRecovered
)

func (s LoadStatus) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusRestored:
		return "restored"
	case StatusMigrated:
		return "migrated"
	case StatusRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

func (s LoadStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Repository loads and saves learner progress in a blob store.
type Repository struct {
	store storage.Store
	order []string
}

// NewRepository creates a repository over store. order is the global topic
// order of the catalog.
func NewRepository(store storage.Store, order []string) *Repository {
	return &Repository{store: store, order: slices.Clone(order)}
}

// Fresh returns the initial progress for the catalog.
func (r *Repository) Fresh() Progress {
	return New(r.order)
}

// Load reads the saved progress. It never fails: missing, unreadable or
// corrupt data yields the initial state.
func (r *Repository) Load(ctx context.Context) (Progress, LoadStatus) {
	for _, key := range []string{StorageKey, LegacyStorageKey} {
		data, err := r.store.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			slog.Warn("reading saved progress failed, starting fresh", "key", key, "error", err)
			return r.Fresh(), StatusRecovered
		}

		p, shape, err := Decode(data, r.order)
		if err != nil {
			slog.Warn("saved progress is corrupt, starting fresh", "key", key, "error", err)
			return r.Fresh(), StatusRecovered
		}
		if shape == ShapeLegacy {
			slog.Info("migrated legacy progress", "key", key, "learner", p.LearnerName)
			return p, StatusMigrated
		}
		return p, StatusRestored
	}
	return r.Fresh(), StatusFresh
}

// Save overwrites the current save slot with p.
func (r *Repository) Save(ctx context.Context, p Progress) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}
	slog.Debug("progress saved", "key", StorageKey, "bytes", len(data))
	return nil
}

// Reset clears every save slot and returns the initial state.
func (r *Repository) Reset(ctx context.Context) (Progress, error) {
	for _, key := range []string{StorageKey, LegacyStorageKey} {
		if err := r.store.Delete(ctx, key); err != nil {
			return Progress{}, fmt.Errorf("clearing progress %s: %w", key, err)
		}
	}
	return r.Fresh(), nil
}
