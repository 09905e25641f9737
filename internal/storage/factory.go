package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/platform/cache"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/platform/config"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/platform/database"
)

// NewByEngine opens the store selected by cfg.Store.Engine. db is only
// required by the postgres engine.
func NewByEngine(ctx context.Context, cfg *config.Config, db *database.DB) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Engine)) {
	case config.EngineMemory:
		return NewMemoryStore(), nil
	case "", config.EngineFile:
		return NewFileStore(cfg.Store.Path)
	case config.EngineSQLite:
		return NewSQLiteStore(cfg.Store.Path)
	case config.EngineRedis:
		c, err := cache.New(ctx, cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		return NewRedisStore(c)
	case config.EnginePostgres:
		if db == nil {
			return nil, errors.New("postgres store needs a database connection")
		}
		return NewPostgresStore(db.Pool)
	default:
		return nil, errors.New("unsupported store engine: " + cfg.Store.Engine)
	}
}
