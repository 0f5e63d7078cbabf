package queue

import (
	"context"
	"fmt"

	"waveq/internal/config"
)

// Open builds the store selected by store.backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("open store: config is required")
	}
	switch cfg.Store.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	default:
		return OpenSQL(ctx, cfg.Store.Backend, cfg.Store.DSN)
	}
}
