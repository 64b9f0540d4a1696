package resource

import (
	"context"

	"notekit/internal/config"
)

// OpenConfigured opens and initializes the store described by cfg.
func OpenConfigured(ctx context.Context, cfg config.Config) (*Store, error) {
	cfg = cfg.WithDefaults()
	store, err := Open(cfg.DBPath(), OpenOptions{
		ResourceDir: cfg.ResourceDir,
		BusyTimeout: cfg.DBBusyTimeout,
		LockTimeout: cfg.DBLockTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
