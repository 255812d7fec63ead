package main

import (
	"context"

	"github.com/meridian-tax/refund-cli/internal/store"
)

// initStore opens the configured persistence backend, or returns nil when
// none is configured. Persistence is optional for analysis runs; the run
// log is always written.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, nil
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
