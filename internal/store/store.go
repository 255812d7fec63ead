// Package store persists analysis runs, per-row events, and vendor
// profiles behind a driver-selectable interface.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/meridian-tax/refund-cli/internal/config"
	"github.com/meridian-tax/refund-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Dataset string `json:"dataset,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, dataset string) (*model.Run, error)
	// CreateRunWithID records a run under a caller-chosen ID, for runs
	// whose identity is assigned elsewhere (workflow executions).
	CreateRunWithID(ctx context.Context, id, dataset string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Row events
	AppendRowEvent(ctx context.Context, event *model.RowEvent) error
	ListRowEvents(ctx context.Context, runID string) ([]model.RowEvent, error)

	// Vendor profiles
	GetVendorProfile(ctx context.Context, vendor string) (*model.VendorProfile, error)
	UpsertVendorProfile(ctx context.Context, profile *model.VendorProfile) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds a Store from config, selecting the backend by driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
