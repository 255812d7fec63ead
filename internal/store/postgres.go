package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-tax/refund-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	dataset     TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	summary     JSONB
);

CREATE TABLE IF NOT EXISTS row_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	row_index  INTEGER NOT NULL,
	event      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_profiles (
	vendor     TEXT PRIMARY KEY,
	profile    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);
CREATE INDEX IF NOT EXISTS idx_row_events_run_id ON row_events(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, dataset string) (*model.Run, error) {
	return s.CreateRunWithID(ctx, uuid.New().String(), dataset)
}

func (s *PostgresStore) CreateRunWithID(ctx context.Context, id, dataset string) (*model.Run, error) {
	run := &model.Run{
		ID:        id,
		Dataset:   dataset,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, dataset, started_at) VALUES ($1, $2, $3)`,
		run.ID, run.Dataset, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET finished_at = $1, summary = $2 WHERE id = $3`,
		time.Now().UTC(), string(summaryJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, dataset, started_at, finished_at, summary FROM runs WHERE id = $1`,
		runID,
	)
	return scanPGRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, dataset, started_at, finished_at, summary FROM runs`
	var args []any

	if filter.Dataset != "" {
		args = append(args, filter.Dataset)
		query += ` WHERE dataset = $1`
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendRowEvent(ctx context.Context, event *model.RowEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal row event")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO row_events (id, run_id, row_index, event, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), event.RunID, event.RowIndex, string(eventJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert row event for run %s", event.RunID)
}

func (s *PostgresStore) ListRowEvents(ctx context.Context, runID string) ([]model.RowEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event FROM row_events WHERE run_id = $1 ORDER BY created_at, row_index`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list row events for run %s", runID)
	}
	defer rows.Close()

	var events []model.RowEvent
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row event")
		}
		var ev model.RowEvent
		if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal row event")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list row events iterate")
}

func (s *PostgresStore) GetVendorProfile(ctx context.Context, vendor string) (*model.VendorProfile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT profile FROM vendor_profiles WHERE vendor = $1`,
		vendor,
	)

	var profileJSON string
	err := row.Scan(&profileJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get vendor profile %s", vendor)
	}

	var p model.VendorProfile
	if err := json.Unmarshal([]byte(profileJSON), &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal vendor profile")
	}
	return &p, nil
}

func (s *PostgresStore) UpsertVendorProfile(ctx context.Context, profile *model.VendorProfile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal vendor profile")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO vendor_profiles (vendor, profile, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (vendor) DO UPDATE SET profile = EXCLUDED.profile, updated_at = EXCLUDED.updated_at`,
		profile.Vendor, string(profileJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert vendor profile %s", profile.Vendor)
}

func scanPGRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var finishedAt *time.Time
	var summaryJSON *string

	err := row.Scan(&r.ID, &r.Dataset, &r.StartedAt, &finishedAt, &summaryJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	r.FinishedAt = finishedAt
	if summaryJSON != nil {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(*summaryJSON), r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}
