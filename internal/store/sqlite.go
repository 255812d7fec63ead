package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-tax/refund-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	dataset     TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	summary     TEXT
);

CREATE TABLE IF NOT EXISTS row_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	row_index  INTEGER NOT NULL,
	event      TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_profiles (
	vendor     TEXT PRIMARY KEY,
	profile    TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);
CREATE INDEX IF NOT EXISTS idx_row_events_run_id ON row_events(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, dataset string) (*model.Run, error) {
	return s.CreateRunWithID(ctx, uuid.New().String(), dataset)
}

func (s *SQLiteStore) CreateRunWithID(ctx context.Context, id, dataset string) (*model.Run, error) {
	run := &model.Run{
		ID:        id,
		Dataset:   dataset,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dataset, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Dataset, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, summary = ? WHERE id = ?`,
		time.Now().UTC(), string(summaryJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dataset, started_at, finished_at, summary FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, dataset, started_at, finished_at, summary FROM runs WHERE 1=1`
	var args []any

	if filter.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, filter.Dataset)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AppendRowEvent(ctx context.Context, event *model.RowEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal row event")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO row_events (id, run_id, row_index, event, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), event.RunID, event.RowIndex, string(eventJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert row event for run %s", event.RunID)
}

func (s *SQLiteStore) ListRowEvents(ctx context.Context, runID string) ([]model.RowEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event FROM row_events WHERE run_id = ? ORDER BY created_at, row_index`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list row events for run %s", runID)
	}
	defer rows.Close()

	var events []model.RowEvent
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row event")
		}
		var ev model.RowEvent
		if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal row event")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list row events iterate")
}

func (s *SQLiteStore) GetVendorProfile(ctx context.Context, vendor string) (*model.VendorProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT profile FROM vendor_profiles WHERE vendor = ?`,
		vendor,
	)

	var profileJSON string
	err := row.Scan(&profileJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get vendor profile %s", vendor)
	}

	var p model.VendorProfile
	if err := json.Unmarshal([]byte(profileJSON), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal vendor profile")
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertVendorProfile(ctx context.Context, profile *model.VendorProfile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal vendor profile")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vendor_profiles (vendor, profile, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(vendor) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at`,
		profile.Vendor, string(profileJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert vendor profile %s", profile.Vendor)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var finishedAt sql.NullTime
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Dataset, &r.StartedAt, &finishedAt, &summaryJSON)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
