package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-tax/refund-cli/internal/config"
	"github.com/meridian-tax/refund-cli/internal/model"
)

func testStoreConfig(url, driver string) config.StoreConfig {
	return config.StoreConfig{Driver: driver, DatabaseURL: url}
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresCreateRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "q1_2024", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "q1_2024")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteRunNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET finished_at`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", &model.RunSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendRowEvent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO row_events`).
		WithArgs(pgxmock.AnyArg(), "run-1", 3, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendRowEvent(context.Background(), &model.RowEvent{
		RunID:    "run-1",
		Dataset:  "q1_2024",
		RowIndex: 3,
		Status:   model.RowAccepted,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetVendorProfile(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT profile FROM vendor_profiles`).
		WithArgs("Acme Industrial").
		WillReturnRows(pgxmock.NewRows([]string{"profile"}).
			AddRow(`{"vendor":"Acme Industrial","rows_analyzed":7,"refund_rate":0.42}`))

	p, err := s.GetVendorProfile(context.Background(), "Acme Industrial")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 7, p.RowsAnalyzed)
	assert.InDelta(t, 0.42, p.RefundRate, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetVendorProfileMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT profile FROM vendor_profiles`).
		WithArgs("Nobody").
		WillReturnRows(pgxmock.NewRows([]string{"profile"}))

	p, err := s.GetVendorProfile(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRowEvents(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT event FROM row_events`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"event"}).
			AddRow(`{"run_id":"run-1","dataset":"q1","row_index":0,"status":"accepted","attempts":1}`).
			AddRow(`{"run_id":"run-1","dataset":"q1","row_index":1,"status":"fallback","attempts":2}`))

	events, err := s.ListRowEvents(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.RowAccepted, events[0].Status)
	assert.Equal(t, 2, events[1].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
