package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-tax/refund-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "refund.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "q1_2024")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Nil(t, run.FinishedAt)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "q1_2024", got.Dataset)
	assert.Nil(t, got.Summary)

	summary := &model.RunSummary{
		RunID:       run.ID,
		Dataset:     "q1_2024",
		RowsTotal:   12,
		Accepted:    10,
		Fallbacks:   2,
		RefundTotal: 1234.56,
		StartedAt:   run.StartedAt,
		FinishedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CompleteRun(ctx, run.ID, summary))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 10, got.Summary.Accepted)
	assert.InDelta(t, 1234.56, got.Summary.RefundTotal, 1e-9)
}

func TestCreateRunWithID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRunWithID(ctx, "workflow-abc", "q1_2024")
	require.NoError(t, err)
	assert.Equal(t, "workflow-abc", run.ID)

	got, err := s.GetRun(ctx, "workflow-abc")
	require.NoError(t, err)
	assert.Equal(t, "q1_2024", got.Dataset)
}

func TestCompleteRunNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.CompleteRun(context.Background(), "no-such-run", &model.RunSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListRunsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, "q1_2024")
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "q2_2024")
	require.NoError(t, err)

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	q1, err := s.ListRuns(ctx, RunFilter{Dataset: "q1_2024"})
	require.NoError(t, err)
	require.Len(t, q1, 1)
	assert.Equal(t, "q1_2024", q1[0].Dataset)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRowEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "q1_2024")
	require.NoError(t, err)

	for i, status := range []model.RowStatus{model.RowAccepted, model.RowFallback} {
		ev := &model.RowEvent{
			RunID:    run.ID,
			Dataset:  "q1_2024",
			RowIndex: i,
			Vendor:   "Acme Industrial",
			Status:   status,
			ExtractionMethods: []model.ExtractionMethod{
				model.MethodDirectText,
			},
			Attempts:  1,
			Timestamp: time.Now().UTC(),
		}
		require.NoError(t, s.AppendRowEvent(ctx, ev))
	}

	events, err := s.ListRowEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.RowAccepted, events[0].Status)
	assert.Equal(t, model.RowFallback, events[1].Status)
	assert.Equal(t, []model.ExtractionMethod{model.MethodDirectText}, events[0].ExtractionMethods)
}

func TestVendorProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.GetVendorProfile(ctx, "Unknown Vendor")
	require.NoError(t, err)
	assert.Nil(t, missing)

	p := &model.VendorProfile{
		Vendor:        "Acme Industrial",
		RowsAnalyzed:  4,
		RefundRate:    0.5,
		CommonProduct: "manufacturing equipment",
	}
	require.NoError(t, s.UpsertVendorProfile(ctx, p))

	got, err := s.GetVendorProfile(ctx, "Acme Industrial")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.RowsAnalyzed)

	p.RowsAnalyzed = 5
	require.NoError(t, s.UpsertVendorProfile(ctx, p))

	got, err = s.GetVendorProfile(ctx, "Acme Industrial")
	require.NoError(t, err)
	assert.Equal(t, 5, got.RowsAnalyzed)
}

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(context.Background(), testStoreConfig(filepath.Join(dir, "x.db"), "sqlite"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	_ = s.Close()

	_, err = Open(context.Background(), testStoreConfig("", "oracle"))
	assert.Error(t, err)
}
