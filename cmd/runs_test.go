package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-tax/refund-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Dataset:   "q1-2026",
			StartedAt: now,
			Summary: &model.RunSummary{
				RowsTotal:   42,
				Accepted:    38,
				RefundTotal: 1234.56,
			},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Dataset:   "q4-2025",
			StartedAt: now.Add(-24 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "RUN ID")
	assert.Contains(t, output, "q1-2026")
	assert.Contains(t, output, "42")
	assert.Contains(t, output, "$1234.56")

	// A run without a summary renders placeholders, not zeros.
	assert.Contains(t, output, "q4-2025")
	assert.Contains(t, output, "-")
}
