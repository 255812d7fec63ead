package analyze

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/meridian-tax/refund-cli/internal/model"
)

// RunLog is the append-only audit file for one run: one JSON line per row
// event, plus a trailing summary line.
type RunLog struct {
	path string
	file *os.File
	enc  *json.Encoder
}

// NewRunLog creates <dir>/<runID>.jsonl, creating dir if needed.
func NewRunLog(dir, runID string) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "runlog: create dir %s", dir)
	}

	path := filepath.Join(dir, runID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: open %s", path)
	}

	return &RunLog{path: path, file: file, enc: json.NewEncoder(file)}, nil
}

// Path returns the log file location.
func (l *RunLog) Path() string { return l.path }

// Append writes one row event as a JSON line.
func (l *RunLog) Append(event *model.RowEvent) error {
	if err := l.enc.Encode(event); err != nil {
		return eris.Wrap(err, "runlog: append row event")
	}
	return nil
}

// WriteSummary writes the trailing summary line.
func (l *RunLog) WriteSummary(summary *model.RunSummary) error {
	line := struct {
		Summary *model.RunSummary `json:"summary"`
	}{Summary: summary}
	if err := l.enc.Encode(line); err != nil {
		return eris.Wrap(err, "runlog: write summary")
	}
	return nil
}

// Close flushes and closes the log file.
func (l *RunLog) Close() error {
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return eris.Wrap(err, "runlog: sync")
	}
	return eris.Wrap(l.file.Close(), "runlog: close")
}
