// Package worker runs dataset analysis on a Temporal task queue, so large
// quarters can be fanned out across machines while spreadsheet writes stay
// serialized in a single activity.
package worker

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/meridian-tax/refund-cli/internal/analyze"
	"github.com/meridian-tax/refund-cli/internal/model"
)

const TaskQueue = "REFUND_ANALYSIS_TASK_QUEUE"

// maxParallelRows bounds concurrent reasoning activities per workflow.
const maxParallelRows = 4

// AnalyzeDatasetInput starts one dataset workflow.
type AnalyzeDatasetInput struct {
	Dataset string             `json:"dataset"`
	Options analyze.RunOptions `json:"options"`
}

// AnalyzeDataset fans AnalyzeRow activities out over the task queue and then
// writes every decision back in one serialized activity. Reasoning calls are
// the slow, retriable part; the spreadsheet write must not interleave.
func AnalyzeDataset(ctx workflow.Context, input AnalyzeDatasetInput) (*model.RunSummary, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("dataset workflow started", "dataset", input.Dataset)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var rows []RowRef
	if err := workflow.ExecuteActivity(ctx, "ListRows", input).Get(ctx, &rows); err != nil {
		return nil, err
	}

	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	results := make([]analyze.RowResult, len(rows))

	// Bounded fan-out: a channel of row slots drained by worker goroutines.
	slots := workflow.NewChannel(ctx)
	var pending int
	done := workflow.NewChannel(ctx)

	parallel := maxParallelRows
	if len(rows) < parallel {
		parallel = len(rows)
	}
	for g := 0; g < parallel; g++ {
		workflow.Go(ctx, func(gctx workflow.Context) {
			for {
				var i int
				if !slots.Receive(gctx, &i) {
					return
				}
				in := AnalyzeRowInput{RunID: runID, Dataset: input.Dataset, Row: rows[i]}
				var res analyze.RowResult
				if err := workflow.ExecuteActivity(gctx, "AnalyzeRow", in).Get(gctx, &res); err != nil {
					logger.Error("row activity failed", "row", rows[i].Index, "error", err)
					res = analyze.RowResult{Event: model.RowEvent{
						RunID:    runID,
						Dataset:  input.Dataset,
						RowIndex: rows[i].Index,
						Status:   model.RowSkipped,
					}}
				}
				results[i] = res
				done.Send(gctx, i)
			}
		})
	}

	workflow.Go(ctx, func(gctx workflow.Context) {
		for i := range rows {
			slots.Send(gctx, i)
		}
		slots.Close()
	})

	for ; pending < len(rows); pending++ {
		var i int
		done.Receive(ctx, &i)
	}

	write := WriteInput{RunID: runID, Dataset: input.Dataset, Options: input.Options, Results: results}
	var summary model.RunSummary
	if err := workflow.ExecuteActivity(ctx, "WriteResults", write).Get(ctx, &summary); err != nil {
		return nil, err
	}

	logger.Info("dataset workflow complete",
		"dataset", input.Dataset,
		"rows", summary.RowsTotal,
		"accepted", summary.Accepted,
	)
	return &summary, nil
}
