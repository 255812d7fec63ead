package worker

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/meridian-tax/refund-cli/internal/config"
)

// Run dials the Temporal server and serves the analysis task queue until
// interrupted.
func Run(cfg *config.Config, activities *Activities) error {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return eris.Wrap(err, "worker: dial temporal")
	}
	defer c.Close()

	w := worker.New(c, TaskQueue, worker.Options{})
	w.RegisterWorkflow(AnalyzeDataset)
	w.RegisterActivity(activities)

	zap.L().Info("worker started",
		zap.String("task_queue", TaskQueue),
		zap.String("host_port", cfg.Temporal.HostPort),
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		return eris.Wrap(err, "worker: run")
	}
	return nil
}
