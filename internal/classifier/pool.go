package classifier

import (
	"context"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome pairs a task's result with its own error.
type Outcome struct {
	Result
	Err error
}

// Pool classifies tasks on a bounded number of goroutines.
type Pool struct {
	classifier Classifier
	workers    int
	logger     *zap.Logger
}

// NewPool creates a pool. workers <= 0 uses GOMAXPROCS.
func NewPool(c Classifier, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{classifier: c, workers: workers, logger: logger}
}

// Run classifies every task and returns one outcome per task, in task
// order. A failing task never affects its siblings. Once ctx is done no
// further tasks start; those report ctx.Err(). Tasks already running are
// left to finish.
func (p *Pool) Run(ctx context.Context, tasks []ClassificationTask) []Outcome {
	out := make([]Outcome, len(tasks))
	var g errgroup.Group
	g.SetLimit(p.workers)

	var failed atomic.Int32
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(tasks); j++ {
				out[j] = Outcome{Result: Result{Task: tasks[j]}, Err: err}
			}
			p.logger.Warn("classification cancelled",
				zap.Int("scheduled", i),
				zap.Int("skipped", len(tasks)-i))
			break
		}

		g.Go(func() error {
			// ctx may have ended while this task waited for a worker.
			if err := ctx.Err(); err != nil {
				out[i] = Outcome{Result: Result{Task: task}, Err: err}
				return nil
			}
			res, err := p.classifier.Classify(ctx, task)
			if err != nil {
				failed.Add(1)
				p.logger.Debug("task failed", zap.Stringer("task", task), zap.Error(err))
				out[i] = Outcome{Result: Result{Task: task}, Err: err}
				return nil
			}
			out[i] = Outcome{Result: res}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Debug("classification finished",
		zap.String("classifier", p.classifier.Name()),
		zap.Int("tasks", len(tasks)),
		zap.Int32("failed", failed.Load()))
	return out
}
