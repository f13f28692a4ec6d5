package tasks

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultTaskTimeout = 5 * time.Minute

var _ TaskRunner = (*Pool)(nil)

// Pool runs tasks with bounded parallelism. A failing task never cancels its
// siblings.
type Pool struct {
	workerCount int
	taskTimeout time.Duration
}

func NewPool(workerCount int, taskTimeout time.Duration) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	return &Pool{
		workerCount: workerCount,
		taskTimeout: taskTimeout,
	}
}

func (p *Pool) Run(ctx context.Context, tasks []TaskInterface) []error {
	errs := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.workerCount)

	for i, task := range tasks {
		g.Go(func() error {
			errs[i] = p.executeTask(ctx, task)
			return nil
		})
	}

	// Task errors live in errs; the group itself never fails.
	_ = g.Wait()

	return errs
}

func (p *Pool) executeTask(ctx context.Context, task TaskInterface) error {
	task.Start()

	taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err != nil {
		slog.Warn("Task execution failed",
			"type", string(task.GetType()),
			"id", task.GetID(),
			"feed", task.GetFeedName(),
			"duration", task.GetDuration().String(),
			"error", err)
		return err
	}

	slog.Debug("Task completed",
		"type", string(task.GetType()),
		"id", task.GetID(),
		"feed", task.GetFeedName(),
		"duration", task.GetDuration().String())
	return nil
}
