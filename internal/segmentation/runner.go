package segmentation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Task is the explicit payload handed from job creation to background
// execution; the job id is the correlation key between the two.
type Task struct {
	JobID        uuid.UUID
	TenantID     uuid.UUID
	DatasetID    uuid.UUID
	Mode         string
	Features     []string
	ClusterCount int
}

// Runner is a channel-fed worker pool for dispatched analysis tasks.
// Submission is fire-and-forget: callers learn the outcome by polling the
// job record, never from the runner.
type Runner struct {
	tasks  chan Task
	handle func(Task)
	wg     sync.WaitGroup
}

// NewRunner creates a Runner that feeds tasks to handle. buffer bounds how
// many submitted-but-unstarted tasks can pile up before Submit blocks.
func NewRunner(buffer int, handle func(Task)) *Runner {
	if buffer < 1 {
		buffer = 1
	}
	return &Runner{
		tasks:  make(chan Task, buffer),
		handle: handle,
	}
}

// Start launches workers goroutines that drain the task channel until ctx is
// cancelled. In-flight tasks run to completion; there is no per-task
// cancellation or timeout.
func (r *Runner) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-r.tasks:
					r.handle(task)
				}
			}
		}()
	}
}

// Submit enqueues a task, blocking if the queue is full.
func (r *Runner) Submit(task Task) {
	slog.Debug("task submitted", "job_id", task.JobID, "mode", task.Mode)
	r.tasks <- task
}

// Wait blocks until all workers have exited after their context cancelled.
func (r *Runner) Wait() {
	r.wg.Wait()
}
