package backend

import (
	"github.com/runnerr0/chronicle/internal/dispatch"
)

// TaskStatus is returned by each run of a DBTask.
type TaskStatus int

const (
	// TaskDone completes the task, and its request receives TaskDone.
	TaskDone TaskStatus = iota
	// TaskYield re-queues the task, to be continued after other queued tasks.
	TaskYield
	// TaskCanceled drops the task without completing its request.
	TaskCanceled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskDone:
		return "done"
	case TaskYield:
		return "yield"
	case TaskCanceled:
		return "canceled"
	}
	return "unknown"
}

// DBTask is a unit of work run against the backend on its owner loop. A
// long-running task does a bounded amount of work per run and yields, so
// that other work of the loop may interleave.
type DBTask interface {
	RunOnDBThread(b *HistoryBackend) TaskStatus
}

// DBTaskFunc adapts a function to a DBTask.
type DBTaskFunc func(b *HistoryBackend) TaskStatus

// RunOnDBThread invokes the DBTaskFunc.
func (fn DBTaskFunc) RunOnDBThread(b *HistoryBackend) TaskStatus { return fn(b) }

type dbTaskRequest struct {
	task DBTask
	req  *dispatch.Request[TaskStatus]
}

// ProcessDBTask queues |task|, which runs until it completes or is canceled.
// A canceled |req| is not queued.
func (b *HistoryBackend) ProcessDBTask(task DBTask, req *dispatch.Request[TaskStatus]) {
	if req.Canceled() {
		canceledRequestsTotal.Inc()
		return
	}
	var scheduled = len(b.dbTasks) != 0
	b.dbTasks = append(b.dbTasks, &dbTaskRequest{task: task, req: req})
	if !scheduled {
		b.loop.Post(b.processDBTasks)
	}
}

// processDBTasks runs one task from the front of the queue, and posts
// itself again while tasks remain.
func (b *HistoryBackend) processDBTasks() {
	if len(b.dbTasks) == 0 || b.closed {
		return
	}
	var r = b.dbTasks[0]
	b.dbTasks[0] = nil
	b.dbTasks = b.dbTasks[1:]

	if r.req.Canceled() {
		canceledRequestsTotal.Inc()
	} else {
		switch status := r.task.RunOnDBThread(b); status {
		case TaskDone:
			r.req.ForwardResult(TaskDone)
		case TaskYield:
			dbTaskYieldsTotal.Inc()
			b.dbTasks = append(b.dbTasks, r)
		case TaskCanceled:
		}
	}

	if len(b.dbTasks) != 0 {
		b.loop.Post(b.processDBTasks)
	}
}

// PendingDBTasks returns the number of queued tasks.
func (b *HistoryBackend) PendingDBTasks() int { return len(b.dbTasks) }

// releaseDBTasks drops queued tasks, which will never complete.
func (b *HistoryBackend) releaseDBTasks() {
	for _, r := range b.dbTasks {
		r.req.Cancel()
	}
	b.dbTasks = nil
}
