package pool

import "context"

// CallerWorker labels tasks executed on the submitting goroutine by the
// CallerRuns policy.
const CallerWorker = "caller"

type workerKey struct{}

// workerTag identifies the goroutine running a task. owner is the pool whose
// worker it is, nil for caller goroutines.
type workerTag struct {
	name  string
	owner *Pool
}

// WorkerName returns the name of the pool worker running the current task,
// CallerWorker for caller-run tasks, or "" outside the pool.
func WorkerName(ctx context.Context) string {
	return workerOf(ctx).name
}

func workerOf(ctx context.Context) workerTag {
	if ctx == nil {
		return workerTag{}
	}
	tag, _ := ctx.Value(workerKey{}).(workerTag)
	return tag
}

func withWorker(ctx context.Context, tag workerTag) context.Context {
	return context.WithValue(ctx, workerKey{}, tag)
}
