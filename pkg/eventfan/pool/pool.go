// Package pool runs asynchronous listener invocations on a bounded set of
// reusable worker goroutines with a bounded pending-task queue.
//
// Submission follows the classic executor order: start a core worker, else
// queue, else start an extra worker up to the maximum, else apply the
// saturation policy. No path drops a task silently.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/eventfan/pkg/eventfan/observability"
)

// Config configures pool behavior.
type Config struct {
	// CorePoolSize is the number of workers kept alive while idle.
	// Default: 5
	CorePoolSize int

	// MaxPoolSize caps the worker count once the queue is full.
	// Default: 10 (or CorePoolSize if larger)
	MaxPoolSize int

	// QueueCapacity bounds the pending-task queue.
	// Default: 25
	QueueCapacity int

	// ThreadNamePrefix prefixes worker names used in logs.
	// Default: "event-worker-"
	ThreadNamePrefix string

	// AwaitTermination is the drain timeout used by Close.
	// Default: 60s
	AwaitTermination time.Duration

	// KeepAlive is how long an idle extra worker lingers before exiting.
	// Default: 60s
	KeepAlive time.Duration

	// Policy applies once workers and queue are exhausted.
	// Default: CallerRuns
	Policy Policy

	// Logger receives failure, saturation and shutdown logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics records submission outcomes and occupancy.
	// Default: observability.NoopMetrics{}
	Metrics observability.Recorder

	// OnFailure is called after a task returns an error or panics.
	OnFailure func(Failure)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	CorePoolSize:     5,
	MaxPoolSize:      10,
	QueueCapacity:    25,
	ThreadNamePrefix: "event-worker-",
	AwaitTermination: 60 * time.Second,
	KeepAlive:        60 * time.Second,
	Policy:           CallerRuns,
}

// Task is one unit of asynchronous work.
type Task struct {
	// Name identifies the work in logs (the listener name).
	Name string
	// Kind and EventID describe the event being handled.
	Kind    string
	EventID string
	// Context is passed to Run, annotated with the worker name.
	// Nil means context.Background().
	Context context.Context
	Run     func(ctx context.Context) error
}

// Failure describes a task that returned an error or panicked.
type Failure struct {
	Task    string
	Kind    string
	EventID string
	Worker  string
	Err     error
}

// DrainReport summarizes a shutdown.
type DrainReport struct {
	// Completed counts tasks that finished after shutdown began.
	Completed int
	// Discarded counts queued tasks dropped because the timeout expired.
	Discarded int
	// Running counts tasks still executing when Shutdown returned.
	Running int
	// TimedOut is true when the workers did not drain in time.
	TimedOut bool
	// Elapsed is how long Shutdown took.
	Elapsed time.Duration
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Workers int `json:"workers"`
	Queued  int `json:"queued"`
	Active  int `json:"active"`
	// Completed includes failed tasks.
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
	CallerRuns int64 `json:"caller_runs"`
	Discarded  int64 `json:"discarded"`
}

// Pool is a bounded worker pool.
type Pool struct {
	config  Config
	logger  *slog.Logger
	metrics observability.Recorder

	queue chan Task
	// quit wakes blocked submitters; drain tells workers to empty the queue and exit.
	quit  chan struct{}
	drain chan struct{}

	mu       sync.Mutex
	workers  int
	nextID   int
	shutdown bool

	workerWG   sync.WaitGroup
	blockingWG sync.WaitGroup

	active     atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	rejected   atomic.Int64
	callerRuns atomic.Int64
	discarded  atomic.Int64
	aborted    atomic.Bool

	shutdownOnce sync.Once
	report       DrainReport
}

// New creates a pool. Zero-valued fields take their defaults.
func New(config Config) (*Pool, error) {
	if config.CorePoolSize == 0 {
		config.CorePoolSize = DefaultConfig.CorePoolSize
	}
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = max(DefaultConfig.MaxPoolSize, config.CorePoolSize)
	}
	if config.QueueCapacity == 0 {
		config.QueueCapacity = DefaultConfig.QueueCapacity
	}
	if config.ThreadNamePrefix == "" {
		config.ThreadNamePrefix = DefaultConfig.ThreadNamePrefix
	}
	if config.AwaitTermination <= 0 {
		config.AwaitTermination = DefaultConfig.AwaitTermination
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = DefaultConfig.KeepAlive
	}

	switch {
	case config.CorePoolSize < 1:
		return nil, fmt.Errorf("pool: core size must be at least 1, got %d", config.CorePoolSize)
	case config.MaxPoolSize < config.CorePoolSize:
		return nil, fmt.Errorf("pool: max size %d is below core size %d", config.MaxPoolSize, config.CorePoolSize)
	case config.QueueCapacity < 1:
		return nil, fmt.Errorf("pool: queue capacity must be at least 1, got %d", config.QueueCapacity)
	case config.Policy < CallerRuns || config.Policy > Block:
		return nil, fmt.Errorf("pool: unknown saturation policy %d", config.Policy)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	p := &Pool{
		config:  config,
		logger:  logger.With(slog.String("component", "pool")),
		metrics: metrics,
		queue:   make(chan Task, config.QueueCapacity),
		quit:    make(chan struct{}),
		drain:   make(chan struct{}),
	}

	if err := metrics.ObservePool(p.occupancy); err != nil {
		p.logger.Warn("pool gauges unavailable", slog.String("error", err.Error()))
	}

	return p, nil
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Submit hands a task to the pool.
//
// It returns ErrShutdown once Shutdown has begun and a *SaturationError when
// the Abort policy rejects the task (or a blocked submission gives up).
// Under Block, a submission made from one of this pool's own workers runs on
// that worker instead of waiting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task.Run == nil {
		return ErrNilTask
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.rejected.Add(1)
		p.metrics.RecordSubmission(ctx, observability.OutcomeShutdown)
		return ErrShutdown
	}

	if p.workers < p.config.CorePoolSize {
		p.startWorkerLocked(task, true)
		p.mu.Unlock()
		p.metrics.RecordSubmission(ctx, observability.OutcomeStarted)
		return nil
	}

	select {
	case p.queue <- task:
		p.mu.Unlock()
		p.metrics.RecordSubmission(ctx, observability.OutcomeQueued)
		return nil
	default:
	}

	if p.workers < p.config.MaxPoolSize {
		p.startWorkerLocked(task, false)
		p.mu.Unlock()
		p.metrics.RecordSubmission(ctx, observability.OutcomeExtra)
		return nil
	}

	workers, queued := p.workers, len(p.queue)
	caller := workerOf(ctx)
	if caller.name == "" {
		caller = workerOf(task.Context)
	}
	policy := p.config.Policy
	if policy == Block && caller.owner == p {
		// Only this pool's workers can free the queue, so one of them must
		// not wait on it.
		policy = CallerRuns
	}
	if policy == Block {
		// Registered under the lock so Shutdown waits for this submitter.
		p.blockingWG.Add(1)
	}
	p.mu.Unlock()

	observability.LogSaturation(p.logger, task.Name, task.Kind, policy.String(), workers, queued)

	switch policy {
	case Abort:
		p.rejected.Add(1)
		p.metrics.RecordSubmission(ctx, observability.OutcomeRejected)
		return &SaturationError{Task: task.Name, Kind: task.Kind, Workers: workers, Queued: queued, Policy: Abort}

	case Block:
		defer p.blockingWG.Done()
		select {
		case p.queue <- task:
			p.metrics.RecordSubmission(ctx, observability.OutcomeBlocked)
			return nil
		case <-ctx.Done():
			p.rejected.Add(1)
			p.metrics.RecordSubmission(ctx, observability.OutcomeRejected)
			return &SaturationError{Task: task.Name, Kind: task.Kind, Workers: workers, Queued: queued, Policy: Block, Cause: ctx.Err()}
		case <-p.quit:
			p.rejected.Add(1)
			p.metrics.RecordSubmission(ctx, observability.OutcomeShutdown)
			return ErrShutdown
		}

	default:
		p.callerRuns.Add(1)
		p.metrics.RecordSubmission(ctx, observability.OutcomeCallerRuns)
		if caller.name == "" {
			caller = workerTag{name: CallerWorker}
		}
		p.active.Add(1)
		defer p.active.Add(-1)
		p.run(caller, task)
		return nil
	}
}

// startWorkerLocked spawns a worker whose first task is first. p.mu must be held.
func (p *Pool) startWorkerLocked(first Task, core bool) {
	p.nextID++
	p.workers++
	name := p.config.ThreadNamePrefix + strconv.Itoa(p.nextID)

	p.active.Add(1)
	p.workerWG.Add(1)
	go p.work(name, first, core)
}

func (p *Pool) work(name string, first Task, core bool) {
	defer p.workerWG.Done()

	tag := workerTag{name: name, owner: p}
	p.run(tag, first)
	p.active.Add(-1)

	var idle *time.Timer
	if !core {
		idle = time.NewTimer(p.config.KeepAlive)
		defer idle.Stop()
	}

	for {
		var expired <-chan time.Time
		if idle != nil {
			expired = idle.C
		}

		select {
		case task := <-p.queue:
			p.execute(tag, task)
			if idle != nil {
				resetTimer(idle, p.config.KeepAlive)
			}

		case <-p.drain:
			for {
				select {
				case task := <-p.queue:
					p.execute(tag, task)
				default:
					p.exitWorker()
					return
				}
			}

		case <-expired:
			p.exitWorker()
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (p *Pool) exitWorker() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

// execute runs a dequeued task unless a timed-out shutdown is discarding work.
func (p *Pool) execute(worker workerTag, task Task) {
	if p.aborted.Load() {
		p.discarded.Add(1)
		return
	}
	p.active.Add(1)
	defer p.active.Add(-1)
	p.run(worker, task)
}

// run executes a task with failure isolation. The worker survives any error
// or panic the task produces.
func (p *Pool) run(tag workerTag, task Task) {
	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = withWorker(ctx, tag)
	worker := tag.name

	err := safeRun(ctx, task.Run)
	p.completed.Add(1)
	if err == nil {
		return
	}

	p.failed.Add(1)
	observability.LogListenerFailure(p.logger, task.Kind, task.Name, "async", worker, err)
	if p.config.OnFailure != nil {
		p.config.OnFailure(Failure{
			Task:    task.Name,
			Kind:    task.Kind,
			EventID: task.EventID,
			Worker:  worker,
			Err:     err,
		})
	}
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Shutdown stops accepting tasks and waits up to timeout for queued and
// running tasks to finish. On timeout the remaining queued tasks are
// discarded; running tasks are not interrupted.
//
// Shutdown is idempotent; later calls return the first report.
func (p *Pool) Shutdown(timeout time.Duration) DrainReport {
	p.shutdownOnce.Do(func() {
		p.report = p.shutdownNow(timeout)
	})
	return p.report
}

func (p *Pool) shutdownNow(timeout time.Duration) DrainReport {
	start := time.Now()
	completedBefore := p.completed.Load()

	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()

	close(p.quit)
	p.blockingWG.Wait()
	close(p.drain)

	done := make(chan struct{})
	go func() {
		p.workerWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	report := DrainReport{}
	select {
	case <-done:
	case <-timer.C:
		p.aborted.Store(true)
		report.TimedOut = true
	drainLoop:
		for {
			select {
			case <-p.queue:
				p.discarded.Add(1)
			default:
				break drainLoop
			}
		}
	}

	report.Completed = int(p.completed.Load() - completedBefore)
	report.Discarded = int(p.discarded.Load())
	report.Running = int(p.active.Load())
	report.Elapsed = time.Since(start)

	p.metrics.RecordDiscarded(context.Background(), int64(report.Discarded))
	observability.LogShutdown(p.logger, report.Completed, report.Discarded, report.Running, report.TimedOut, report.Elapsed)

	return report
}

// Close shuts down with the configured AwaitTermination timeout.
func (p *Pool) Close() error {
	report := p.Shutdown(p.config.AwaitTermination)
	if report.TimedOut {
		return fmt.Errorf("%w: %d discarded, %d still running", ErrDrainTimeout, report.Discarded, report.Running)
	}
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()

	return Stats{
		Workers:    workers,
		Queued:     len(p.queue),
		Active:     int(p.active.Load()),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
		CallerRuns: p.callerRuns.Load(),
		Discarded:  p.discarded.Load(),
	}
}

func (p *Pool) occupancy() (int64, int64) {
	s := p.Stats()
	return int64(s.Workers), int64(s.Queued)
}
