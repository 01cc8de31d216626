package telaio

import (
	"sync"

	"github.com/hashicorp/go-metrics"
)

// Runloop is a per-goroutine cooperative task queue and the only legal
// surface for cross-goroutine interaction: anything that must touch a
// goroutine's state is expressed as a task posted to that goroutine's loop.
//
// Tasks run to completion in FIFO order, one at a time, with no preemption
// by other tasks on the same loop. Tasks posted by the same caller preserve
// submission order; tasks posted by different callers interleave only at
// task granularity.
//
// The queue is unbounded: lifecycle notifications must never be dropped
// (losing one leaves the parent waiting forever), so back-pressure shows up
// as queue-depth telemetry instead of a post error.
type Runloop struct {
	name  string
	guard *guard

	msink  metrics.MetricSink
	labels []metrics.Label

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
}

// NewRunloop creates a loop not yet bound to a consumer. The creating
// goroutine owns it until Run takes over.
func NewRunloop(name string, cfg *config) *Runloop {
	rl := &Runloop{
		name:   name,
		guard:  newGuard(cfg.integrityChecks),
		msink:  cfg.msink,
		labels: append([]metrics.Label{LabelRunloop.M(name)}, cfg.metricLabels...),
	}
	rl.cond = sync.NewCond(&rl.mu)
	return rl
}

// Post enqueues fn to run on the loop's goroutine. It never executes fn
// inline and is safe from any goroutine; this is the one explicitly
// cross-goroutine entry point. It fails only once the loop has stopped
// accepting tasks.
func (rl *Runloop) Post(fn func()) error {
	rl.guard.structural()
	if fn == nil {
		faultf("runloop %q: nil task posted", rl.name)
	}

	rl.mu.Lock()
	if rl.stopped {
		rl.mu.Unlock()
		return ErrRunloopStopped
	}
	rl.queue = append(rl.queue, fn)
	depth := len(rl.queue)
	rl.mu.Unlock()

	rl.cond.Signal()
	rl.msink.IncrCounterWithLabels(MetricTaskPostCount, 1.0, rl.labels)
	rl.msink.SetGaugeWithLabels(MetricTaskQueueDepth, float32(depth), rl.labels)
	return nil
}

// Run binds the loop to the calling goroutine and drains tasks until Stop.
// Every task accepted before Stop executes exactly once, including tasks
// still queued when Stop is called.
func (rl *Runloop) Run() {
	rl.guard.check()

	for {
		rl.mu.Lock()
		for len(rl.queue) == 0 && !rl.stopped {
			rl.cond.Wait()
		}
		if len(rl.queue) == 0 && rl.stopped {
			rl.mu.Unlock()
			return
		}
		batch := rl.queue
		rl.queue = nil
		rl.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		rl.msink.IncrCounterWithLabels(MetricTaskExecCount, float32(len(batch)), rl.labels)
	}
}

// Stop makes the loop reject new tasks and return from Run once the already
// accepted ones have executed. Only the owning goroutine may stop its loop;
// other goroutines request a stop by posting a task that calls it.
func (rl *Runloop) Stop() {
	rl.guard.check()

	rl.mu.Lock()
	rl.stopped = true
	rl.mu.Unlock()
	rl.cond.Broadcast()
}
