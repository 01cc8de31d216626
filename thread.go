package telaio

import (
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/hashicorp/go-metrics"
)

// threadState is the lifecycle of an extension thread. Transitions only
// happen on the owning goroutine; the close trigger is the one any-thread
// operation and it merely posts a task here.
type threadState uint8

const (
	threadInit threadState = iota
	threadCreatingExtensions
	threadNormal
	threadPrepareToClose
	threadClosed
)

func (s threadState) String() string {
	switch s {
	case threadInit:
		return "init"
	case threadCreatingExtensions:
		return "creating_extensions"
	case threadNormal:
		return "normal"
	case threadPrepareToClose:
		return "prepare_to_close"
	case threadClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// extensionThread runs one extension group: one dedicated goroutine pinned
// to an OS thread, one Runloop, and the extensions assigned to the group.
// All extension code of the group executes here and nowhere else.
//
// The parent creates the object, attaches it to its context and group, and
// calls start, which blocks until the child's Runloop exists; from then on
// every interaction with the thread is a posted task. The thread reports
// "extensions created" and "closed" back by posting to the engine's loop, so
// engine state is only ever mutated by the engine's own goroutine.
type extensionThread struct {
	engine *Engine
	group  string

	logger *slog.Logger
	guard  *guard
	store  *extensionStore

	ctx       *extensionContext
	nodes     []NodeSpec
	factories []ExtensionFactory

	// Everything below the guard line is owner-goroutine state.
	loop  *Runloop
	tid   uint64
	state threadState
	hosts []*extHost

	// deferredClose records a close that arrived mid-creation; it is
	// honoured as soon as creation completes.
	deferredClose bool

	// closeTriggered is the any-thread one-shot: a second close request is
	// a no-op no matter how far teardown has progressed.
	closeTriggered atomic.Bool

	ready chan struct{}
	done  chan struct{}
}

func newExtensionThread(e *Engine, group string) *extensionThread {
	return &extensionThread{
		engine: e,
		group:  group,
		logger: e.logger.With(LabelGroup.L(group)),
		guard:  newGuard(e.cfg.integrityChecks),
		store:  newExtensionStore(e.cfg.integrityChecks),
		state:  threadInit,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// attach binds the thread to its owning context and group content. Must
// happen exactly once, before start.
func (t *extensionThread) attach(ctx *extensionContext, nodes []NodeSpec, factories []ExtensionFactory) {
	t.guard.check()
	if t.ctx != nil {
		faultf("thread %q: attached twice", t.group)
	}
	if ctx == nil || len(nodes) != len(factories) {
		faultf("thread %q: attach with inconsistent context or nodes", t.group)
	}
	t.ctx = ctx
	t.nodes = nodes
	t.factories = factories
}

// start spawns the goroutine and blocks until its Runloop exists, so a Post
// issued right after start returns can never hit a missing loop.
func (t *extensionThread) start() {
	t.guard.check()
	if t.ctx == nil {
		faultf("thread %q: started before attach", t.group)
	}
	go t.run()
	<-t.ready
	t.engine.cfg.msink.IncrCounterWithLabels(
		MetricThreadStartCount, 1.0, t.metricLabels())
}

// close requests a graceful teardown. Safe from any goroutine; only the
// first request has any effect.
func (t *extensionThread) close() {
	t.guard.structural()
	if !t.closeTriggered.CompareAndSwap(false, true) {
		return
	}
	if err := t.loop.Post(t.handleTriggerClose); err != nil {
		// Continuing would leave the engine waiting forever for a
		// "closed" report that can never arrive.
		t.logger.Warn("failed to post close trigger", LabelError.L(err))
		faultf("thread %q: close trigger lost: %v", t.group, err)
	}
}

// run is the thread body. Ownership of the guard and store, created on the
// parent goroutine, is corrected here exactly once, now that the real owner
// exists.
func (t *extensionThread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t.guard.inherit()
	t.store.guard.inherit()
	t.tid = curGoroutineID()

	t.loop = NewRunloop("group/"+t.group, t.engine.cfg)
	if err := t.loop.Post(t.handleStart); err != nil {
		faultf("thread %q: fresh loop rejected start task: %v", t.group, err)
	}
	close(t.ready)

	t.loop.Run()

	// The loop only stops once teardown finished; past this point nothing
	// else touches our state.
	t.state = threadClosed
	t.store.assertEmpty()
	close(t.done)
	t.notifyClosed()
}

// handleStart instantiates the group's extensions and drives creation.
func (t *extensionThread) handleStart() {
	t.guard.check()
	if t.state != threadInit {
		faultf("thread %q: start in state %s", t.group, t.state)
	}
	t.state = threadCreatingExtensions

	t.hosts = make([]*extHost, 0, len(t.nodes))
	for i, spec := range t.nodes {
		t.hosts = append(t.hosts, newExtHost(spec, t.factories[i](), t))
	}
	t.createFrom(0)
}

// createFrom drives host i through configure → init → start, then moves to
// the next one. No two extensions of a group ever run creation callbacks
// concurrently with each other or with message processing: everything is
// serialized on this loop.
func (t *extensionThread) createFrom(i int) {
	t.guard.check()
	if i == len(t.hosts) {
		t.finishCreation()
		return
	}
	h := t.hosts[i]
	t.step(h, h.ext.Configure, "configure", func() {
		t.step(h, h.ext.Init, "init", func() {
			t.step(h, h.ext.Start, "start", func() {
				t.createFrom(i + 1)
			})
		})
	})
}

// step invokes one lifecycle callback and schedules then once the callback
// signals completion. done is callable from any goroutine but the
// continuation always runs back on this loop; signalling twice is a bug.
func (t *extensionThread) step(h *extHost, fn func(*Env, func()), name string, then func()) {
	var fired atomic.Bool
	done := func() {
		if !fired.CompareAndSwap(false, true) {
			faultf("extension %q: %s completion signalled twice", h.name, name)
		}
		if err := t.loop.Post(then); err != nil {
			t.logger.Warn("failed to post lifecycle continuation",
				LabelExtension.L(h.name), LabelError.L(err))
			faultf("extension %q: %s continuation lost: %v", h.name, name, err)
		}
	}
	fn(h.env, done)
}

// finishCreation registers every extension, emits the resource snapshot and
// reports the new instances to the engine, which is authoritative for
// resolving them against the graph topology.
func (t *extensionThread) finishCreation() {
	t.guard.check()
	if t.state != threadCreatingExtensions {
		faultf("thread %q: creation finished in state %s", t.group, t.state)
	}

	names := make([]string, 0, len(t.hosts))
	for _, h := range t.hosts {
		t.store.add(h)
		names = append(names, h.name)
	}
	t.engine.cfg.msink.IncrCounterWithLabels(
		MetricExtCreatedCount, float32(len(t.hosts)), t.metricLabels())

	// The one log-shaped contract this runtime owns: a per-thread resource
	// snapshot at the moment all of its extensions finished creation.
	t.logger.Info("extension group up",
		"tid", t.tid,
		LabelGraph.L(t.engine.graphName),
		"graph_id", t.engine.id,
		"extensions", names,
	)

	created := t.hosts
	self := t
	if err := t.engine.loop.Post(func() { self.engine.handleExtensionsCreated(self, created) }); err != nil {
		t.logger.Warn("failed to report created extensions", LabelError.L(err))
		faultf("thread %q: created report lost: %v", t.group, err)
	}

	t.state = threadNormal
	if t.deferredClose {
		t.beginTeardown()
	}
}

// handleTriggerClose branches on the current state. The trigger layer
// guarantees at most one trigger ever reaches a live state, so hitting a
// terminal state here can only mean a runtime bug.
func (t *extensionThread) handleTriggerClose() {
	t.guard.check()
	switch t.state {
	case threadInit:
		// Nothing created yet, nothing to stop.
		t.beginTeardown()
	case threadCreatingExtensions:
		// Destroying a partially constructed collection would leak
		// instances; honour the close right after creation completes.
		t.deferredClose = true
	case threadNormal:
		t.beginTeardown()
	case threadPrepareToClose, threadClosed:
		faultf("thread %q: close re-entered terminal state %s", t.group, t.state)
	}
}

// beginTeardown drives the stop lifecycle of every owned extension, in
// creation order, then stops the loop.
func (t *extensionThread) beginTeardown() {
	t.guard.check()
	t.state = threadPrepareToClose
	t.logger.Debug("extension group closing", LabelState.L(t.state.String()))
	t.destroyFrom(0)
}

func (t *extensionThread) destroyFrom(i int) {
	t.guard.check()
	if i == len(t.hosts) {
		t.loop.Stop()
		return
	}
	h := t.hosts[i]
	t.step(h, h.ext.Stop, "stop", func() {
		t.step(h, h.ext.Deinit, "deinit", func() {
			t.store.remove(h.name)
			t.engine.cfg.msink.IncrCounterWithLabels(
				MetricExtClosedCount, 1.0, t.metricLabels())
			t.destroyFrom(i + 1)
		})
	})
}

// notifyClosed runs on the raw goroutine after the loop drained. The done
// channel is already closed, so the engine can reap without blocking.
func (t *extensionThread) notifyClosed() {
	self := t
	if err := t.engine.loop.Post(func() { self.engine.handleThreadClosed(self) }); err != nil {
		t.logger.Warn("failed to report thread closed", LabelError.L(err))
		faultf("thread %q: closed report lost: %v", t.group, err)
	}
	t.engine.cfg.msink.IncrCounterWithLabels(
		MetricThreadClosedCount, 1.0, t.metricLabels())
}

func (t *extensionThread) metricLabels() []metrics.Label {
	return append([]metrics.Label{LabelGroup.M(t.group)}, t.engine.cfg.metricLabels...)
}
