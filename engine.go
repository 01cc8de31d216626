package telaio

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
)

type engineState uint8

const (
	engineIdle engineState = iota
	engineStarting
	engineRunning
	engineClosing
	engineClosed
)

func (s engineState) String() string {
	switch s {
	case engineIdle:
		return "idle"
	case engineStarting:
		return "starting"
	case engineRunning:
		return "running"
	case engineClosing:
		return "closing"
	case engineClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type externalSend struct {
	dest     string
	msg      *Message
	onResult func(*Message)
}

// Engine owns one running graph instance: its own Runloop and goroutine,
// the extension context aggregating the group threads, and the routing
// authority. Group threads report created extensions and their own closure
// by posting tasks here, so everything below the guard line is mutated by
// the engine goroutine only.
type Engine struct {
	id        string
	graphName string
	graph     *GraphSpec
	cfg       *config
	logger    *slog.Logger

	guard *guard

	// Per-group content resolved up front so addon errors surface from New.
	groupOrder []string
	groupNodes map[string][]NodeSpec
	groupFacts map[string][]ExtensionFactory

	// Owner-goroutine state.
	loop      *Runloop
	ctx       *extensionContext
	state     engineState
	hostIndex map[string]*target
	routes    *routeTable
	buffered  []externalSend
	extResult map[string]func(*Message)
	closeAt   time.Time

	// starting flips when Start is first called; started only once the
	// engine loop exists, which is what Close and Send actually need.
	starting       atomic.Bool
	started        atomic.Bool
	closeTriggered atomic.Bool

	ready   chan struct{}
	running chan struct{}
	done    chan struct{}
}

// New validates the graph, resolves every addon against the registry, and
// returns an engine ready to Start.
func New(graph *GraphSpec, opts ...Option) (*Engine, error) {
	cfg := &config{integrityChecks: true}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.msink == nil {
		cfg.msink = metrics.Default()
	}
	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}

	if graph == nil {
		return nil, ErrInvalidGraph
	}
	if err := graph.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		id:        uuid.NewString(),
		graphName: graph.Name,
		graph:     graph,
		cfg:       cfg,
		ready:     make(chan struct{}),
		running:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.logHandler != nil {
		e.logger = slog.New(cfg.logHandler)
	} else {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(LabelGraph.L(graph.Name), "graph_id", e.id)

	e.groupOrder, e.groupNodes = graph.groups()
	e.groupFacts = make(map[string][]ExtensionFactory, len(e.groupOrder))
	for _, group := range e.groupOrder {
		nodes := e.groupNodes[group]
		facts := make([]ExtensionFactory, len(nodes))
		for i, n := range nodes {
			f, err := cfg.registry.lookup(n.Addon)
			if err != nil {
				return nil, err
			}
			facts[i] = f
		}
		e.groupFacts[group] = facts
	}

	e.guard = newGuard(cfg.integrityChecks)
	return e, nil
}

func (e *Engine) ID() string        { return e.id }
func (e *Engine) GraphName() string { return e.graphName }

// Running is closed once every group reported its extensions created and
// routing is installed; only then do externally injected messages flow.
func (e *Engine) Running() <-chan struct{} { return e.running }

// Done is closed once the graph is fully torn down.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Start spawns the engine goroutine and returns once its Runloop exists.
// Group threads start asynchronously; wait on Running for the data plane.
func (e *Engine) Start() error {
	if !e.starting.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go e.run()
	<-e.ready
	e.started.Store(true)
	return nil
}

func (e *Engine) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.guard.inherit()
	e.loop = NewRunloop("engine/"+e.graphName, e.cfg)
	if err := e.loop.Post(e.bootstrap); err != nil {
		faultf("engine %q: fresh loop rejected bootstrap: %v", e.graphName, err)
	}
	close(e.ready)

	e.loop.Run()

	e.state = engineClosed
	e.logger.Info("graph closed", LabelDuration.L(time.Since(e.closeAt)))
	close(e.done)
}

// bootstrap creates the context and one thread per group. Waiting on each
// readiness event is the documented exception to the no-blocking rule: a
// one-shot signal fired exactly once by the child.
func (e *Engine) bootstrap() {
	e.guard.check()
	e.state = engineStarting
	e.hostIndex = make(map[string]*target, len(e.graph.Nodes))
	e.extResult = make(map[string]func(*Message))

	e.ctx = newExtensionContext(e)
	for _, group := range e.groupOrder {
		t := newExtensionThread(e, group)
		t.attach(e.ctx, e.groupNodes[group], e.groupFacts[group])
		e.ctx.addThread(t)
	}
	for _, t := range e.ctx.threads {
		t.start()
	}
	e.logger.Debug("graph starting", "groups", len(e.ctx.threads))
}

// handleExtensionsCreated is one of the two cross-thread entry points. The
// host slice crossed over by value inside the posted task; it is ours now.
func (e *Engine) handleExtensionsCreated(t *extensionThread, hosts []*extHost) {
	e.guard.check()
	for _, h := range hosts {
		e.hostIndex[h.name] = &target{loc: h.loc, loop: t.loop, host: h}
	}
	if !e.ctx.markCreated(t) {
		return
	}
	if e.closeTriggered.Load() {
		// The graph is already unwinding; routing would only feed loops
		// that are about to stop.
		return
	}

	e.routes = e.buildRoutes()
	for _, tgt := range e.hostIndex {
		rt := e.routes
		dst := tgt
		if err := tgt.loop.Post(func() { dst.host.installRoutes(rt) }); err != nil {
			e.logger.Warn("failed to install routes", LabelError.L(err),
				LabelExtension.L(dst.loc.Extension))
			faultf("engine %q: route install lost for %q: %v", e.graphName, dst.loc.Extension, err)
		}
	}

	e.state = engineRunning
	close(e.running)
	e.logger.Info("graph running", "extensions", len(e.hostIndex))

	buffered := e.buffered
	e.buffered = nil
	for _, s := range buffered {
		e.routeExternal(s)
	}
}

// buildRoutes resolves the declared wiring against the reported instances.
// The table is immutable from here on, which is what makes sharing it with
// every group thread safe.
func (e *Engine) buildRoutes() *routeTable {
	e.guard.check()
	rt := &routeTable{
		edges:  make(map[routeKey][]*target, len(e.graph.Connections)),
		byName: e.hostIndex,
	}
	for _, c := range e.graph.Connections {
		kind, _ := kindFromSpec(c.Kind)
		key := routeKey{source: c.Source, kind: kind, name: c.Name}
		for _, d := range c.Dests {
			rt.edges[key] = append(rt.edges[key], e.hostIndex[d])
		}
	}
	return rt
}

// handleThreadClosed is the second cross-thread entry point. The thread's
// done channel closed before it posted this report, so the reap never
// blocks and never joins a goroutine that still touches shared state.
func (e *Engine) handleThreadClosed(t *extensionThread) {
	e.guard.check()
	<-t.done
	e.logger.Debug("extension group closed", LabelGroup.L(t.group))

	if !e.ctx.markClosed(t) {
		return
	}
	e.ctx.destroy()
	if n := len(e.buffered); n > 0 {
		e.logger.Warn("dropping externally injected messages at close", "count", n)
		e.cfg.msink.IncrCounterWithLabels(MetricMsgDroppedCount, float32(n), e.cfg.metricLabels)
	}
	e.loop.Stop()
}

// Close requests a graceful teardown of the whole graph. Safe from any
// goroutine and idempotent: only the first call triggers anything.
func (e *Engine) Close() error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	if !e.closeTriggered.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.loop.Post(e.handleTriggerClose); err != nil {
		e.logger.Warn("failed to post close trigger", LabelError.L(err))
		faultf("engine %q: close trigger lost: %v", e.graphName, err)
	}
	return nil
}

func (e *Engine) handleTriggerClose() {
	e.guard.check()
	switch e.state {
	case engineStarting, engineRunning:
		e.state = engineClosing
		e.closeAt = time.Now()
		e.logger.Info("graph closing")
		for _, t := range e.ctx.threads {
			t.close()
		}
	default:
		faultf("engine %q: close trigger in state %s", e.graphName, e.state)
	}
}

// Send injects a message into the graph from outside, addressed to the
// named node. Safe from any goroutine. Messages injected before the graph
// runs are buffered and flushed in order; a Cmd named stop_graph with an
// empty destination asks the engine itself to close.
func (e *Engine) Send(dest string, msg *Message) error {
	return e.SendCmd(dest, msg, nil)
}

// SendCmd is Send with a result callback, invoked on the engine goroutine
// when the destination answers. The callback must not block.
func (e *Engine) SendCmd(dest string, msg *Message, onResult func(*Message)) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	if dest == "" && msg.Kind() == KindCmd && msg.Name() == CmdStopGraph {
		return e.Close()
	}
	s := externalSend{dest: dest, msg: msg, onResult: onResult}
	if err := e.loop.Post(func() { e.handleExternal(s) }); err != nil {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) handleExternal(s externalSend) {
	e.guard.check()
	switch e.state {
	case engineStarting:
		e.buffered = append(e.buffered, s)
	case engineRunning:
		e.routeExternal(s)
	default:
		e.logger.Warn("dropping externally injected message",
			LabelMsgName.L(s.msg.Name()), LabelState.L(e.state.String()))
		e.cfg.msink.IncrCounterWithLabels(MetricMsgDroppedCount, 1.0, e.cfg.metricLabels)
	}
}

func (e *Engine) routeExternal(s externalSend) {
	e.guard.check()
	tgt, ok := e.hostIndex[s.dest]
	if !ok {
		e.logger.Warn("externally injected message has no such node",
			LabelExtension.L(s.dest), LabelMsgName.L(s.msg.Name()))
		e.cfg.msink.IncrCounterWithLabels(MetricMsgDroppedCount, 1.0, e.cfg.metricLabels)
		return
	}
	if s.onResult != nil && s.msg.Kind() == KindCmd {
		e.extResult[s.msg.ID()] = s.onResult
	}

	cp := s.msg.clone()
	cp.src = Loc{Graph: e.graphName}
	cp.dests = []Loc{tgt.loc}
	dst := tgt
	if err := tgt.loop.Post(func() { dst.host.dispatch(cp) }); err != nil {
		delete(e.extResult, s.msg.ID())
		e.logger.Warn("externally injected message lost", LabelError.L(err))
		e.cfg.msink.IncrCounterWithLabels(MetricMsgDroppedCount, 1.0, e.cfg.metricLabels)
		return
	}
	e.cfg.msink.IncrCounterWithLabels(MetricMsgRoutedCount, 1.0,
		append([]metrics.Label{LabelMsgKind.M(s.msg.Kind().String())}, e.cfg.metricLabels...))
}

// returnExternal routes a result whose command came from outside the graph
// back to the engine's correlation table. Called from group threads; only
// the immutable loop reference is touched before the post.
func (e *Engine) returnExternal(res *Message) error {
	return e.loop.Post(func() {
		e.guard.check()
		handler, ok := e.extResult[res.ID()]
		if !ok {
			e.logger.Warn("dropping uncorrelated external result", LabelMsgName.L(res.Name()))
			e.cfg.msink.IncrCounterWithLabels(MetricMsgDroppedCount, 1.0, e.cfg.metricLabels)
			return
		}
		delete(e.extResult, res.ID())
		handler(res)
	})
}
