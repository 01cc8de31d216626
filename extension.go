package telaio

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

// Extension is the callback contract a processing unit implements. The
// runtime drives the lifecycle callbacks in order (Configure, Init, Start
// on creation; Stop, Deinit on teardown), strictly serialized on the owning
// group thread, and invokes the message handlers whenever a routed Message
// arrives for the instance.
//
// Every lifecycle callback must eventually call done, from any goroutine;
// until it does the group's state machine does not advance. A handler that
// never calls done stalls its own group, nothing else.
type Extension interface {
	Configure(env *Env, done func())
	Init(env *Env, done func())
	Start(env *Env, done func())
	Stop(env *Env, done func())
	Deinit(env *Env, done func())

	OnCmd(env *Env, cmd *Message)
	OnData(env *Env, msg *Message)
	OnAudioFrame(env *Env, frame *Message)
	OnVideoFrame(env *Env, frame *Message)
}

// BaseExtension implements Extension with no-ops that complete immediately.
// Embed it and override what you need.
type BaseExtension struct{}

func (BaseExtension) Configure(_ *Env, done func()) { done() }
func (BaseExtension) Init(_ *Env, done func())      { done() }
func (BaseExtension) Start(_ *Env, done func())     { done() }
func (BaseExtension) Stop(_ *Env, done func())      { done() }
func (BaseExtension) Deinit(_ *Env, done func())    { done() }

func (BaseExtension) OnCmd(_ *Env, _ *Message)        {}
func (BaseExtension) OnData(_ *Env, _ *Message)       {}
func (BaseExtension) OnAudioFrame(_ *Env, _ *Message) {}
func (BaseExtension) OnVideoFrame(_ *Env, _ *Message) {}

// target is one resolved message destination: the loop to post to and the
// host record living on that loop's goroutine. Targets are built once by the
// engine and immutable afterwards, so sharing them across threads is safe.
type target struct {
	loc  Loc
	loop *Runloop
	host *extHost
}

// routeTable is the engine-built routing snapshot. Immutable after build.
type routeTable struct {
	edges  map[routeKey][]*target
	byName map[string]*target
}

func (rt *routeTable) destinations(src string, kind MsgKind, name string) []*target {
	if ts, ok := rt.edges[routeKey{src, kind, name}]; ok {
		return ts
	}
	return rt.edges[routeKey{src, kind, ""}]
}

// extHost is the runtime record wrapping one Extension instance. It is
// created on the owning group thread and everything in it, the correlation
// table included, stays there for the instance's whole life.
type extHost struct {
	name  string
	addon string
	ext   Extension
	loc   Loc

	thread *extensionThread
	env    *Env
	guard  *guard

	// pending correlates in-flight command IDs to result callbacks.
	pending map[string]func(*Message)

	// routes is nil until the engine installs the snapshot; sends issued
	// before that buffer in outbox and flush in order on install.
	routes *routeTable
	outbox []*Message
}

func newExtHost(n NodeSpec, ext Extension, t *extensionThread) *extHost {
	h := &extHost{
		name:    n.Name,
		addon:   n.Addon,
		ext:     ext,
		loc:     Loc{Graph: t.engine.graphName, Group: n.Group, Extension: n.Name},
		thread:  t,
		guard:   newGuard(t.engine.cfg.integrityChecks),
		pending: make(map[string]func(*Message)),
	}
	h.env = &Env{host: h}
	return h
}

// dispatch delivers one routed message to the instance. Runs on the owning
// thread only.
func (h *extHost) dispatch(msg *Message) {
	h.guard.check()

	switch msg.Kind() {
	case KindCmd:
		h.ext.OnCmd(h.env, msg)
	case KindCmdResult:
		handler, ok := h.pending[msg.ID()]
		if !ok {
			h.thread.logger.Warn("dropping uncorrelated command result",
				LabelExtension.L(h.name), LabelMsgName.L(msg.Name()))
			h.thread.engine.cfg.msink.IncrCounterWithLabels(
				MetricMsgDroppedCount, 1.0, h.metricLabels())
			return
		}
		delete(h.pending, msg.ID())
		handler(msg)
	case KindData:
		h.ext.OnData(h.env, msg)
	case KindAudioFrame:
		h.ext.OnAudioFrame(h.env, msg)
	case KindVideoFrame:
		h.ext.OnVideoFrame(h.env, msg)
	default:
		faultf("extension %q: message with invalid kind", h.name)
	}
}

// send stamps the source and either routes msg now or buffers it until the
// engine installs the routing snapshot.
func (h *extHost) send(msg *Message) error {
	h.guard.check()
	msg.src = h.loc

	if h.routes == nil {
		h.outbox = append(h.outbox, msg)
		return nil
	}
	return h.route(msg)
}

func (h *extHost) route(msg *Message) error {
	if msg.Kind() == KindCmdResult {
		// Results follow the correlation path back to the command's
		// source, not the graph wiring.
		dest := msg.dests[0]
		tgt, ok := h.routes.byName[dest.Extension]
		if !ok {
			return fmt.Errorf("%w: result for %q", ErrNoDestinations, dest.Extension)
		}
		return h.deliver(msg, []*target{tgt})
	}

	tgts := h.routes.destinations(h.name, msg.Kind(), msg.Name())
	if len(tgts) == 0 {
		return fmt.Errorf("%w: %s %q from %q", ErrNoDestinations, msg.Kind(), msg.Name(), h.name)
	}
	return h.deliver(msg, tgts)
}

// deliver hands each destination its own clone of msg; ownership of the
// clone transfers to the posted task.
func (h *extHost) deliver(msg *Message, tgts []*target) error {
	for _, tgt := range tgts {
		cp := msg.clone()
		cp.dests = []Loc{tgt.loc}
		dst := tgt
		if err := tgt.loop.Post(func() { dst.host.dispatch(cp) }); err != nil {
			// A data-plane post can only fail against a stopped loop,
			// which means the graph is past the point of routing.
			h.thread.engine.cfg.msink.IncrCounterWithLabels(
				MetricMsgDroppedCount, 1.0, h.metricLabels())
			return err
		}
		h.thread.engine.cfg.msink.IncrCounterWithLabels(
			MetricMsgRoutedCount, 1.0,
			append(h.metricLabels(), LabelMsgKind.M(msg.Kind().String())))
	}
	return nil
}

// installRoutes adopts the engine's snapshot and flushes buffered sends in
// their original order. Runs on the owning thread (posted by the engine).
func (h *extHost) installRoutes(rt *routeTable) {
	h.guard.check()
	h.routes = rt

	outbox := h.outbox
	h.outbox = nil
	for _, msg := range outbox {
		if err := h.route(msg); err != nil {
			h.thread.logger.Warn("buffered message had no route",
				LabelExtension.L(h.name), LabelError.L(err))
		}
	}
}

func (h *extHost) metricLabels() []metrics.Label {
	return append([]metrics.Label{
		LabelGroup.M(h.loc.Group),
		LabelExtension.M(h.name),
	}, h.thread.engine.cfg.metricLabels...)
}

// Env is the per-extension view of the runtime, handed to every callback.
// All methods except PostTask must be called on the owning group thread;
// PostTask is the flagged any-goroutine entry point, which is also how an
// asynchronous worker re-enters the thread to finish a lifecycle callback.
type Env struct {
	host *extHost
}

// Name returns the extension instance name.
func (env *Env) Name() string { return env.host.name }

// Graph returns the graph instance name.
func (env *Env) Graph() string { return env.host.loc.Graph }

// Log returns a logger scoped to the extension.
func (env *Env) Log() *slog.Logger {
	return env.host.thread.logger.With(LabelExtension.L(env.host.name))
}

// SendCmd routes a command along the graph wiring. onResult, if non-nil, is
// invoked on the owning thread when the correlated CmdResult comes back.
func (env *Env) SendCmd(cmd *Message, onResult func(*Message)) error {
	env.host.guard.check()
	if cmd.Kind() != KindCmd {
		return ErrBadMessageKind
	}
	if onResult != nil {
		env.host.pending[cmd.ID()] = onResult
	}
	if err := env.host.send(cmd); err != nil {
		// The result can never arrive, so the callback must not linger.
		delete(env.host.pending, cmd.ID())
		return err
	}
	return nil
}

// SendData routes a one-way data message along the graph wiring.
func (env *Env) SendData(msg *Message) error {
	if msg.Kind() != KindData {
		return ErrBadMessageKind
	}
	return env.host.send(msg)
}

// SendAudioFrame routes an audio frame along the graph wiring.
func (env *Env) SendAudioFrame(frame *Message) error {
	if frame.Kind() != KindAudioFrame {
		return ErrBadMessageKind
	}
	return env.host.send(frame)
}

// SendVideoFrame routes a video frame along the graph wiring.
func (env *Env) SendVideoFrame(frame *Message) error {
	if frame.Kind() != KindVideoFrame {
		return ErrBadMessageKind
	}
	return env.host.send(frame)
}

// ReturnResult answers cmd with a correlated CmdResult routed back to the
// command's source.
func (env *Env) ReturnResult(cmd *Message, payload []byte) error {
	env.host.guard.check()
	if cmd.Kind() != KindCmd {
		return ErrBadMessageKind
	}
	res := newResultFor(cmd, payload)
	res.src = env.host.loc
	if res.dests[0].Extension == "" {
		// The command came from outside the graph; hand the result to
		// the engine's correlation table.
		return env.host.thread.engine.returnExternal(res)
	}
	if env.host.routes == nil {
		env.host.outbox = append(env.host.outbox, res)
		return nil
	}
	return env.host.route(res)
}

// PostTask schedules fn on the extension's owning thread. Safe from any
// goroutine.
func (env *Env) PostTask(fn func()) error {
	env.host.guard.structural()
	return env.host.thread.loop.Post(fn)
}
