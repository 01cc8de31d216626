package telaio

// extensionContext is the per-graph-instance aggregate: it owns the group
// threads and mediates the two barriers the engine cares about, "all groups
// created" and "all groups closed". It lives on the engine goroutine and is
// mutated nowhere else.
type extensionContext struct {
	engine  *Engine
	guard   *guard
	threads []*extensionThread
	created int
	closed  int
}

func newExtensionContext(e *Engine) *extensionContext {
	return &extensionContext{
		engine: e,
		guard:  newGuard(e.cfg.integrityChecks),
	}
}

func (c *extensionContext) addThread(t *extensionThread) {
	c.guard.check()
	c.threads = append(c.threads, t)
}

// markCreated records one group's creation report; true once every group
// reported.
func (c *extensionContext) markCreated(t *extensionThread) bool {
	c.guard.check()
	c.created++
	if c.created > len(c.threads) {
		faultf("context: %q reported created after all groups were counted", t.group)
	}
	return c.created == len(c.threads)
}

// markClosed records one group's closed report; true once every group
// reported.
func (c *extensionContext) markClosed(t *extensionThread) bool {
	c.guard.check()
	c.closed++
	if c.closed > len(c.threads) {
		faultf("context: %q reported closed after all groups were counted", t.group)
	}
	return c.closed == len(c.threads)
}

// destroy asserts every owned group finished its teardown lifecycle.
func (c *extensionContext) destroy() {
	c.guard.check()
	if c.closed != len(c.threads) {
		faultf("context: destroyed with %d/%d groups closed", c.closed, len(c.threads))
	}
}
