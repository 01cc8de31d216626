package telaio

// extensionStore is the goroutine-local registry of the extensions a group
// thread owns, keyed by instance name. It exists for O(1) lookup and for
// enumerating what the thread must unwind at teardown; any access from a
// foreign goroutine is an ownership violation.
type extensionStore struct {
	guard *guard
	exts  map[string]*extHost
}

func newExtensionStore(enabled bool) *extensionStore {
	return &extensionStore{
		guard: newGuard(enabled),
		exts:  make(map[string]*extHost),
	}
}

// add registers a host under its name. Registering the same identity twice
// can only happen through a runtime bug, so it aborts.
func (s *extensionStore) add(h *extHost) {
	s.guard.check()
	if _, dup := s.exts[h.name]; dup {
		faultf("store: extension %q registered twice", h.name)
	}
	s.exts[h.name] = h
}

func (s *extensionStore) remove(name string) {
	s.guard.check()
	if _, ok := s.exts[name]; !ok {
		faultf("store: removing unknown extension %q", name)
	}
	delete(s.exts, name)
}

func (s *extensionStore) names() []string {
	s.guard.check()
	out := make([]string, 0, len(s.exts))
	for name := range s.exts {
		out = append(out, name)
	}
	return out
}

// assertEmpty is the destroy-time invariant: a remaining entry is a leaked
// extension.
func (s *extensionStore) assertEmpty() {
	s.guard.check()
	if len(s.exts) != 0 {
		faultf("store: %d extension(s) leaked at thread destroy: %v", len(s.exts), s.names())
	}
}
