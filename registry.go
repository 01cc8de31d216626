package telaio

import "fmt"

// ExtensionFactory builds one extension instance. It is invoked on the
// instance's owning thread, during the group's creation phase.
type ExtensionFactory func() Extension

// Registry maps addon names to extension factories. A registry is assembled
// before the engine starts and read-only afterwards, so it needs no locking.
type Registry struct {
	factories map[string]ExtensionFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ExtensionFactory)}
}

// Register adds a factory under name. Registering the same name twice is an
// error: addon identity is how graphs reference behaviour.
func (r *Registry) Register(name string, factory ExtensionFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("%w: empty name or nil factory", ErrAddonConflict)
	}
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("%w: %q", ErrAddonConflict, name)
	}
	r.factories[name] = factory
	return nil
}

func (r *Registry) lookup(name string) (ExtensionFactory, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAddonUnknown, name)
	}
	return f, nil
}
