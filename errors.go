package telaio

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCfg     = errors.New("engine: invalid options")
	ErrInvalidGraph   = errors.New("engine: invalid graph description")
	ErrEngineClosed   = errors.New("engine: already closed")
	ErrNotStarted     = errors.New("engine: not started")
	ErrAlreadyStarted = errors.New("engine: already started")

	ErrRunloopStopped = errors.New("runloop: loop no longer accepts tasks")

	ErrAddonUnknown   = errors.New("registry: no addon registered under this name")
	ErrAddonConflict  = errors.New("registry: addon name conflict")
	ErrNoDestinations = errors.New("extension: message has no route from this extension")
	ErrBadMessageKind = errors.New("extension: message kind not valid for this operation")
)

// faultf reports an invariant violation.
//
// Wrong-goroutine access, double registrations, non-empty stores at destroy
// time and re-entered terminal lifecycle states are programmer errors, not
// recoverable conditions, so they abort instead of returning an error.
func faultf(format string, args ...any) {
	panic("telaio: invariant violation: " + fmt.Sprintf(format, args...))
}
