package telaio

import (
	"runtime"
	"sync/atomic"
)

const guardSignature uint32 = 0x7E1A10

// guard records which goroutine owns a mutable structure and asserts every
// access happens there. It replaces locks with a "who is allowed to touch
// this" invariant: state never crosses goroutines except inside a posted
// task, so a single owner is enough.
//
// The zero value is unusable; create with newGuard on the goroutine that
// currently holds the structure and call inherit exactly once if ownership
// is handed to its real owner later (e.g. right after a group thread spawns).
type guard struct {
	signature uint32
	enabled   bool

	owner     atomic.Uint64
	inherited atomic.Bool
}

func newGuard(enabled bool) *guard {
	g := &guard{
		signature: guardSignature,
		enabled:   enabled,
	}
	g.owner.Store(curGoroutineID())
	return g
}

// inherit re-homes the guard onto the calling goroutine. It is a one-time
// operation used exactly when the true owning goroutine is finally known;
// a second call is an invariant violation.
func (g *guard) inherit() {
	g.structural()
	if !g.enabled {
		return
	}
	if !g.inherited.CompareAndSwap(false, true) {
		faultf("guard: ownership inherited twice")
	}
	g.owner.Store(curGoroutineID())
}

// check asserts the caller is the owning goroutine.
func (g *guard) check() {
	g.structural()
	if !g.enabled {
		return
	}
	if gid := curGoroutineID(); gid != g.owner.Load() {
		faultf("guard: access from goroutine %d, owner is %d", gid, g.owner.Load())
	}
}

// structural validates the signature only. It is the escape hatch for the
// small, explicitly flagged set of operations that are legal from any
// goroutine (posting a task, triggering a close).
func (g *guard) structural() {
	if g == nil || g.signature != guardSignature {
		faultf("guard: structure corrupted or used before initialisation")
	}
}

// curGoroutineID parses the goroutine id out of the runtime stack header.
// There is no cheaper portable way to name the current goroutine; the cost
// is acceptable because checks happen at task granularity, not per access.
func curGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
