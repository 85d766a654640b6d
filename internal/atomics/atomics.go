// Package atomics provides the small concurrency primitives the
// orchestrator's workers use to guard their private background tasks.
//
// It mirrors the shape of github.com/taskcluster/taskcluster-worker's
// runtime/atomics package as used by engines/native/sandbox.go
// (Once.Do/Wait, WaitGroup.Add/Done/Drain/WaitAndDrain) — that package
// wasn't retrieved with the pack, so this is reconstructed from its call
// sites rather than copied.
package atomics

import "sync"

// Once runs an action exactly once and lets other callers wait for it to
// finish, whether or not they're the one that triggered it.
type Once struct {
	m    sync.Mutex
	done bool
	wg   sync.WaitGroup
}

// Do starts f in a goroutine if this is the first call, otherwise it's a
// no-op. Do never blocks past starting f; use Wait to block until f has
// returned.
func (o *Once) Do(f func()) {
	o.m.Lock()
	if o.done {
		o.m.Unlock()
		return
	}
	o.done = true
	o.wg.Add(1)
	o.m.Unlock()

	go func() {
		defer o.wg.Done()
		f()
	}()
}

// Wait blocks until the action passed to Do (by any caller) has returned.
// If Do has never been called, Wait returns immediately.
func (o *Once) Wait() {
	o.wg.Wait()
}

// WaitGroup is a sync.WaitGroup that can be drained: once Drain has been
// called, further Add calls fail, which lets callers refuse new work while
// waiting for in-flight work to finish.
type WaitGroup struct {
	m       sync.Mutex
	wg      sync.WaitGroup
	drained bool
}

// drainingError is the type of ErrDraining.
type drainingError struct{}

func (drainingError) Error() string { return "atomics: WaitGroup is draining" }

// ErrDraining is returned by Add once Drain has been called.
var ErrDraining error = drainingError{}

// Add registers delta new in-flight operations. It returns ErrDraining if
// the group has already been drained.
func (g *WaitGroup) Add(delta int) error {
	g.m.Lock()
	defer g.m.Unlock()
	if g.drained {
		return ErrDraining
	}
	g.wg.Add(delta)
	return nil
}

// Done marks one in-flight operation as finished.
func (g *WaitGroup) Done() {
	g.wg.Done()
}

// Drain prevents further Add calls from succeeding, without waiting for
// in-flight operations to finish.
func (g *WaitGroup) Drain() {
	g.m.Lock()
	defer g.m.Unlock()
	g.drained = true
}

// Wait blocks until all in-flight operations are done.
func (g *WaitGroup) Wait() {
	g.wg.Wait()
}

// WaitAndDrain drains the group and waits for in-flight operations to
// finish, in that order, matching the two-step shutdown sandbox.go performs
// (prevent new shells, then wait for the existing ones).
func (g *WaitGroup) WaitAndDrain() {
	g.Drain()
	g.Wait()
}
