package threadref

import (
	"runtime"
	"sync/atomic"
	"weak"

	"golang.org/x/exp/slices"
)

const (
	stateAttached int32 = iota
	stateFired
	stateDetached
)

// Finalizer calls a function once the goroutine that created it ends, unless it is detached
// first.
//
// Exactly one of these happens to every Finalizer: it fires automatically, it is detached, or it is
// run explicitly with [Finalizer.Run]. The transition out of the attached state is a single
// compare-and-swap, so concurrent Detach calls and the automatic firing cannot both win.
type Finalizer struct {
	state   atomic.Int32
	anchor  weak.Pointer[anchor]
	g       *Goroutine
	fn      func(args ...any)
	args    []any
	cleanup runtime.Cleanup
}

// FinalizerState is the bound state of an attached Finalizer, returned by [Finalizer.Detach] and
// [Finalizer.Peek].
type FinalizerState struct {
	Goroutine *Goroutine
	Func      func(args ...any)
	Args      []any
}

// NewFinalizer registers fn to be called with args after the calling goroutine ends.
//
// The call happens on the runtime's cleanup goroutine once the goroutine's anchor has been
// collected; there is no ordering between Finalizers of the same goroutine. A panic in fn is
// logged (see [SetLogger]) and does not stop other callbacks from running.
//
// The Finalizer stays registered whether or not the returned pointer is kept. As with [NewRef], one
// created from inside a death callback is tied to that invocation, not to the cleanup goroutine.
func NewFinalizer(fn func(args ...any), args ...any) *Finalizer {
	if fn == nil {
		panic("threadref: NewFinalizer called with nil function")
	}

	a := currentAnchor(1)
	f := &Finalizer{
		anchor: weak.Make(a),
		g:      a.g,
		fn:     fn,
		args:   args,
	}
	f.cleanup = runtime.AddCleanup(a, (*Finalizer).fire, f)
	return f
}

func (f *Finalizer) fire() {
	if !f.state.CompareAndSwap(stateAttached, stateFired) {
		return
	}
	runCallback(f.g, "finalizer", func() { f.fn(f.args...) })
}

// Detach unregisters the Finalizer without calling it. If it was still attached, Detach returns its
// bound state and true; if it has already fired, been detached, or its goroutine has ended, Detach
// returns false.
//
// Of any number of concurrent Detach calls, at most one returns true.
func (f *Finalizer) Detach() (FinalizerState, bool) {
	// Holding the anchor keeps the cleanup from being queued while we change state, so a detach
	// that wins can never race with the automatic call.
	a := f.anchor.Value()
	if a == nil {
		return FinalizerState{}, false
	}

	if !f.state.CompareAndSwap(stateAttached, stateDetached) {
		return FinalizerState{}, false
	}
	f.cleanup.Stop()
	runtime.KeepAlive(a)

	return f.bound(), true
}

// Peek returns what Detach would return, without detaching.
func (f *Finalizer) Peek() (FinalizerState, bool) {
	if !f.Alive() {
		return FinalizerState{}, false
	}
	return f.bound(), true
}

// Alive reports whether the Finalizer is still attached to a running goroutine.
func (f *Finalizer) Alive() bool {
	a := f.anchor.Value()
	alive := a != nil && f.state.Load() == stateAttached
	runtime.KeepAlive(a)
	return alive
}

// Run detaches the Finalizer and calls its function immediately, on the calling goroutine. It
// reports whether the function was called; if the Finalizer was no longer attached, Run does
// nothing.
//
// Unlike the automatic call, a panic in the function propagates to the caller of Run.
func (f *Finalizer) Run() bool {
	st, ok := f.Detach()
	if !ok {
		return false
	}
	st.Func(st.Args...)
	return true
}

func (f *Finalizer) bound() FinalizerState {
	return FinalizerState{
		Goroutine: f.g,
		Func:      f.fn,
		Args:      slices.Clone(f.args),
	}
}

func (f *Finalizer) String() string {
	if !f.Alive() {
		return "threadfinalizer(dead)"
	}
	return "threadfinalizer(" + f.g.String() + ")"
}
