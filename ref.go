package threadref

import (
	"runtime"
	"weak"
)

// Ref is a weak reference to the goroutine that created it. It reports whether that goroutine is
// still running, without keeping anything alive.
//
// The zero Ref refers to no goroutine and always reports it as ended.
type Ref struct {
	p weak.Pointer[anchor]
}

// NewRef returns a Ref to the calling goroutine. Refs are meant to be created by the goroutine to
// be observed and then handed to whoever wants to observe it.
//
// If callback is not nil, it is called once, with no arguments, after the goroutine has ended and
// its anchor has been collected. It runs on the runtime's cleanup goroutine and must not block for
// long. The callback stays registered even if the Ref itself is dropped. Refs and Finalizers the
// callback creates belong to that one invocation: they see it end when the callback returns.
//
// Creating a Ref looks up the calling goroutine's id from its traceback header, which is far more
// expensive than polling one.
func NewRef(callback func()) Ref {
	a := currentAnchor(1)
	if callback != nil {
		g := a.g
		runtime.AddCleanup(a, func(f func()) { runCallback(g, "ref", f) }, callback)
	}
	return Ref{p: weak.Make(a)}
}

// Get returns the goroutine referred to by r if it is still running, or nil if it has ended.
//
// "Running" here means its anchor has not been collected. There is a delay between a goroutine
// ending (or calling [Exit]) and Get returning nil: the anchor must first be dropped and then
// garbage collected.
func (r Ref) Get() *Goroutine {
	a := r.p.Value()
	if a == nil {
		return nil
	}
	return a.g
}

// Alive reports whether Get would currently return a non-nil goroutine.
func (r Ref) Alive() bool {
	return r.p.Value() != nil
}

func (r Ref) String() string {
	g := r.Get()
	if g == nil {
		return "threadref(dead)"
	}
	return "threadref(" + g.String() + ")"
}
