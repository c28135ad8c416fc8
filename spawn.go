package threadref

// Go runs fn in a new goroutine that drops its anchor when fn returns or panics, so Refs and
// Finalizers created inside fn observe the goroutine's end without waiting for [Sweep].
//
// The new goroutine's [Goroutine.Origin] has the caller's stack as its parent.
func Go(fn func()) {
	spawn(captureTrace(1), fn, nil) // skip Go
}

// spawn starts fn in a new goroutine. Nothing is allocated for the goroutine's anchor up front; if
// fn ever creates one, parent becomes the parent of its origin.
//
// done, if not nil, runs after the anchor is dropped.
func spawn(parent *pendingTrace, fn func(), done func()) {
	go func() {
		id := currentID()
		slots.setParent(id, parent)
		defer func() {
			slots.forget(id)
			if done != nil {
				done()
			}
		}()

		fn()
	}()
}
