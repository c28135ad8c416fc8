// obligatory // comment

/*
Package threadref lets independent pieces of code find out, without coordinating, when a particular
goroutine has finished. It is to goroutines what [weak.Pointer] and [runtime.AddCleanup] are to
objects.

Broadly, the tools belong to a few groups:

- Weak references to goroutines: [Ref] and [NewRef]
- Per-goroutine cleanup callbacks: [Finalizer] and [NewFinalizer]
- Noticing that goroutines ended: [Go], [Group], [Exit], [Sweep], and [Sweeper]
- Stack trace collection: [StackTrace], [GetStackTrace], and [StackFrame]

# Anchors

Each goroutine that uses this package gets one anchor: a small object whose only strong reference
lives in a table keyed by goroutine id. A Ref is a weak pointer to the anchor, and a Finalizer is a
cleanup attached to it. Once the anchor's slot is dropped and the garbage collector reclaims it, every
Ref to it reports the goroutine as ended and every attached Finalizer fires.

Go has no goroutine-local storage and no hook that runs when a goroutine exits, so dropping the slot
is not automatic. It happens when:

  - a goroutine started with [Go] or [Group.Go] returns,
  - a goroutine calls [Exit] (typically deferred), or
  - [Sweep] finds that the goroutine is no longer running.

Death callbacks run on the runtime's cleanup goroutine, which never ends. Anchors created inside a
callback are dropped when that callback returns, so each invocation behaves like a short-lived
goroutine of its own.

Because collection comes after that, "the anchor is alive" means "the goroutine is presumed still
running": a Ref may keep reporting a goroutine for a while after it has finished, but it never
reports a goroutine as ended while its slot is still held.

# Finalizers

A Finalizer fires at most once. [Finalizer.Detach] is the cancellation primitive: exactly one of the
automatic call and a successful Detach happens, even when they race, and of any number of concurrent
Detach calls only one gets the bound state back.

# Stack traces

Every [Goroutine] handle records where its anchor was created. For goroutines started by this
package, the spawner's stack is attached as the parent, so [StackTrace.String] shows how the
goroutine came to exist.
*/
package threadref
