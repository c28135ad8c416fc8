package threadref

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// anchor is the per-goroutine sentinel. The slot table holds the only strong reference to it;
// everything else observes it through weak pointers or cleanups, so it becomes unreachable exactly
// when its slot is dropped.
//
// anchor must never be reachable from a *Goroutine, or holding a handle would keep it alive.
type anchor struct {
	g *Goroutine
}

// slotTable stands in for goroutine-local storage: one optional anchor per goroutine id.
type slotTable struct {
	mu sync.RWMutex
	m  map[uint64]*anchor
	// spawner traces of goroutines started by Go or Group.Go, attached to their anchor if they
	// ever create one
	parents map[uint64]*pendingTrace
}

var slots = slotTable{
	m:       make(map[uint64]*anchor),
	parents: make(map[uint64]*pendingTrace),
}

// currentAnchor returns the calling goroutine's anchor, creating it if the slot is empty.
//
// skip is the number of frames above currentAnchor to leave out of the recorded origin.
func currentAnchor(skip uint) *anchor {
	id := currentID()

	slots.mu.RLock()
	a := slots.m[id]
	slots.mu.RUnlock()
	if a != nil {
		return a
	}

	origin := captureTrace(int(skip) + 1) // skip currentAnchor
	return slots.getOrCreate(id, origin)
}

func (t *slotTable) getOrCreate(id uint64, origin *pendingTrace) *anchor {
	t.mu.Lock()
	defer t.mu.Unlock()

	// only the owning goroutine populates its slot, but Sweep may have raced with us
	if a := t.m[id]; a != nil {
		return a
	}

	origin.parent = t.parents[id]
	a := &anchor{g: &Goroutine{id: id, origin: origin}}
	t.m[id] = a
	return a
}

func (t *slotTable) setParent(id uint64, parent *pendingTrace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parents[id] = parent
}

// release drops the anchor for id, reporting whether there was one.
func (t *slotTable) release(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.m[id]
	delete(t.m, id)
	return ok
}

// forget drops everything recorded for id, for when the goroutine is known to be finished.
func (t *slotTable) forget(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.m, id)
	delete(t.parents, id)
}

// Current returns the handle for the calling goroutine, creating its anchor if needed.
//
// The handle returned is the same one that [Ref.Get] and [Finalizer.Peek] will report for
// references created on this goroutine, until the goroutine calls [Exit].
func Current() *Goroutine {
	return currentAnchor(1).g
}

// Exit drops the calling goroutine's anchor, as if the goroutine had ended. Refs and Finalizers
// created on it observe the end once the anchor is garbage collected.
//
// Go has no goroutine exit hook, so long-lived code that creates Refs or Finalizers on goroutines
// it starts itself should either start them with [Go] / [Group.Go], or begin them with
//
//	defer threadref.Exit()
//
// Goroutines that do neither are only noticed by [Sweep].
//
// If the goroutine keeps running after Exit and creates another Ref or Finalizer, a fresh anchor is
// made; references to the old one stay dead. Exit returns whether there was an anchor to drop.
func Exit() bool {
	return slots.release(currentID())
}

// Sweep drops the anchors of all goroutines that are no longer running, returning how many were
// dropped.
//
// Sweep stops the world to list the running goroutines, so it is expensive with many goroutines.
// See [Sweeper] for running it periodically.
//
// The runtime's cleanup goroutine is missing from that listing while it is idle. Anchors created
// from inside death callbacks are therefore not left for Sweep: each callback invocation counts as
// a lifetime of its own, and its anchor is dropped when the callback returns.
func Sweep() int {
	slots.mu.Lock()
	defer slots.mu.Unlock()

	if len(slots.m) == 0 {
		return 0
	}

	// Listing while holding the lock means every slot we see was created by a goroutine that
	// existed before the listing, so absence from it really means the goroutine ended.
	running := runningIDs()
	slices.Sort(running)

	dropped := 0
	for id := range slots.m {
		if _, ok := slices.BinarySearch(running, id); !ok {
			delete(slots.m, id)
			dropped += 1
		}
	}

	logger().WithFields(logrus.Fields{
		"dropped":   dropped,
		"remaining": len(slots.m),
	}).Debug("swept goroutine anchors")

	return dropped
}

// Slots returns the number of goroutines that currently have an anchor.
func Slots() int {
	slots.mu.RLock()
	defer slots.mu.RUnlock()
	return len(slots.m)
}
