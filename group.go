package threadref

import (
	"context"
	"fmt"
	"sync"
)

// Group starts named goroutines and lets you wait for all of them, like a [sync.WaitGroup] that
// also drops each goroutine's anchor.
//
// Compared to a sync.WaitGroup:
//
//  1. Goroutines are started by the Group itself with [Group.Go], and are named
//  2. [Group.Wait] returns a channel, so it can be selected over
//  3. The set of running goroutines can be fetched with [Group.Tasks]
//  4. More goroutines may be started after all have finished
//
// Each goroutine's anchor is dropped before it counts as done, so once Wait completes, every Ref
// and Finalizer created inside the Group's goroutines will observe their end at the next garbage
// collection.
type Group struct {
	mu      sync.Mutex
	name    string
	count   uint
	allDone chan struct{}
	tasks   map[string]uint
}

// TaskInfo describes the running goroutines of a [Group] that share a name.
type TaskInfo struct {
	Name string `json:"name"`
	// Count is the number of running goroutines named Name. It is never zero when returned by
	// [Group.Tasks].
	Count uint `json:"count"`
}

// NewGroup creates a new Group with the given name
func NewGroup(name string) *Group {
	return &Group{name: name}
}

// Name returns the name of the Group, as given to [NewGroup].
func (g *Group) Name() string {
	return g.name
}

// Go starts fn in a new goroutine named name. The name does not need to be unique.
//
// As with [Go], the goroutine's anchor is dropped when fn returns or panics.
func (g *Group) Go(name string, fn func()) {
	g.add(name)
	spawn(captureTrace(1), fn, func() { g.done(name) }) // skip Group.Go
}

func (g *Group) add(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tasks == nil {
		g.tasks = make(map[string]uint)
	}
	g.count += 1
	g.tasks[name] += 1
}

func (g *Group) done(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.tasks[name]
	if c == 0 {
		panic(fmt.Sprintf("internal error: zero remaining goroutines with name %q", name))
	}

	if c == 1 {
		delete(g.tasks, name)
	} else {
		g.tasks[name] = c - 1
	}

	g.count -= 1
	if g.count == 0 && g.allDone != nil {
		close(g.allDone)
		g.allDone = nil
	}
}

// Wait returns a channel that is closed once all goroutines started with [Group.Go] have finished.
func (g *Group) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count == 0 {
		return alwaysClosed
	}

	if g.allDone == nil {
		g.allDone = make(chan struct{})
	}

	return g.allDone
}

// TryWait waits on the Group, returning early with ctx.Err() if the context is canceled.
//
// If the context is already canceled when TryWait is called, this method will always return the
// context's error.
func (g *Group) TryWait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.Wait():
			return nil
		}
	}
}

// Finished returns whether all goroutines are finished, i.e. if waiting will immediately complete.
func (g *Group) Finished() bool {
	select {
	case <-g.Wait():
		return true
	default:
		return false
	}
}

// Tasks returns information about the running goroutines, grouped by name.
func (g *Group) Tasks() []TaskInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ts []TaskInfo
	for name, count := range g.tasks {
		ts = append(ts, TaskInfo{Name: name, Count: count})
	}
	return ts
}
