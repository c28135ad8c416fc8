package threadref_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/sharnoff/threadref"
)

func assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// eventually runs the garbage collector until cond holds, failing the test if it doesn't within a
// few seconds. Cleanups run asynchronously after a collection, hence the sleep between attempts.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
	}
}

// runOn runs f on a fresh goroutine and waits for it to return. By the time runOn returns, the
// goroutine's anchor has been dropped.
func runOn(f func()) {
	g := threadref.NewGroup("runOn")
	g.Go("f", f)
	<-g.Wait()
}
