package threadref

import (
	"bytes"
	"runtime"
	"strconv"
)

// Goroutine identifies a single goroutine. It is the handle returned by [Ref.Get], [Current], and
// inside [FinalizerState].
//
// Holding a *Goroutine does not keep anything about the goroutine alive; it is only an identity.
// Two handles obtained for the same anchor are the same pointer, so they can be compared with ==.
type Goroutine struct {
	id     uint64
	origin *pendingTrace
}

// ID returns the runtime's id for the goroutine. Ids are never reused within a process.
func (g *Goroutine) ID() uint64 {
	return g.id
}

// Origin returns the stack trace of where the goroutine's anchor was created. For goroutines
// started with [Go] or [Group.Go], the spawner's stack is included as the parent.
//
// The trace is symbolized on the first call, and remains available after the goroutine has ended.
func (g *Goroutine) Origin() StackTrace {
	return g.origin.resolve()
}

func (g *Goroutine) String() string {
	return "goroutine " + strconv.FormatUint(g.id, 10)
}

var goroutinePrefix = []byte("goroutine ")

// currentID returns the id of the calling goroutine, as printed in the header of its traceback.
//
// The runtime does not expose goroutine ids, so this costs a runtime.Stack call (truncated to the
// header line) plus parsing it, on every NewRef, NewFinalizer, Current and Exit. That is bounded,
// but creating references is not cheap; polling them is.
func currentID() uint64 {
	// only the header line is needed; runtime.Stack truncates to fit
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	id, ok := parseHeader(buf[:n])
	if !ok {
		panic("internal error: could not parse goroutine id from " + strconv.Quote(string(buf[:n])))
	}
	return id
}

// parseHeader extracts the id from a line of the form "goroutine 123 [running]:".
func parseHeader(line []byte) (uint64, bool) {
	if !bytes.HasPrefix(line, goroutinePrefix) {
		return 0, false
	}
	line = line[len(goroutinePrefix):]

	end := 0
	for end < len(line) && '0' <= line[end] && line[end] <= '9' {
		end += 1
	}
	if end == 0 {
		return 0, false
	}

	id, err := strconv.ParseUint(string(line[:end]), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// parseGoroutineIDs returns the ids of every goroutine header in a traceback dump, in the order
// they appear.
func parseGoroutineIDs(dump []byte) []uint64 {
	var ids []uint64
	for len(dump) != 0 {
		line := dump
		if i := bytes.IndexByte(dump, '\n'); i >= 0 {
			line, dump = dump[:i], dump[i+1:]
		} else {
			dump = nil
		}

		if id, ok := parseHeader(line); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// runningIDs returns the ids of all goroutines currently in the process.
func runningIDs() []uint64 {
	dump, release := dumpStacks(true)
	defer release()
	return parseGoroutineIDs(dump)
}
