package threadref

import (
	"runtime"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// StackTrace is the symbolized call stack of a goroutine at some point, optionally chained to the
// stack of whoever spawned that goroutine.
//
// Frames inside package runtime (like runtime.goexit at the bottom of every goroutine) are left out.
type StackTrace struct {
	Frames []StackFrame
	Parent *StackTrace
}

type StackFrame struct {
	Function string
	File     string
	Line     int
}

// GetStackTrace collects the stack of the calling goroutine, leaving out the innermost skip frames
// above the caller of GetStackTrace. The parent, if not nil, is printed after it as the spawner.
func GetStackTrace(parent *StackTrace, skip uint) StackTrace {
	pcs := capturePCs(int(skip) + 1) // skip GetStackTrace itself
	return StackTrace{Frames: symbolize(pcs), Parent: parent}
}

// String formats the trace one frame per two lines, in the style of a goroutine traceback, with
// each parent introduced by a "spawned by:" line.
func (st StackTrace) String() string {
	var b strings.Builder

	for level := &st; level != nil; level = level.Parent {
		if level != &st {
			b.WriteString("spawned by:\n")
		}
		if len(level.Frames) == 0 {
			b.WriteString("<empty stack>\n")
		}
		for _, f := range level.Frames {
			writeFrame(&b, f)
		}
	}

	return b.String()
}

func writeFrame(b *strings.Builder, f StackFrame) {
	if f.Function == "" {
		b.WriteString("<unknown function>")
	} else {
		b.WriteString(f.Function)
		b.WriteString("(...)")
	}
	b.WriteString("\n\t")

	if f.File == "" {
		b.WriteString("<unknown file>")
	} else {
		b.WriteString(f.File)
		if f.Line != 0 {
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(f.Line))
		}
	}
	b.WriteByte('\n')
}

// pendingTrace is a stack captured as bare program counters, symbolized only if someone asks for
// it. Every anchor records one, and most are never looked at.
type pendingTrace struct {
	pcs    []uintptr
	parent *pendingTrace

	once  sync.Once
	trace StackTrace
}

// captureTrace records the stack starting at the caller of captureTrace, minus skip frames.
func captureTrace(skip int) *pendingTrace {
	return &pendingTrace{pcs: capturePCs(skip + 1)}
}

// resolve symbolizes the trace and its parents. Safe for concurrent use.
func (p *pendingTrace) resolve() StackTrace {
	if p == nil {
		return StackTrace{}
	}

	p.once.Do(func() {
		p.trace.Frames = symbolize(p.pcs)
		if p.parent != nil {
			parent := p.parent.resolve()
			p.trace.Parent = &parent
		}
	})
	return p.trace
}

var pcBufPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, 64)
		return &buf
	},
}

// capturePCs returns the program counters of the stack, starting at the caller of capturePCs and
// leaving out skip frames.
func capturePCs(skip int) []uintptr {
	buf := pcBufPool.Get().(*[]uintptr)
	defer func() {
		if len(*buf) <= 1024 {
			pcBufPool.Put(buf)
		}
	}()

	for {
		// +2 for runtime.Callers and capturePCs
		n := runtime.Callers(skip+2, *buf)
		if n < len(*buf) {
			return slices.Clone((*buf)[:n])
		}
		*buf = make([]uintptr, 2*len(*buf))
	}
}

func symbolize(pcs []uintptr) []StackFrame {
	if len(pcs) == 0 {
		return nil
	}

	iter := runtime.CallersFrames(pcs)
	var frames []StackFrame
	for {
		frame, more := iter.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			frames = append(frames, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}
		if !more {
			return frames
		}
	}
}

// dumpStacks returns the textual traceback produced by runtime.Stack. With all set, every
// goroutine in the process is included (which stops the world for the duration).
//
// The returned slice is only valid until release is called.
func dumpStacks(all bool) (dump []byte, release func()) {
	buf := stackBufPool.Get().(*[]byte)
	for {
		n := runtime.Stack(*buf, all)
		if n < len(*buf) {
			return (*buf)[:n], func() { putStackBuffer(buf) }
		}
		*buf = make([]byte, 2*len(*buf))
	}
}

var stackBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 4096)
		return &buf
	},
}

func putStackBuffer(buf *[]byte) {
	if len(*buf) <= 1<<20 {
		stackBufPool.Put(buf)
	}
}
