package threadref_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sharnoff/threadref"
)

func TestStackTraceString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		trace threadref.StackTrace
		want  []string
	}{
		{
			name: "frame kinds",
			trace: threadref.StackTrace{Frames: []threadref.StackFrame{
				{Function: "pkg.Run", File: "/src/pkg/run.go", Line: 12},
				{Function: "pkg.noLine", File: "/src/pkg/run.go"},
				{Function: "pkg.noFile", Line: 7}, // line is meaningless without a file
				{File: "/src/pkg/anon.go", Line: 3},
			}},
			want: []string{
				"pkg.Run(...)",
				"\t/src/pkg/run.go:12",
				"pkg.noLine(...)",
				"\t/src/pkg/run.go",
				"pkg.noFile(...)",
				"\t<unknown file>",
				"<unknown function>",
				"\t/src/pkg/anon.go:3",
			},
		},
		{
			name:  "empty",
			trace: threadref.StackTrace{},
			want:  []string{"<empty stack>"},
		},
		{
			name: "spawn chain",
			trace: threadref.StackTrace{
				Frames: []threadref.StackFrame{{Function: "worker.loop", File: "/src/worker.go", Line: 40}},
				Parent: &threadref.StackTrace{
					Parent: &threadref.StackTrace{
						Frames: []threadref.StackFrame{{Function: "main.main", File: "/src/main.go", Line: 9}},
					},
				},
			},
			want: []string{
				"worker.loop(...)",
				"\t/src/worker.go:40",
				"spawned by:",
				"<empty stack>",
				"spawned by:",
				"main.main(...)",
				"\t/src/main.go:9",
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, strings.Join(c.want, "\n")+"\n", c.trace.String())
		})
	}
}

// requireFunctions checks that each level of got starts with frames whose function names match the
// corresponding patterns, and that got has exactly as many levels as want.
func requireFunctions(t *testing.T, got threadref.StackTrace, want ...[]string) {
	t.Helper()

	level := &got
	for depth, patterns := range want {
		require.NotNil(t, level, "missing level %d:\n%s", depth, got)
		require.GreaterOrEqual(t, len(level.Frames), len(patterns), "too few frames at level %d:\n%s", depth, got)

		for i, p := range patterns {
			fn := level.Frames[i].Function
			require.Regexp(t, regexp.MustCompile("^"+p+"$"), fn, "level %d, frame %d:\n%s", depth, i, got)
			require.NotZero(t, level.Frames[i].Line)
		}
		level = level.Parent
	}
	require.Nil(t, level, "unexpected extra level:\n%s", got)
}

func TestGetStackTraceSkip(t *testing.T) {
	t.Parallel()

	inner := func(skip uint) threadref.StackTrace {
		return threadref.GetStackTrace(nil, skip)
	}
	outer := func(skip uint) threadref.StackTrace {
		return inner(skip)
	}

	requireFunctions(t, outer(0), []string{
		`.*/threadref_test\.TestGetStackTraceSkip\.func1`,
		`.*/threadref_test\.TestGetStackTraceSkip\.func2`,
		`.*/threadref_test\.TestGetStackTraceSkip`,
	})
	requireFunctions(t, outer(1), []string{
		`.*/threadref_test\.TestGetStackTraceSkip\.func2`,
		`.*/threadref_test\.TestGetStackTraceSkip`,
	})
	require.Empty(t, threadref.GetStackTrace(nil, 1<<20).Frames)
}

func TestStackTraceLeavesOutRuntime(t *testing.T) {
	t.Parallel()

	ch := make(chan threadref.StackTrace)
	go func() { ch <- threadref.GetStackTrace(nil, 0) }()
	st := <-ch

	// the bottom frame of a plain goroutine is runtime.goexit
	requireFunctions(t, st, []string{`.*/threadref_test\.TestStackTraceLeavesOutRuntime\.func1`})
	require.Len(t, st.Frames, 1)
}

func TestOriginOfGoGoroutine(t *testing.T) {
	t.Parallel()

	ch := make(chan threadref.StackTrace)
	threadref.Go(func() {
		ch <- threadref.Current().Origin()
	})
	origin := <-ch

	requireFunctions(t, origin,
		[]string{`.*/threadref_test\.TestOriginOfGoGoroutine\.func1`, `.*/threadref\.spawn\.func1`},
		[]string{`.*/threadref_test\.TestOriginOfGoGoroutine`, `testing\.tRunner`},
	)
}

func TestOriginOfGroupGoroutine(t *testing.T) {
	t.Parallel()

	ch := make(chan threadref.StackTrace, 1)
	g := threadref.NewGroup(t.Name())
	startWorker := func() {
		g.Go("worker", func() { ch <- threadref.NewRef(nil).Get().Origin() })
	}
	startWorker()
	<-g.Wait()

	requireFunctions(t, <-ch,
		[]string{`.*/threadref_test\.TestOriginOfGroupGoroutine\.func1\.1`},
		[]string{`.*/threadref_test\.TestOriginOfGroupGoroutine\.func1`, `.*/threadref_test\.TestOriginOfGroupGoroutine`},
	)
}

func TestOriginOfUnspawnedGoroutine(t *testing.T) {
	t.Parallel()

	ch := make(chan threadref.StackTrace)
	go func() {
		defer threadref.Exit()
		ch <- threadref.Current().Origin()
	}()

	requireFunctions(t, <-ch, []string{`.*/threadref_test\.TestOriginOfUnspawnedGoroutine\.func1`})
}

func TestOriginAfterExitKeepsSpawner(t *testing.T) {
	t.Parallel()

	type origins struct{ first, second threadref.StackTrace }
	ch := make(chan origins, 1)
	threadref.Go(func() {
		var o origins
		o.first = threadref.Current().Origin()
		threadref.Exit()
		o.second = threadref.Current().Origin()
		ch <- o
	})
	o := <-ch

	spawner := []string{`.*/threadref_test\.TestOriginAfterExitKeepsSpawner`}
	requireFunctions(t, o.first, []string{`.*/threadref_test\.TestOriginAfterExitKeepsSpawner\.func1`}, spawner)
	requireFunctions(t, o.second, []string{`.*/threadref_test\.TestOriginAfterExitKeepsSpawner\.func1`}, spawner)
	require.NotEqual(t, o.first.Frames[0].Line, o.second.Frames[0].Line)
}
