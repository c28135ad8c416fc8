package threadref

import (
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var currentLogger atomic.Pointer[logrus.Entry]

var defaultLogger = func() *logrus.Entry {
	l := logrus.New()
	l.Out = os.Stderr
	l.Level = logrus.WarnLevel
	return l.WithField("layer", "threadref")
}()

// SetLogger sets the logger used to report panics from death callbacks and sweeper activity.
// Passing nil restores the default, which writes warnings and errors to stderr.
func SetLogger(l *logrus.Entry) {
	currentLogger.Store(l)
}

func logger() *logrus.Entry {
	if l := currentLogger.Load(); l != nil {
		return l
	}
	return defaultLogger
}

// runCallback invokes a death callback for the ended goroutine g on behalf of the runtime's cleanup
// goroutine. A panic is reported, along with where g came from, and swallowed so that the remaining
// cleanups still run.
//
// Each invocation is its own lifetime: an anchor the callback creates (say, by calling NewRef) is
// dropped when it returns. The cleanup goroutine never ends, and Sweep cannot see it while it is
// idle, so leaving the anchor in place would let Sweep drop it at an arbitrary later point.
func runCallback(g *Goroutine, kind string, f func()) {
	id := currentID()
	defer slots.forget(id)

	defer func() {
		if r := recover(); r != nil {
			logger().WithFields(logrus.Fields{
				"goroutine": g.id,
				"kind":      kind,
				"panic":     r,
				"origin":    g.Origin().String(),
			}).Error("death callback panicked")
		}
	}()

	f()
}
