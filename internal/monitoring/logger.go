// Package monitoring holds the diagnostic logger shared by the acquisition
// engine, the feed clients and the consumers layered on top of them.
package monitoring

import (
	"log"
	"sync"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Tagged returns a logger that prefixes every line with "[tag] ".
// The returned function resolves Logf on each call, so a later SetLogger
// still applies to loggers created earlier.
func Tagged(tag string) func(format string, v ...interface{}) {
	prefix := "[" + tag + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Limiter emits at most one line per interval and reports how many lines
// were swallowed in between. The acquisition loop uses it so a dead feed
// does not flood the log once per retry.
type Limiter struct {
	Interval time.Duration

	mu         sync.Mutex
	last       time.Time
	suppressed int
}

// Logf logs through logf unless a line was already emitted within the
// interval ending at now. It reports whether the line was written.
func (l *Limiter) Logf(now time.Time, logf func(string, ...interface{}), format string, v ...interface{}) bool {
	l.mu.Lock()
	if !l.last.IsZero() && now.Sub(l.last) < l.Interval {
		l.suppressed++
		l.mu.Unlock()
		return false
	}
	suppressed := l.suppressed
	l.suppressed = 0
	l.last = now
	l.mu.Unlock()

	if suppressed > 0 {
		format += " (%d similar suppressed)"
		v = append(v, suppressed)
	}
	logf(format, v...)
	return true
}
