// Package monitoring forwards unexpected conditions to an error tracker.
// A process-wide monitor is installed with Init; the default discards.
package monitoring

import (
	"sync"
	"time"
)

// Monitor reports errors and notable conditions.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CaptureMessage reports a condition that is not a Go error.
	CaptureMessage(msg string, tags map[string]string)
	// CapturePanic reports a recovered panic value.
	CapturePanic(r any)
	Flush(timeout time.Duration)
}

// NopMonitor discards everything.
type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CaptureMessage(string, map[string]string)  {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init installs m as the process-wide monitor. A nil m restores the no-op monitor.
func Init(m Monitor) {
	mu.Lock()
	defer mu.Unlock()
	if m == nil {
		m = NopMonitor{}
	}
	current = m
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records err with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// CaptureMessage records msg with optional tags.
func CaptureMessage(msg string, tags map[string]string) {
	get().CaptureMessage(msg, tags)
}

// Recover reports a panic and re-panics. It must be deferred directly:
//
//	defer monitoring.Recover()
func Recover() {
	if r := recover(); r != nil {
		m := get()
		m.CapturePanic(r)
		m.Flush(2 * time.Second)
		panic(r)
	}
}

// Flush waits for buffered events up to d.
func Flush(d time.Duration) {
	get().Flush(d)
}
