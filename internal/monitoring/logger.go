// Package monitoring carries the process-wide diagnostic logger. Long
// analyses report progress through Logf, so embedding programs can
// redirect or silence it without threading a logger through every call.
package monitoring

import "log"

// Logf is the diagnostic logger used for progress and warning messages.
// It defaults to log.Printf and may be replaced through SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil f installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
