// Package monitoring holds the process-wide diagnostic log hook.
package monitoring

import "log"

// Logf is the diagnostic logger shared by the capture and streaming
// packages. It defaults to log.Printf; tests and embedders can swap it
// out with SetLogger.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. A nil f installs a no-op.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
