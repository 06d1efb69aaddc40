// Package monitoring carries the batch metrics recorder and the settable
// package logger used for run summaries.
package monitoring

import (
	"io"
	"log"
	"os"
)

// Logf logs run summaries and HTTP failures. It writes to stderr with the
// same flags as the per-package debug streams until replaced.
var Logf func(format string, v ...interface{}) = newStream(os.Stderr)

// SetLogger replaces Logf. nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetLogWriter points Logf at w. nil mutes it.
func SetLogWriter(w io.Writer) {
	if w == nil {
		SetLogger(nil)
		return
	}
	Logf = newStream(w)
}

func newStream(w io.Writer) func(string, ...interface{}) {
	return log.New(w, "[superphot] ", log.LstdFlags|log.Lmicroseconds).Printf
}
