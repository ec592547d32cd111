// Package applog provides the engine's logging convention: one
// *log.Logger per component, prefixed "[component] " (no structured or
// leveled logging library is introduced; see DESIGN.md).
package applog

import (
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ncruces/go-strftime"
)

var (
	mu      sync.Mutex
	output  io.Writer = os.Stderr
	loggers           = map[string]*log.Logger{}
)

// SetOutput redirects every logger created via For to w, including loggers
// created before the call.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	for _, l := range loggers {
		l.SetOutput(w)
	}
}

// For returns the logger for a given component, creating it on first use.
func For(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[component]; ok {
		return l
	}
	l := log.New(output, "["+component+"] ", 0)
	loggers[component] = l
	return l
}

// Timestamp renders the instant unixSeconds (taken as UTC) with the
// strftime layout, a compact, locale-free format rather than time.Time's
// verbose default.
func Timestamp(layout string, unixSeconds int64) (string, error) {
	return strftime.Format(layout, time.Unix(unixSeconds, 0).UTC())
}
