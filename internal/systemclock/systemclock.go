// Package systemclock implements ports.Clock against the real wall clock,
// the CLI's production stand-in for the fixed clocks tests inject.
package systemclock

import "time"

type Clock struct{}

func New() Clock { return Clock{} }

func (Clock) Now() time.Time { return time.Now() }

func (Clock) NowRFC3339() string { return time.Now().Format(time.RFC3339) }
