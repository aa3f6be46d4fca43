package ca

import "time"

// SetClock replaces the clock used for validity windows
func (a *Authority) SetClock(now func() time.Time) {
	a.now = now
}
