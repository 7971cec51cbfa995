package domain

import (
	"fmt"
	"time"
)

// Window is a half-open time range [From, To). A zero bound is unbounded, so
// the zero Window means all-time. Days marks a rolling window built by
// LastDays: its bounds move with the clock but its identity does not.
type Window struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
	Days int       `json:"days,omitempty"`
}

// AllTime is the unbounded window.
var AllTime = Window{}

// LastDays returns the window covering the n days before now.
func LastDays(now time.Time, n int) Window {
	return Window{From: now.AddDate(0, 0, -n), To: now, Days: n}
}

// Rolling reports whether the window slides with the clock.
func (w Window) Rolling() bool { return w.Days > 0 }

// IsAllTime reports whether both bounds are open.
func (w Window) IsAllTime() bool { return w.From.IsZero() && w.To.IsZero() }

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// Overlaps reports whether the closed span [from, to] intersects the window.
func (w Window) Overlaps(from, to time.Time) bool {
	if !w.To.IsZero() && !from.Before(w.To) {
		return false
	}
	if !w.From.IsZero() && to.Before(w.From) {
		return false
	}
	return true
}

// Validate rejects inverted windows.
func (w Window) Validate() error {
	if !w.From.IsZero() && !w.To.IsZero() && !w.From.Before(w.To) {
		return NewValidationError("window", w.String(), ErrInvalidWindow)
	}
	return nil
}

// String is the canonical cache-key form of the window. Rolling windows key
// by their length only.
func (w Window) String() string {
	if w.Rolling() {
		return fmt.Sprintf("last:%dd", w.Days)
	}
	if w.IsAllTime() {
		return "all"
	}
	return fmt.Sprintf("%s..%s", bound(w.From), bound(w.To))
}

func bound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
