// Package clock provides the wall-clock timestamps attached to presence
// events. Stamps are human-readable local time, matching what chat clients
// render directly.
package clock

import "time"

// StampLayout is the format of every server-generated event timestamp.
const StampLayout = "2006-01-02 15:04:05"

// Clock produces the current time and its event-stamp form.
type Clock interface {
	Now() time.Time
	Stamp() string
}

// System returns a Clock backed by the real wall clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Stamp() string { return time.Now().Format(StampLayout) }

// Fixed returns a Clock pinned to t, for deterministic tests.
func Fixed(t time.Time) Clock {
	return fixedClock{t}
}

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

func (c fixedClock) Stamp() string { return c.t.Format(StampLayout) }
