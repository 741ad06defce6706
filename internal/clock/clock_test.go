package clock_test

import (
	"testing"
	"time"

	"github.com/nudge-chat/nudge/server/internal/clock"
)

func TestFixedStampFormat(t *testing.T) {
	at := time.Date(2024, 3, 9, 18, 5, 7, 0, time.UTC)
	c := clock.Fixed(at)

	if got, want := c.Stamp(), "2024-03-09 18:05:07"; got != want {
		t.Errorf("Stamp() = %q, want %q", got, want)
	}
	if !c.Now().Equal(at) {
		t.Errorf("Now() = %v, want %v", c.Now(), at)
	}
}

func TestSystemStampParsesBack(t *testing.T) {
	stamp := clock.System().Stamp()
	if _, err := time.Parse(clock.StampLayout, stamp); err != nil {
		t.Fatalf("system stamp %q does not parse with layout: %v", stamp, err)
	}
}
