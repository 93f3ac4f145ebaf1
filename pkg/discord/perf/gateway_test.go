package perf

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestTrackDisabled(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	done := track(0, c.now, "interaction")
	c.t = c.t.Add(time.Hour)
	done()
}

func TestTrackMeasuresElapsed(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	calls := 0
	now := func() time.Time { calls++; return c.now() }

	done := track(100*time.Millisecond, now, "", "custom_id", "ctl:mc:stop")
	c.t = c.t.Add(250 * time.Millisecond)
	done()
	if calls != 2 {
		t.Fatalf("expected start and end reads of the clock, got %d", calls)
	}
}
