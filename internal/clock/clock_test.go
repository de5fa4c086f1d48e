package clock

import (
	"testing"
	"time"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	start := time.Unix(1700000000, 0)
	c := NewManual(start)
	if !c.Now().Equal(start) {
		t.Fatalf("now: got %v want %v", c.Now(), start)
	}
	c.Advance(30 * time.Second)
	if got := c.Now().Sub(start); got != 30*time.Second {
		t.Fatalf("advance: got %v want %v", got, 30*time.Second)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("set: got %v want %v", c.Now(), start)
	}
}
