package clock

import (
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	f.Advance(90 * time.Second)
	if got := f.Now().Sub(start); got != 90*time.Second {
		t.Fatalf("advanced %v, want 90s", got)
	}
	f.Set(start)
	if !f.Now().Equal(start) {
		t.Fatal("Set did not reset the clock")
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(Real); !ok {
		t.Fatal("nil clock should fall back to Real")
	}
	f := NewFake(time.Now())
	if OrReal(f) != Clock(f) {
		t.Fatal("non-nil clock should be returned unchanged")
	}
}
