package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, want between %v and %v", now, before, after)
	}
}

func TestRealClockSince(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Minute)
	if d := clock.Since(past); d < time.Minute {
		t.Errorf("Since() = %v, want at least %v", d, time.Minute)
	}
}

func TestMockClockNowAndSet(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clock.Now(), start)
	}

	later := start.Add(3 * time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", clock.Now(), later)
	}
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(90 * time.Second)

	want := start.Add(90 * time.Second)
	if !clock.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", clock.Now(), want)
	}
}

func TestMockClockSince(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	if d := clock.Since(start.Add(-time.Hour)); d != time.Hour {
		t.Errorf("Since() = %v, want %v", d, time.Hour)
	}
}

func TestMockClockSleepRecords(t *testing.T) {
	clock := NewMockClock(time.Time{})
	clock.Sleep(time.Second)
	clock.Sleep(2 * time.Second)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Sleeps() = %v, want [1s 2s]", sleeps)
	}
	if !clock.Now().Equal(time.Time{}) {
		t.Errorf("Sleep moved the clock to %v", clock.Now())
	}
}
