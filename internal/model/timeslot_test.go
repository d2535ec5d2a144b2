package model

import (
	"testing"
	"time"
)

func mustSlot(t *testing.T, start, end time.Time) TimeSlot {
	t.Helper()
	s, err := NewTimeSlot(start, end)
	if err != nil {
		t.Fatalf("building slot: %v", err)
	}
	return s
}

func TestNewTimeSlotRejectsInvertedRange(t *testing.T) {
	at := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	if _, err := NewTimeSlot(at, at); err == nil {
		t.Error("zero-length slot accepted")
	}
	if _, err := NewTimeSlot(at.Add(time.Hour), at); err == nil {
		t.Error("inverted slot accepted")
	}
}

func TestOverlapAcrossZones(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 10:00-11:00 UTC and 12:15-13:15 Berlin (= 10:15-11:15 UTC) overlap by
	// 45 minutes even though the walls clocks disagree.
	a := mustSlot(t,
		time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC))
	b := mustSlot(t,
		time.Date(2026, 9, 7, 12, 15, 0, 0, berlin),
		time.Date(2026, 9, 7, 13, 15, 0, 0, berlin))

	if got := a.Overlap(b); got != 45*time.Minute {
		t.Errorf("Overlap = %v, want 45m", got)
	}
	if got := b.Overlap(a); got != 45*time.Minute {
		t.Errorf("Overlap not symmetric: %v", got)
	}
}

func TestOverlapDisjoint(t *testing.T) {
	a := mustSlot(t,
		time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC))
	b := mustSlot(t,
		time.Date(2026, 9, 7, 11, 30, 0, 0, time.UTC),
		time.Date(2026, 9, 7, 12, 30, 0, 0, time.UTC))

	if got := a.Overlap(b); got > 0 {
		t.Errorf("disjoint slots overlap by %v", got)
	}
}

func TestSameTimesIgnoresZoneRepresentation(t *testing.T) {
	utc := mustSlot(t,
		time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC))
	offset := mustSlot(t,
		time.Date(2026, 9, 7, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
		time.Date(2026, 9, 7, 13, 0, 0, 0, time.FixedZone("CEST", 2*3600)))

	if !utc.SameTimes(offset) {
		t.Error("identical instants with different zones not equal")
	}
}
