package model

import (
	"fmt"
	"time"
)

// TimeSlot is one scored candidate meeting time. Slots are never mutated
// after scoring; comparisons and serialization work on copies.
type TimeSlot struct {
	Start           time.Time          `json:"start_time"`
	End             time.Time          `json:"end_time"`
	ConfidenceScore float64            `json:"confidence_score"`
	Conflicts       []string           `json:"conflicts,omitempty"`
	ContextScore    map[string]float64 `json:"context_score,omitempty"`
}

// NewTimeSlot builds an unscored slot, checking the start<end invariant.
func NewTimeSlot(start, end time.Time) (TimeSlot, error) {
	if !start.Before(end) {
		return TimeSlot{}, fmt.Errorf("slot start %s must be before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeSlot{Start: start, End: end}, nil
}

// Duration returns the slot length.
func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Overlap returns the duration of the intersection between s and other,
// compared on the UTC instant line so differing zone offsets cannot skew the
// result. A non-positive value means no overlap.
func (s TimeSlot) Overlap(other TimeSlot) time.Duration {
	start := s.Start.UTC()
	if o := other.Start.UTC(); o.After(start) {
		start = o
	}
	end := s.End.UTC()
	if o := other.End.UTC(); o.Before(end) {
		end = o
	}
	return end.Sub(start)
}

// SameTimes reports whether two slots cover the identical instant range,
// regardless of zone representation.
func (s TimeSlot) SameTimes(other TimeSlot) bool {
	return s.Start.Equal(other.Start) && s.End.Equal(other.End)
}

// HasConflicts reports whether any colliding calendar event was recorded.
func (s TimeSlot) HasConflicts() bool {
	return len(s.Conflicts) > 0
}
