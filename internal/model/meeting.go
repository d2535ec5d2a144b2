package model

import (
	"fmt"
	"strings"
)

// EnergyRequirement classifies how demanding a meeting is expected to be.
type EnergyRequirement string

const (
	EnergyRequirementLow    EnergyRequirement = "low"
	EnergyRequirementMedium EnergyRequirement = "medium"
	EnergyRequirementHigh   EnergyRequirement = "high"
)

// MeetingContext describes what is being scheduled. It is created by the
// requesting side and carried unchanged through the whole conversation.
type MeetingContext struct {
	MeetingKind         string            `json:"meeting_kind"`
	DurationMinutes     int               `json:"duration_minutes"`
	Attendees           []string          `json:"attendees"`
	Subject             string            `json:"subject"`
	Description         string            `json:"description,omitempty"`
	EnergyRequirement   EnergyRequirement `json:"energy_requirement"`
	RequiresPreparation bool              `json:"requires_preparation"`
}

// Validate checks the invariants a meeting context must satisfy before it
// enters a conversation.
func (m MeetingContext) Validate() error {
	if m.DurationMinutes <= 0 {
		return fmt.Errorf("meeting duration must be positive, got %d", m.DurationMinutes)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("meeting subject must not be empty")
	}
	switch m.EnergyRequirement {
	case EnergyRequirementLow, EnergyRequirementMedium, EnergyRequirementHigh:
	case "":
		return fmt.Errorf("energy requirement must be set")
	default:
		return fmt.Errorf("unknown energy requirement %q", m.EnergyRequirement)
	}
	return nil
}

// WithAttendee returns a copy of the context with addr appended to the
// attendee list unless already present. Attendee order is preserved.
func (m MeetingContext) WithAttendee(addr string) MeetingContext {
	for _, a := range m.Attendees {
		if strings.EqualFold(a, addr) {
			return m
		}
	}
	out := m
	out.Attendees = make([]string, 0, len(m.Attendees)+1)
	out.Attendees = append(out.Attendees, m.Attendees...)
	out.Attendees = append(out.Attendees, addr)
	return out
}
