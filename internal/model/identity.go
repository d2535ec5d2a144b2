package model

import (
	"fmt"
	"net/mail"
	"strings"
)

// WorkloadLevel describes how loaded an agent's schedule currently is.
type WorkloadLevel string

const (
	WorkloadLight    WorkloadLevel = "light"
	WorkloadModerate WorkloadLevel = "moderate"
	WorkloadHeavy    WorkloadLevel = "heavy"
	WorkloadCritical WorkloadLevel = "critical"
)

// EnergyLevel describes an agent's current energy state.
type EnergyLevel string

const (
	EnergyHigh   EnergyLevel = "high"
	EnergyMedium EnergyLevel = "medium"
	EnergyLow    EnergyLevel = "low"
)

// NegotiationStyle selects how an agent weighs its own preferences against
// the counterpart's during scheduling negotiation.
type NegotiationStyle string

const (
	StyleCollaborative NegotiationStyle = "collaborative"
	StyleAssertive     NegotiationStyle = "assertive"
	StyleAccommodating NegotiationStyle = "accommodating"
	StyleAdaptive      NegotiationStyle = "adaptive"
)

// AgentIdentity identifies one negotiating party. It is constructed once at
// process start and treated as immutable afterwards.
type AgentIdentity struct {
	AgentID        string   `json:"agent_id"`
	DisplayName    string   `json:"display_name"`
	ContactAddress string   `json:"contact_address"`
	Capabilities   []string `json:"capabilities,omitempty"`
	Timezone       string   `json:"timezone"`
}

// defaultCapabilities is advertised when an identity declares none.
var defaultCapabilities = []string{
	"calendar_access",
	"scheduling_coordination",
	"email_coordination",
	"context_awareness",
}

// NewAgentIdentity builds a validated identity. The contact address must be a
// syntactically valid email address.
func NewAgentIdentity(agentID, displayName, address, timezone string) (AgentIdentity, error) {
	if strings.TrimSpace(agentID) == "" {
		return AgentIdentity{}, fmt.Errorf("agent id must not be empty")
	}
	if err := ValidateAddress(address); err != nil {
		return AgentIdentity{}, fmt.Errorf("contact address: %w", err)
	}
	if timezone == "" {
		timezone = "UTC"
	}
	caps := make([]string, len(defaultCapabilities))
	copy(caps, defaultCapabilities)
	return AgentIdentity{
		AgentID:        agentID,
		DisplayName:    displayName,
		ContactAddress: strings.ToLower(strings.TrimSpace(address)),
		Capabilities:   caps,
		Timezone:       timezone,
	}, nil
}

// syntheticDomains are placeholder domains an envelope sender may claim but
// that never belong to a real counterpart. Messages from these are discarded.
var syntheticDomains = []string{
	"example.com", "example.org", "example.net",
	"test.com", "localhost", "invalid",
}

// ValidateAddress checks that addr is a syntactically valid bare email
// address.
func ValidateAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("address is empty")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if parsed.Address != addr {
		return fmt.Errorf("address %q must be a bare address without display name", addr)
	}
	return nil
}

// IsSyntheticAddress reports whether addr uses a placeholder domain that
// cannot identify a real negotiating party.
func IsSyntheticAddress(addr string) bool {
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return true
	}
	domain := strings.ToLower(addr[at+1:])
	for _, d := range syntheticDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// SchedulingPreferences holds an agent's per-process scheduling constants.
type SchedulingPreferences struct {
	PreferredTimes    []string         `json:"preferred_meeting_times" mapstructure:"preferred_meeting_times"`
	MaxMeetingsPerDay int              `json:"max_meetings_per_day" mapstructure:"max_meetings_per_day"`
	MinGapMinutes     int              `json:"min_meeting_gap_minutes" mapstructure:"min_meeting_gap_minutes"`
	ProtectFocusTime  bool             `json:"focus_time_protection" mapstructure:"focus_time_protection"`
	NegotiationStyle  NegotiationStyle `json:"negotiation_style" mapstructure:"negotiation_style"`
	ResponseTimePref  string           `json:"response_time_preference" mapstructure:"response_time_preference"`
}

// DefaultPreferences returns the preferences used when the config declares
// none.
func DefaultPreferences() SchedulingPreferences {
	return SchedulingPreferences{
		PreferredTimes:    []string{"morning", "afternoon"},
		MaxMeetingsPerDay: 6,
		MinGapMinutes:     15,
		ProtectFocusTime:  true,
		NegotiationStyle:  StyleCollaborative,
		ResponseTimePref:  "within_hours",
	}
}

// ContextualFactors is the per-agent mutable context consulted by slot
// scoring. Values are replaced as a whole snapshot, never mutated field by
// field, so a scoring pass always sees a consistent view.
type ContextualFactors struct {
	Workload         WorkloadLevel `json:"current_workload" yaml:"current_workload" mapstructure:"current_workload"`
	Energy           EnergyLevel   `json:"energy_level" yaml:"energy_level" mapstructure:"energy_level"`
	DeadlinePressure string        `json:"deadline_pressure" yaml:"deadline_pressure" mapstructure:"deadline_pressure"`
	MeetingsToday    int           `json:"meetings_today" yaml:"meetings_today" mapstructure:"meetings_today"`
}

// Validate rejects context snapshots with unknown workload or energy values
// so a typo in the context file cannot silently skew scoring.
func (f ContextualFactors) Validate() error {
	switch f.Workload {
	case WorkloadLight, WorkloadModerate, WorkloadHeavy, WorkloadCritical:
	default:
		return fmt.Errorf("unknown workload level %q", f.Workload)
	}
	switch f.Energy {
	case EnergyHigh, EnergyMedium, EnergyLow:
	default:
		return fmt.Errorf("unknown energy level %q", f.Energy)
	}
	if f.MeetingsToday < 0 {
		return fmt.Errorf("meetings_today must not be negative")
	}
	return nil
}

// DefaultContext returns the context assumed before any operator update.
func DefaultContext() ContextualFactors {
	return ContextualFactors{
		Workload:         WorkloadModerate,
		Energy:           EnergyHigh,
		DeadlinePressure: "medium",
		MeetingsToday:    0,
	}
}
