// Package wire serializes coordination envelopes into the dual-format email
// body (human-readable summary plus a machine-structured block) and parses
// them back. The rest of the engine never sees raw email text.
package wire

import (
	"encoding/json"
	"time"

	"github.com/cosched/cosched/internal/model"
)

const (
	// SubjectTag prefixes every protocol email so polling queries can filter
	// cheaply.
	SubjectTag = "[AGENT-COORD]"

	// ProtocolVersion tags the structured block.
	ProtocolVersion = "coord-v2"

	separator = "=== AGENT COORDINATION ==="
	dataStart = "COORDINATION_DATA_START"
	dataEnd   = "COORDINATION_DATA_END"

	// slotTimeLayout renders slot instants in the human section with their
	// zone offset, so the fallback parser recovers timezone-aware times.
	slotTimeLayout = "2006-01-02 15:04 -0700"
)

// envelopeDoc is the structured block as it travels inside the body.
type envelopeDoc struct {
	Protocol         string              `json:"protocol"`
	MessageID        string              `json:"message_id"`
	ConversationID   string              `json:"conversation_id"`
	MessageType      model.MessageType   `json:"message_type"`
	FromAgent        model.AgentIdentity `json:"from_agent"`
	Timestamp        time.Time           `json:"timestamp"`
	RequiresResponse bool                `json:"requires_response"`
	ExpiresAt        *time.Time          `json:"expires_at,omitempty"`
	Payload          json.RawMessage     `json:"payload"`
}

// Subject returns the fixed subject line for a conversation about the given
// meeting subject. The same subject is reused for every message of the
// thread so the mail service's own threading groups them.
func Subject(meetingSubject string) string {
	return SubjectTag + " " + meetingSubject
}
