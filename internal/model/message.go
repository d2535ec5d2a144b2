package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType tags the protocol variant carried by a CoordinationMessage.
type MessageType string

const (
	TypeScheduleRequest         MessageType = "schedule_request"
	TypeScheduleProposal        MessageType = "schedule_proposal"
	TypeScheduleCounterProposal MessageType = "schedule_counter_proposal"
	TypeScheduleConfirmation    MessageType = "schedule_confirmation"
	TypeScheduleRejection       MessageType = "schedule_rejection"
	TypeCoordinationAck         MessageType = "coordination_ack"
)

// AllMessageTypes lists every protocol variant, used by the decoder to
// validate the type tag.
var AllMessageTypes = []MessageType{
	TypeScheduleRequest,
	TypeScheduleProposal,
	TypeScheduleCounterProposal,
	TypeScheduleConfirmation,
	TypeScheduleRejection,
	TypeCoordinationAck,
}

// Title returns the human-readable name of the type, e.g.
// "Schedule Counter Proposal".
func (t MessageType) Title() string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Payload is the variant-specific structured content of an envelope. Exactly
// one concrete payload type corresponds to each MessageType.
type Payload interface {
	Kind() MessageType
}

// RequestPayload opens a negotiation.
type RequestPayload struct {
	Meeting        MeetingContext        `json:"meeting_context"`
	DayParts       []string              `json:"time_preferences"`
	SenderPrefs    SchedulingPreferences `json:"sender_preferences"`
	ContextFactors ContextualFactors     `json:"context_factors"`
}

func (RequestPayload) Kind() MessageType { return TypeScheduleRequest }

// ProposalPayload answers a request with the responder's full matching
// availability.
type ProposalPayload struct {
	OriginalRequestID  string            `json:"original_request_id"`
	Slots              []TimeSlot        `json:"proposed_times"`
	ProposalConfidence float64           `json:"proposal_confidence"`
	SenderConstraints  map[string]string `json:"sender_constraints,omitempty"`
	Meeting            *MeetingContext   `json:"meeting_context,omitempty"`
}

func (ProposalPayload) Kind() MessageType { return TypeScheduleProposal }

// CounterProposalPayload offers alternatives when a proposal or confirmation
// premise cannot be accepted.
type CounterProposalPayload struct {
	OriginalProposalID string          `json:"original_proposal_id"`
	Slots              []TimeSlot      `json:"counter_proposals"`
	Reasoning          string          `json:"reasoning,omitempty"`
	NegotiationRound   int             `json:"negotiation_round,omitempty"`
	Meeting            *MeetingContext `json:"meeting_context,omitempty"`
}

func (CounterProposalPayload) Kind() MessageType { return TypeScheduleCounterProposal }

// ConfirmationPayload commits to a single mutually available time. The
// sender materializes the calendar event before sending.
type ConfirmationPayload struct {
	ProposalMessageID string     `json:"proposal_message_id"`
	SelectedTime      TimeSlot   `json:"selected_time"`
	ConfidenceScore   float64    `json:"confidence_score"`
	Alternatives      []TimeSlot `json:"alternatives,omitempty"`
	EventCreated      bool       `json:"calendar_event_created"`
	Attendees         []string   `json:"attendees,omitempty"`
}

func (ConfirmationPayload) Kind() MessageType { return TypeScheduleConfirmation }

// RejectionPayload terminates a negotiation round with a mandatory
// human-legible reason. Build it with NewRejectionPayload.
type RejectionPayload struct {
	OriginalMessageID string     `json:"original_message_id"`
	Reason            string     `json:"rejection_reason"`
	Alternatives      []string   `json:"alternative_suggestions,omitempty"`
	TheirSlots        []TimeSlot `json:"their_slots,omitempty"`
	OurSlots          []TimeSlot `json:"our_slots,omitempty"`
}

func (RejectionPayload) Kind() MessageType { return TypeScheduleRejection }

// AckPayload closes a conversation after a confirmation or rejection.
type AckPayload struct {
	AckedMessageID       string    `json:"acked_message_id"`
	CoordinationComplete bool      `json:"coordination_complete"`
	EventCreated         bool      `json:"calendar_event_created"`
	EventTime            *TimeSlot `json:"event_time,omitempty"`
	Note                 string    `json:"note,omitempty"`
}

func (AckPayload) Kind() MessageType { return TypeCoordinationAck }

// minReasonLength is the shortest rejection reason the protocol accepts.
const minReasonLength = 10

// meaninglessReasons are placeholder strings that do not explain anything.
var meaninglessReasons = map[string]bool{
	"no reason":          true,
	"n/a":                true,
	"na":                 true,
	"none":               true,
	"unknown":            true,
	"no reason provided": true,
	"-":                  true,
}

// ErrInvalidReason reports a rejection reason the protocol refuses to carry.
type ErrInvalidReason struct {
	Reason string
}

func (e *ErrInvalidReason) Error() string {
	return fmt.Sprintf("rejection reason %q is empty, too short, or a placeholder; a negotiation may not terminate without a real explanation", e.Reason)
}

// ValidReason reports whether a rejection reason is substantial enough for
// the protocol: long enough to explain something and not a known
// placeholder.
func ValidReason(reason string) bool {
	trimmed := strings.TrimSpace(reason)
	return len(trimmed) >= minReasonLength && !meaninglessReasons[strings.ToLower(trimmed)]
}

// NewRejectionPayload is the only way to build a rejection. It refuses
// reasons shorter than ten characters and known placeholder strings, so a
// negotiation can never end without a traceable cause.
func NewRejectionPayload(originalID, reason string, alternatives []string) (RejectionPayload, error) {
	trimmed := strings.TrimSpace(reason)
	if !ValidReason(trimmed) {
		return RejectionPayload{}, &ErrInvalidReason{Reason: reason}
	}
	return RejectionPayload{
		OriginalMessageID: originalID,
		Reason:            trimmed,
		Alternatives:      alternatives,
	}, nil
}

// responseExpiry is how long a response-requiring envelope stays valid.
const responseExpiry = 24 * time.Hour

// CoordinationMessage is the wire envelope for one protocol turn.
type CoordinationMessage struct {
	MessageID        string
	Type             MessageType
	From             AgentIdentity
	ToAddress        string
	Timestamp        time.Time
	ConversationID   string
	Payload          Payload
	ExpiresAt        *time.Time
	RequiresResponse bool
}

// NewMessage assembles an envelope for sending. A fresh message id is always
// generated; conversationID may be empty for the first outbound request, in
// which case a new conversation is opened.
func NewMessage(from AgentIdentity, toAddress, conversationID string, payload Payload) CoordinationMessage {
	now := time.Now()
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	msg := CoordinationMessage{
		MessageID:      fmt.Sprintf("coord-%s-%s", from.AgentID, uuid.NewString()),
		Type:           payload.Kind(),
		From:           from,
		ToAddress:      strings.ToLower(strings.TrimSpace(toAddress)),
		Timestamp:      now,
		ConversationID: conversationID,
		Payload:        payload,
	}

	switch payload.Kind() {
	case TypeScheduleRequest, TypeScheduleProposal, TypeScheduleCounterProposal:
		msg.RequiresResponse = true
		exp := now.Add(responseExpiry)
		msg.ExpiresAt = &exp
	}
	return msg
}

// Expired reports whether the envelope's response window has passed.
func (m CoordinationMessage) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}
