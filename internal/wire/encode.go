package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cosched/cosched/internal/model"
)

// Encode renders an envelope as a plain-text email body: the human summary
// first so a person reading the inbox sees something legible, then the
// structured block the decoder prefers.
func Encode(msg model.CoordinationMessage) (string, error) {
	payload, err := json.MarshalIndent(msg.Payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding payload for %s: %w", msg.MessageID, err)
	}

	doc := envelopeDoc{
		Protocol:         ProtocolVersion,
		MessageID:        msg.MessageID,
		ConversationID:   msg.ConversationID,
		MessageType:      msg.Type,
		FromAgent:        msg.From,
		Timestamp:        msg.Timestamp,
		RequiresResponse: msg.RequiresResponse,
		ExpiresAt:        msg.ExpiresAt,
		Payload:          payload,
	}
	structured, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding envelope %s: %w", msg.MessageID, err)
	}

	var b strings.Builder
	b.WriteString(humanSummary(msg))
	b.WriteString("\n")
	b.WriteString(separator)
	b.WriteString("\n")
	b.WriteString(dataStart)
	b.WriteString("\n")
	b.Write(structured)
	b.WriteString("\n")
	b.WriteString(dataEnd)
	b.WriteString("\n")
	b.WriteString(separator)
	b.WriteString("\n\n")
	b.WriteString("This is an automated coordination message between scheduling agents.\n")
	b.WriteString("Protocol: " + ProtocolVersion + "\n")
	b.WriteString("Agent: " + msg.From.AgentID + "\n")
	return b.String(), nil
}

// humanSummary renders the message header and the type-specific bullets a
// human (and the fallback parser) can read.
func humanSummary(msg model.CoordinationMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent Coordination: %s\n", msg.Type.Title())
	fmt.Fprintf(&b, "From: %s (%s)\n", msg.From.DisplayName, msg.From.AgentID)
	fmt.Fprintf(&b, "Conversation: %s\n", msg.ConversationID)
	fmt.Fprintf(&b, "Ref: %s\n", msg.MessageID)
	fmt.Fprintf(&b, "Time: %s\n", msg.Timestamp.Format(time.RFC1123Z))

	switch p := msg.Payload.(type) {
	case model.RequestPayload:
		fmt.Fprintf(&b, "Meeting: %s\n", p.Meeting.Subject)
		fmt.Fprintf(&b, "Kind: %s\n", p.Meeting.MeetingKind)
		fmt.Fprintf(&b, "Duration: %d minutes\n", p.Meeting.DurationMinutes)
		fmt.Fprintf(&b, "Energy: %s\n", p.Meeting.EnergyRequirement)
		if len(p.DayParts) > 0 {
			fmt.Fprintf(&b, "Day parts: %s\n", strings.Join(p.DayParts, ", "))
		}
	case model.ProposalPayload:
		fmt.Fprintf(&b, "Proposed times (%d options):\n", len(p.Slots))
		writeSlotBullets(&b, p.Slots)
	case model.CounterProposalPayload:
		if p.Reasoning != "" {
			fmt.Fprintf(&b, "Reasoning: %s\n", p.Reasoning)
		}
		fmt.Fprintf(&b, "Counter proposals (%d options):\n", len(p.Slots))
		writeSlotBullets(&b, p.Slots)
	case model.ConfirmationPayload:
		b.WriteString("Selected time:\n")
		writeSlotBullets(&b, []model.TimeSlot{p.SelectedTime})
		if len(p.Alternatives) > 0 {
			b.WriteString("Alternatives considered:\n")
			writeSlotBullets(&b, p.Alternatives)
		}
		fmt.Fprintf(&b, "Calendar event created: %t\n", p.EventCreated)
	case model.RejectionPayload:
		fmt.Fprintf(&b, "Reason: %s\n", p.Reason)
		for _, alt := range p.Alternatives {
			fmt.Fprintf(&b, "Suggestion: %s\n", alt)
		}
		if len(p.TheirSlots) > 0 {
			b.WriteString("Times you offered:\n")
			writeSlotBullets(&b, p.TheirSlots)
		}
		if len(p.OurSlots) > 0 {
			b.WriteString("Times we had available:\n")
			writeSlotBullets(&b, p.OurSlots)
		}
	case model.AckPayload:
		fmt.Fprintf(&b, "Coordination complete: %t\n", p.CoordinationComplete)
		fmt.Fprintf(&b, "Calendar event created: %t\n", p.EventCreated)
		if p.Note != "" {
			fmt.Fprintf(&b, "Note: %s\n", p.Note)
		}
	}
	return b.String()
}

// writeSlotBullets renders slots one per line in the layout the fallback
// parser recognizes.
func writeSlotBullets(b *strings.Builder, slots []model.TimeSlot) {
	for _, s := range slots {
		fmt.Fprintf(b, "  * %s .. %s (confidence %.2f)\n",
			s.Start.Format(slotTimeLayout),
			s.End.Format(slotTimeLayout),
			s.ConfidenceScore,
		)
	}
}
