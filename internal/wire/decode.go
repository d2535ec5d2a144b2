package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cosched/cosched/internal/model"
)

// UntrustedSenderError reports an inbound message whose externally observed
// sender address cannot identify a real counterpart. Such messages are
// discarded regardless of what the payload claims.
type UntrustedSenderError struct {
	Address string
	Cause   error
}

func (e *UntrustedSenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("untrusted sender %q: %v", e.Address, e.Cause)
	}
	return fmt.Sprintf("untrusted sender %q: placeholder domain", e.Address)
}

// DecodeError reports a body no parser could make sense of.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "undecodable coordination message: " + e.Reason
}

// Decode parses an email body into an envelope. The structured block is
// preferred and validated per message type; when it is missing, malformed,
// or incomplete, the human-readable section is parsed heuristically instead.
// observedFrom is the transport-level sender address and is authoritative:
// the decoded envelope's sender address is forced to it.
func Decode(body, observedFrom string) (*model.CoordinationMessage, error) {
	observedFrom = strings.ToLower(strings.TrimSpace(observedFrom))
	if err := model.ValidateAddress(observedFrom); err != nil {
		return nil, &UntrustedSenderError{Address: observedFrom, Cause: err}
	}
	if model.IsSyntheticAddress(observedFrom) {
		return nil, &UntrustedSenderError{Address: observedFrom}
	}

	msg, structuredErr := decodeStructured(body)
	if structuredErr != nil {
		var fallbackErr error
		msg, fallbackErr = decodeFallback(body)
		if fallbackErr != nil {
			return nil, &DecodeError{Reason: fmt.Sprintf(
				"structured: %v; fallback: %v", structuredErr, fallbackErr)}
		}
	}

	// The payload can claim any identity; the observed address wins.
	msg.From.ContactAddress = observedFrom
	return msg, nil
}

// decodeStructured extracts and validates the machine block.
func decodeStructured(body string) (*model.CoordinationMessage, error) {
	start := strings.Index(body, dataStart)
	end := strings.Index(body, dataEnd)
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("structured block markers not found")
	}
	blob := strings.TrimSpace(body[start+len(dataStart) : end])

	var doc envelopeDoc
	if err := json.Unmarshal([]byte(blob), &doc); err != nil {
		return nil, fmt.Errorf("parsing structured block: %w", err)
	}

	if doc.Protocol != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %q", doc.Protocol)
	}
	if doc.MessageID == "" || doc.ConversationID == "" {
		return nil, fmt.Errorf("missing message or conversation id")
	}
	if doc.FromAgent.AgentID == "" {
		return nil, fmt.Errorf("missing sender agent id")
	}
	if doc.Timestamp.IsZero() {
		return nil, fmt.Errorf("missing timestamp")
	}

	payload, err := decodePayload(doc.MessageType, doc.Payload)
	if err != nil {
		return nil, err
	}

	return &model.CoordinationMessage{
		MessageID:        doc.MessageID,
		Type:             doc.MessageType,
		From:             doc.FromAgent,
		Timestamp:        doc.Timestamp,
		ConversationID:   doc.ConversationID,
		Payload:          payload,
		ExpiresAt:        doc.ExpiresAt,
		RequiresResponse: doc.RequiresResponse,
	}, nil
}

// decodePayload unmarshals and validates the type-specific payload. Every
// message type has exactly one payload shape; an unknown tag is rejected.
func decodePayload(t model.MessageType, raw json.RawMessage) (model.Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing payload for %s", t)
	}

	switch t {
	case model.TypeScheduleRequest:
		var p model.RequestPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parsing request payload: %w", err)
		}
		if err := p.Meeting.Validate(); err != nil {
			return nil, fmt.Errorf("request meeting context: %w", err)
		}
		return p, nil

	case model.TypeScheduleProposal:
		var p model.ProposalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parsing proposal payload: %w", err)
		}
		if err := validateSlots(p.Slots); err != nil {
			return nil, fmt.Errorf("proposal slots: %w", err)
		}
		return p, nil

	case model.TypeScheduleCounterProposal:
		var p model.CounterProposalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parsing counter-proposal payload: %w", err)
		}
		if err := validateSlots(p.Slots); err != nil {
			return nil, fmt.Errorf("counter-proposal slots: %w", err)
		}
		return p, nil

	case model.TypeScheduleConfirmation:
		var p model.ConfirmationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parsing confirmation payload: %w", err)
		}
		if err := validateSlots([]model.TimeSlot{p.SelectedTime}); err != nil {
			return nil, fmt.Errorf("confirmation selected time: %w", err)
		}
		return p, nil

	case model.TypeScheduleRejection:
		var p model.RejectionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parsing rejection payload: %w", err)
		}
		// A missing reason is handled as a protocol violation by the state
		// machine, which must see the message to flag it; only structural
		// damage is rejected here.
		return p, nil

	case model.TypeCoordinationAck:
		var p model.AckPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("parsing ack payload: %w", err)
		}
		return p, nil
	}

	return nil, fmt.Errorf("unknown message type %q", t)
}

// validateSlots checks the list is non-empty and every slot's times parse to
// a positive range.
func validateSlots(slots []model.TimeSlot) error {
	if len(slots) == 0 {
		return fmt.Errorf("slot list is empty")
	}
	for i, s := range slots {
		if s.Start.IsZero() || s.End.IsZero() {
			return fmt.Errorf("slot %d has unset times", i)
		}
		if !s.Start.Before(s.End) {
			return fmt.Errorf("slot %d start is not before end", i)
		}
	}
	return nil
}
