// Package transport wraps the mail service with the reliability guarantees
// the protocol needs: no message processed twice, no message sent to self,
// and enough per-conversation state to thread replies correctly.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cosched/cosched/internal/mail"
	"github.com/cosched/cosched/internal/model"
	"github.com/cosched/cosched/internal/observability"
	"github.com/cosched/cosched/internal/wire"
)

// pollWindow bounds how far back an inbound query reaches. The window is
// time-based rather than read/unread-based so a human opening a protocol
// message does not hide it from the engine.
const pollWindow = 7 * 24 * time.Hour

// ErrSelfAddressed reports an envelope addressed to the sending agent
// itself. A negotiation is always between two distinct agents.
var ErrSelfAddressed = errors.New("envelope addressed to self")

// Inbound pairs a decoded envelope with its transport identifiers.
type Inbound struct {
	Envelope     *model.CoordinationMessage
	TransportID  string
	ThreadHandle string
}

// Transport is the reliability layer around a mail service.
type Transport struct {
	svc       mail.Service
	self      model.AgentIdentity
	processed *ProcessedSet
	threads   *threadTracker
	log       *slog.Logger
}

// New builds a transport for the given agent over svc, loading the
// persisted processed-set from processedPath.
func New(svc mail.Service, self model.AgentIdentity, processedPath string) (*Transport, error) {
	processed, err := LoadProcessedSet(processedPath)
	if err != nil {
		return nil, err
	}
	return &Transport{
		svc:       svc,
		self:      self,
		processed: processed,
		threads:   newThreadTracker(),
		log:       observability.Logger(),
	}, nil
}

// SendEnvelope encodes and delivers one protocol message, then records the
// delivery into the conversation's thread state.
func (t *Transport) SendEnvelope(ctx context.Context, msg model.CoordinationMessage) error {
	if msg.ToAddress == t.self.ContactAddress {
		return fmt.Errorf("sending %s: %w", msg.MessageID, ErrSelfAddressed)
	}
	if err := model.ValidateAddress(msg.ToAddress); err != nil {
		return fmt.Errorf("sending %s: %w", msg.MessageID, err)
	}

	body, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	ts := t.threads.get(msg.ConversationID)
	if ts.Subject == "" {
		ts.Subject = t.subjectFor(msg)
	}

	headers := ts.Headers(mail.GenerateMessageID(hostOf(t.self.ContactAddress)))

	result, err := t.svc.Send(ctx, msg.ToAddress, ts.Subject, body, headers, ts.ThreadHandle)
	if err != nil {
		return fmt.Errorf("sending %s: %w", msg.MessageID, err)
	}

	// The mail service is authoritative for the delivered identifiers.
	ts.record(result.TransportMessageID, msg.ToAddress)
	if result.ThreadHandle != "" {
		ts.ThreadHandle = result.ThreadHandle
	}

	observability.WithConversation(msg.ConversationID, msg.MessageID).Info("envelope sent",
		"type", string(msg.Type),
		"to", msg.ToAddress,
		"transport_id", result.TransportMessageID,
	)
	return nil
}

// PollInbound queries the mailbox for protocol messages from the recent
// window and returns those not yet processed and not from self. Every
// returned or skipped message is recorded in the processed set, which is
// persisted once per batch.
func (t *Transport) PollInbound(ctx context.Context, limit int) ([]Inbound, error) {
	raws, err := t.svc.List(ctx, mail.Query{
		SubjectContains: wire.SubjectTag,
		Since:           time.Now().Add(-pollWindow),
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("polling inbound: %w", err)
	}

	var out []Inbound
	touched := false
	for _, raw := range raws {
		if t.processed.Contains(raw.TransportID) {
			continue
		}
		t.processed.Mark(raw.TransportID)
		touched = true

		if raw.From == t.self.ContactAddress {
			continue
		}

		env, err := wire.Decode(raw.Body, raw.From)
		if err != nil {
			t.log.Warn("dropping undecodable message",
				"transport_id", raw.TransportID,
				"from", raw.From,
				"error", err,
			)
			continue
		}

		ts := t.threads.get(env.ConversationID)
		if ts.Subject == "" {
			ts.Subject = raw.Subject
		}
		if ts.ThreadHandle == "" {
			ts.ThreadHandle = raw.ThreadHandle
		}
		ts.record(raw.TransportID, raw.From)

		if err := t.svc.MarkRead(ctx, raw); err != nil {
			t.log.Warn("marking message read failed", "transport_id", raw.TransportID, "error", err)
		}

		out = append(out, Inbound{
			Envelope:     env,
			TransportID:  raw.TransportID,
			ThreadHandle: raw.ThreadHandle,
		})
	}

	if touched {
		if err := t.processed.Save(); err != nil {
			// Dedup degrades to in-memory until the next successful save.
			t.log.Error("persisting processed set failed", "error", err)
		}
	}
	return out, nil
}

// ArchiveConversation asks the mail service to remove the conversation's
// thread from the active inbox view. Failure is reported but must not fail
// the negotiation; callers log and continue.
func (t *Transport) ArchiveConversation(ctx context.Context, conversationID string) error {
	ts, ok := t.threads.lookup(conversationID)
	if !ok || ts.ThreadHandle == "" {
		return fmt.Errorf("no thread handle known for conversation %s", conversationID)
	}
	if err := t.svc.ArchiveThread(ctx, ts.ThreadHandle); err != nil {
		return fmt.Errorf("archiving conversation %s: %w", conversationID, err)
	}
	return nil
}

// Thread exposes the tracked state for a conversation, if any.
func (t *Transport) Thread(conversationID string) (*ThreadState, bool) {
	return t.threads.lookup(conversationID)
}

// subjectFor derives the stable thread subject for a conversation's first
// outbound message.
func (t *Transport) subjectFor(msg model.CoordinationMessage) string {
	switch p := msg.Payload.(type) {
	case model.RequestPayload:
		return wire.Subject(p.Meeting.Subject)
	case model.ProposalPayload:
		if p.Meeting != nil {
			return wire.Subject(p.Meeting.Subject)
		}
	case model.CounterProposalPayload:
		if p.Meeting != nil {
			return wire.Subject(p.Meeting.Subject)
		}
	}
	return wire.Subject(msg.Type.Title())
}

// hostOf returns the domain part of an address for Message-ID generation.
func hostOf(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			return address[i+1:]
		}
	}
	return ""
}
