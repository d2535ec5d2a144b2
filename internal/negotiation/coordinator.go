// Package negotiation implements the coordination state machine: it turns
// inbound envelopes into outbound ones, consulting the availability engine
// and the calendar, and tracking each conversation's history.
package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cosched/cosched/internal/availability"
	"github.com/cosched/cosched/internal/calendar"
	"github.com/cosched/cosched/internal/model"
	"github.com/cosched/cosched/internal/observability"
	"github.com/cosched/cosched/internal/store"
	"github.com/cosched/cosched/internal/transport"
	"github.com/cosched/cosched/internal/wire"
)

// counterAcceptThreshold is the confidence at which a counter-proposed slot
// is accepted. It is intentionally looser than initial matching: by the time
// counter-proposals fly, both sides have already failed to agree once.
const counterAcceptThreshold = 0.6

// maxConfirmationAlternatives caps the extra slots a confirmation carries
// for transparency.
const maxConfirmationAlternatives = 2

// Coordinator drives one agent's side of every negotiation. Construct it
// once at startup and pass it to the polling loop; there is no package-level
// instance.
type Coordinator struct {
	identity model.AgentIdentity
	prefs    model.SchedulingPreferences

	transport *transport.Transport
	engine    *availability.Engine
	calendar  calendar.Service
	archive   store.Store

	conversations *conversationLog

	// factors is replaced wholesale on operator updates so a scoring pass
	// never observes a half-written context.
	factors atomic.Pointer[model.ContextualFactors]

	log *slog.Logger
	now func() time.Time
}

// New builds a coordinator for the given agent.
func New(
	identity model.AgentIdentity,
	prefs model.SchedulingPreferences,
	tr *transport.Transport,
	engine *availability.Engine,
	cal calendar.Service,
	archive store.Store,
) *Coordinator {
	c := &Coordinator{
		identity:      identity,
		prefs:         prefs,
		transport:     tr,
		engine:        engine,
		calendar:      cal,
		archive:       archive,
		conversations: newConversationLog(),
		log:           observability.Logger(),
		now:           time.Now,
	}
	initial := model.DefaultContext()
	c.factors.Store(&initial)
	return c
}

// UpdateContext atomically replaces the contextual factors snapshot.
func (c *Coordinator) UpdateContext(f model.ContextualFactors) {
	c.factors.Store(&f)
	c.log.Info("context updated",
		"workload", string(f.Workload),
		"energy", string(f.Energy),
		"meetings_today", f.MeetingsToday,
	)
}

// Context returns the current contextual factors snapshot.
func (c *Coordinator) Context() model.ContextualFactors {
	return *c.factors.Load()
}

// Status is the operator-visible summary of the coordinator.
type Status struct {
	AgentID             string                  `json:"agent_id"`
	Address             string                  `json:"address"`
	Protocol            string                  `json:"protocol"`
	ActiveConversations int                     `json:"active_conversations"`
	Context             model.ContextualFactors `json:"context"`
	Capabilities        []string                `json:"capabilities"`
}

// Status reports the coordinator's current state.
func (c *Coordinator) Status() Status {
	return Status{
		AgentID:             c.identity.AgentID,
		Address:             c.identity.ContactAddress,
		Protocol:            wire.ProtocolVersion,
		ActiveConversations: c.conversations.count(),
		Context:             c.Context(),
		Capabilities:        c.identity.Capabilities,
	}
}

// SendScheduleRequest opens a new negotiation with the agent at toAddress.
// It returns the conversation id that will correlate the whole exchange.
func (c *Coordinator) SendScheduleRequest(ctx context.Context, toAddress string, meeting model.MeetingContext, dayParts []string) (string, error) {
	if err := meeting.Validate(); err != nil {
		return "", fmt.Errorf("schedule request: %w", err)
	}
	if len(dayParts) == 0 {
		dayParts = c.prefs.PreferredTimes
	}
	meeting = meeting.WithAttendee(c.identity.ContactAddress).WithAttendee(toAddress)

	msg := model.NewMessage(c.identity, toAddress, "", model.RequestPayload{
		Meeting:        meeting,
		DayParts:       dayParts,
		SenderPrefs:    c.prefs,
		ContextFactors: c.Context(),
	})

	if err := c.transport.SendEnvelope(ctx, msg); err != nil {
		return "", err
	}
	c.conversations.get(msg.ConversationID).append(msg)
	return msg.ConversationID, nil
}

// HandleInbound runs one envelope through the state machine, sending the
// response it produces, if any. Errors are per-message; the polling loop
// logs them and moves on.
func (c *Coordinator) HandleInbound(ctx context.Context, in transport.Inbound) error {
	env := in.Envelope
	log := observability.WithConversation(env.ConversationID, env.MessageID)

	if env.Expired(c.now()) {
		log.Warn("dropping expired envelope", "type", string(env.Type))
		return nil
	}

	conv := c.conversations.get(env.ConversationID)
	conv.append(*env)

	var (
		response *model.CoordinationMessage
		err      error
	)
	switch p := env.Payload.(type) {
	case model.RequestPayload:
		response, err = c.handleRequest(ctx, env, p)
	case model.ProposalPayload:
		response, err = c.handleProposal(ctx, conv, env, p)
	case model.CounterProposalPayload:
		response, err = c.handleCounterProposal(ctx, conv, env, p)
	case model.ConfirmationPayload:
		response, err = c.handleConfirmation(ctx, conv, env, p)
	case model.RejectionPayload:
		response, err = c.handleRejection(env, p)
	case model.AckPayload:
		c.handleAck(log, p)
	default:
		log.Warn("unhandled payload variant", "type", string(env.Type))
	}
	if err != nil {
		return fmt.Errorf("handling %s in %s: %w", env.Type, env.ConversationID, err)
	}

	if response != nil {
		if err := c.transport.SendEnvelope(ctx, *response); err != nil {
			return err
		}
		conv.append(*response)
	}

	if state := conv.terminalState(); state != "" {
		c.finishConversation(ctx, conv, state)
	}
	if evicted := c.conversations.evictOldest(); evicted != nil {
		c.archiveConversation(ctx, evicted, "evicted")
	}
	return nil
}

// handleRequest answers a schedule request with all of our matching
// availability, or a rejection when we have none.
func (c *Coordinator) handleRequest(ctx context.Context, env *model.CoordinationMessage, p model.RequestPayload) (*model.CoordinationMessage, error) {
	factors := c.Context()
	window := availability.NextWeek(c.now())
	slots := c.engine.FindCandidateSlots(ctx, p.Meeting, window, p.DayParts, factors)

	if len(slots) == 0 {
		return c.buildRejection(env,
			fmt.Sprintf("No open slots match %q within the next week for the requested day parts", p.Meeting.Subject),
			suggestAlternatives(p.Meeting), nil, nil)
	}

	meeting := p.Meeting
	payload := model.ProposalPayload{
		OriginalRequestID:  env.MessageID,
		Slots:              slots,
		ProposalConfidence: slots[0].ConfidenceScore,
		SenderConstraints: map[string]string{
			"max_meetings_per_day": fmt.Sprintf("%d", c.prefs.MaxMeetingsPerDay),
			"current_workload":     string(factors.Workload),
			"energy_level":         string(factors.Energy),
		},
		Meeting: &meeting,
	}
	msg := model.NewMessage(c.identity, env.From.ContactAddress, env.ConversationID, payload)
	return &msg, nil
}

// handleProposal intersects the counterpart's full availability with ours
// and either confirms the best mutual slot or rejects with both sets
// enumerated.
func (c *Coordinator) handleProposal(ctx context.Context, conv *conversation, env *model.CoordinationMessage, p model.ProposalPayload) (*model.CoordinationMessage, error) {
	meeting, dayParts := c.recoverMeeting(conv, p.Meeting, env, p.Slots)
	duration := time.Duration(meeting.DurationMinutes) * time.Minute

	own := c.engine.FindCandidateSlots(ctx, meeting, availability.NextWeek(c.now()), dayParts, c.Context())
	mutual := FindMutualSlots(p.Slots, own, duration)

	if len(mutual) == 0 {
		reason := fmt.Sprintf(
			"No mutual availability: you offered %d slot(s), we had %d open, and none overlap by at least the meeting duration minus tolerance",
			len(p.Slots), len(own))
		return c.buildRejection(env, reason, suggestAlternatives(meeting), p.Slots, own)
	}

	best := mutual[0]
	alternatives := mutual[1:]
	if len(alternatives) > maxConfirmationAlternatives {
		alternatives = alternatives[:maxConfirmationAlternatives]
	}

	// The confirming side materializes the event before the confirmation
	// goes out.
	created, note := c.ensureEvent(ctx, meeting, best, env.From.ContactAddress)
	if note != "" {
		observability.WithConversation(env.ConversationID, env.MessageID).Warn("event materialization incomplete", "note", note)
	}

	payload := model.ConfirmationPayload{
		ProposalMessageID: env.MessageID,
		SelectedTime:      best,
		ConfidenceScore:   best.ConfidenceScore,
		Alternatives:      alternatives,
		EventCreated:      created,
		Attendees:         meeting.WithAttendee(env.From.ContactAddress).WithAttendee(c.identity.ContactAddress).Attendees,
	}
	msg := model.NewMessage(c.identity, env.From.ContactAddress, env.ConversationID, payload)
	return &msg, nil
}

// handleCounterProposal evaluates the counterpart's alternatives with our
// scoring, accepting at the looser threshold, else offering fresh slots we
// have not put on the table before. When nothing fresh exists the loop
// terminates with a rejection.
func (c *Coordinator) handleCounterProposal(ctx context.Context, conv *conversation, env *model.CoordinationMessage, p model.CounterProposalPayload) (*model.CoordinationMessage, error) {
	meeting, dayParts := c.recoverMeeting(conv, p.Meeting, env, p.Slots)
	factors := c.Context()

	rescored := c.engine.Rescore(p.Slots, meeting, factors)
	rounds := conv.negotiationRounds()

	if len(rescored) > 0 && rescored[0].ConfidenceScore >= counterAcceptThreshold {
		best := rescored[0]
		created, note := c.ensureEvent(ctx, meeting, best, env.From.ContactAddress)
		if note != "" {
			observability.WithConversation(env.ConversationID, env.MessageID).Warn("event materialization incomplete", "note", note)
		}
		payload := model.ConfirmationPayload{
			ProposalMessageID: env.MessageID,
			SelectedTime:      best,
			ConfidenceScore:   best.ConfidenceScore,
			EventCreated:      created,
			Attendees:         meeting.WithAttendee(env.From.ContactAddress).WithAttendee(c.identity.ContactAddress).Attendees,
		}
		msg := model.NewMessage(c.identity, env.From.ContactAddress, env.ConversationID, payload)
		return &msg, nil
	}

	fresh := c.engine.FindCandidateSlots(ctx, meeting, availability.NextWeek(c.now()), dayParts, factors)
	fresh = excludeOffered(fresh, conv.offeredSlots(c.identity.AgentID))

	if len(fresh) == 0 {
		reason := fmt.Sprintf(
			"Unable to find a mutually acceptable time after %d negotiation round(s); no further alternatives remain on our side",
			rounds)
		return c.buildRejection(env, reason, suggestAlternatives(meeting), p.Slots, nil)
	}

	payload := model.CounterProposalPayload{
		OriginalProposalID: env.MessageID,
		Slots:              fresh,
		Reasoning:          "Suggesting new alternatives based on updated availability",
		NegotiationRound:   rounds + 1,
		Meeting:            &meeting,
	}
	msg := model.NewMessage(c.identity, env.From.ContactAddress, env.ConversationID, payload)
	return &msg, nil
}

// handleConfirmation materializes (or verifies) the agreed event, archives
// the mail thread, and acknowledges.
func (c *Coordinator) handleConfirmation(ctx context.Context, conv *conversation, env *model.CoordinationMessage, p model.ConfirmationPayload) (*model.CoordinationMessage, error) {
	meeting, _ := c.recoverMeeting(conv, nil, env, []model.TimeSlot{p.SelectedTime})

	created, note := c.ensureEvent(ctx, meeting, p.SelectedTime, env.From.ContactAddress)

	if err := c.transport.ArchiveConversation(ctx, env.ConversationID); err != nil {
		observability.WithConversation(env.ConversationID, env.MessageID).Warn("thread archive failed", "error", err)
	}

	selected := p.SelectedTime
	payload := model.AckPayload{
		AckedMessageID:       env.MessageID,
		CoordinationComplete: true,
		EventCreated:         created,
		EventTime:            &selected,
		Note:                 note,
	}
	msg := model.NewMessage(c.identity, env.From.ContactAddress, env.ConversationID, payload)
	return &msg, nil
}

// handleRejection extracts and checks the reason, flags protocol
// violations, and acknowledges with coordination_complete=false.
func (c *Coordinator) handleRejection(env *model.CoordinationMessage, p model.RejectionPayload) (*model.CoordinationMessage, error) {
	log := observability.WithConversation(env.ConversationID, env.MessageID)
	note := p.Reason
	if !model.ValidReason(p.Reason) {
		// A negotiation must never just stop without an inspectable cause.
		log.Error("protocol violation: rejection without a usable reason",
			"from", env.From.AgentID,
			"reason", p.Reason,
		)
		note = "rejection received without a usable reason"
	} else {
		log.Info("negotiation rejected", "reason", p.Reason, "from", env.From.AgentID)
	}

	payload := model.AckPayload{
		AckedMessageID:       env.MessageID,
		CoordinationComplete: false,
		Note:                 note,
	}
	msg := model.NewMessage(c.identity, env.From.ContactAddress, env.ConversationID, payload)
	return &msg, nil
}

// handleAck closes the loop; the terminal archival happens in the common
// HandleInbound path once the ack is in history.
func (c *Coordinator) handleAck(log *slog.Logger, p model.AckPayload) {
	log.Info("coordination acknowledged",
		"complete", p.CoordinationComplete,
		"event_created", p.EventCreated,
	)
}

// buildRejection wraps the validated rejection constructor into an outbound
// envelope. A reason the constructor refuses is a programming error here,
// not a remote one, so it surfaces as an error.
func (c *Coordinator) buildRejection(env *model.CoordinationMessage, reason string, suggestions []string, theirSlots, ourSlots []model.TimeSlot) (*model.CoordinationMessage, error) {
	payload, err := model.NewRejectionPayload(env.MessageID, reason, suggestions)
	if err != nil {
		return nil, err
	}
	payload.TheirSlots = theirSlots
	payload.OurSlots = ourSlots

	msg := model.NewMessage(c.identity, env.From.ContactAddress, env.ConversationID, payload)
	return &msg, nil
}

// recoverMeeting finds the conversation's meeting context: from the original
// request when it is in local history, else from the payload echo, else
// synthesized from the proposal itself (reverse-initiated conversations
// after a restart must not fail closed).
func (c *Coordinator) recoverMeeting(conv *conversation, echoed *model.MeetingContext, env *model.CoordinationMessage, slots []model.TimeSlot) (model.MeetingContext, []string) {
	if req, ok := conv.request(); ok {
		return req.Meeting, req.DayParts
	}
	if echoed != nil {
		if err := echoed.Validate(); err == nil {
			return *echoed, c.prefs.PreferredTimes
		}
	}

	duration := 30
	if len(slots) > 0 {
		if mins := int(slots[0].Duration().Minutes()); mins > 0 {
			duration = mins
		}
	}
	meeting := model.MeetingContext{
		MeetingKind:       "1:1",
		DurationMinutes:   duration,
		Subject:           "Coordinated meeting",
		EnergyRequirement: model.EnergyRequirementMedium,
	}
	meeting = meeting.WithAttendee(c.identity.ContactAddress).WithAttendee(env.From.ContactAddress)
	return meeting, c.prefs.PreferredTimes
}

// ensureEvent creates the agreed calendar event with both parties as
// attendees, unless an event with the same title already occupies the slot.
// Calendar failures degrade to a note; the negotiation outcome is never lost
// to a calendar error.
func (c *Coordinator) ensureEvent(ctx context.Context, meeting model.MeetingContext, slot model.TimeSlot, otherAddress string) (bool, string) {
	meeting = meeting.WithAttendee(c.identity.ContactAddress).WithAttendee(otherAddress)

	guard := 5 * time.Minute
	existing, err := c.calendar.ListEvents(ctx, slot.Start.Add(-guard), slot.End.Add(guard))
	if err != nil {
		c.log.Warn("could not check for existing events", "error", err)
	}
	for _, ev := range existing {
		// Same instant range means the slot is already materialized, even if
		// the title was synthesized differently after a restart.
		if ev.Start.Equal(slot.Start) && ev.End.Equal(slot.End) {
			return true, ""
		}
		if strings.EqualFold(strings.TrimSpace(ev.Title), strings.TrimSpace(meeting.Subject)) {
			return true, ""
		}
	}

	description := meeting.Description
	if description != "" {
		description += "\n\n"
	}
	description += "Scheduled by agent coordination."

	err = c.calendar.CreateEvent(ctx, calendar.Event{
		Title:       meeting.Subject,
		Start:       slot.Start,
		End:         slot.End,
		Description: description,
		Attendees:   meeting.Attendees,
	})
	if err != nil {
		return false, fmt.Sprintf("calendar event creation failed: %v", err)
	}
	return true, ""
}

// finishConversation archives a terminal conversation and drops it from
// memory. For confirmed outcomes the mail thread is archived too.
func (c *Coordinator) finishConversation(ctx context.Context, conv *conversation, state string) {
	if state == "confirmed" {
		if err := c.transport.ArchiveConversation(ctx, conv.id); err != nil {
			c.log.Warn("thread archive failed", "conversation_id", conv.id, "error", err)
		}
	}
	c.archiveConversation(ctx, conv, state)
}

// archiveConversation writes the history to the sqlite archive and drops the
// in-memory record.
func (c *Coordinator) archiveConversation(ctx context.Context, conv *conversation, state string) {
	rec := store.ConversationRecord{
		ID:            conv.id,
		TerminalState: state,
		ArchivedAt:    c.now(),
		Participants:  conv.participants(),
	}
	if ts, ok := c.transport.Thread(conv.id); ok {
		rec.Subject = ts.Subject
	}
	for _, m := range conv.messages {
		payloadJSON, err := json.Marshal(m.Payload)
		if err != nil {
			payloadJSON = []byte("{}")
		}
		rec.Messages = append(rec.Messages, store.MessageRecord{
			MessageID:   m.MessageID,
			Type:        string(m.Type),
			FromAgentID: m.From.AgentID,
			FromAddress: m.From.ContactAddress,
			ToAddress:   m.ToAddress,
			SentAt:      m.Timestamp,
			PayloadJSON: string(payloadJSON),
		})
	}

	if err := c.archive.ArchiveConversation(ctx, rec); err != nil {
		c.log.Error("conversation archive failed", "conversation_id", conv.id, "error", err)
		return
	}
	c.conversations.drop(conv.id)
	c.log.Info("conversation archived", "conversation_id", conv.id, "state", state)
}

// excludeOffered filters out slots whose instant range was already offered.
func excludeOffered(slots, offered []model.TimeSlot) []model.TimeSlot {
	if len(offered) == 0 {
		return slots
	}
	out := slots[:0:0]
	for _, s := range slots {
		repeat := false
		for _, o := range offered {
			if s.SameTimes(o) {
				repeat = true
				break
			}
		}
		if !repeat {
			out = append(out, s)
		}
	}
	return out
}

// suggestAlternatives mirrors the advice a rejection carries alongside its
// reason.
func suggestAlternatives(meeting model.MeetingContext) []string {
	return []string{
		"Consider extending the search timeframe to the following week",
		fmt.Sprintf("Reduce the meeting duration from %d to 30 minutes", meeting.DurationMinutes),
		"Consider splitting into multiple shorter sessions",
	}
}
