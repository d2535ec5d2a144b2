package negotiation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cosched/cosched/internal/availability"
	"github.com/cosched/cosched/internal/calendar"
	"github.com/cosched/cosched/internal/mail"
	"github.com/cosched/cosched/internal/model"
	"github.com/cosched/cosched/internal/transport"
	"github.com/cosched/cosched/internal/wire"
	"github.com/cosched/cosched/tests/testutil"
)

// fakeMail captures outbound messages so tests can decode what the
// coordinator sent.
type fakeMail struct {
	sent     []fakeSent
	archived []string
}

type fakeSent struct {
	to      string
	subject string
	body    string
}

func (f *fakeMail) Send(_ context.Context, to, subject, body string, headers *mail.ThreadingHeaders, _ string) (mail.SendResult, error) {
	f.sent = append(f.sent, fakeSent{to: to, subject: subject, body: body})
	return mail.SendResult{TransportMessageID: headers.MessageID, ThreadHandle: subject}, nil
}

func (f *fakeMail) List(context.Context, mail.Query, int) ([]mail.RawMessage, error) {
	return nil, nil
}

func (f *fakeMail) MarkRead(context.Context, mail.RawMessage) error { return nil }

func (f *fakeMail) ArchiveThread(_ context.Context, threadHandle string) error {
	f.archived = append(f.archived, threadHandle)
	return nil
}

// harness wires a coordinator over fakes plus an in-memory store.
type harness struct {
	coordinator *Coordinator
	mail        *fakeMail
	alice       model.AgentIdentity
	bob         model.AgentIdentity
	calendar    calendar.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	alice, err := model.NewAgentIdentity("alice-agent", "Alice", "alice@corp.io", "UTC")
	if err != nil {
		t.Fatalf("alice identity: %v", err)
	}
	bob, err := model.NewAgentIdentity("bob-agent", "Bob", "bob@corp.io", "UTC")
	if err != nil {
		t.Fatalf("bob identity: %v", err)
	}

	svc := &fakeMail{}
	tr, err := transport.New(svc, alice, filepath.Join(t.TempDir(), "processed.json"))
	if err != nil {
		t.Fatalf("transport: %v", err)
	}

	db := testutil.NewTestStore(t)
	cal := calendar.NewLocal(db)
	engine := availability.NewEngine(cal, model.DefaultPreferences())

	return &harness{
		coordinator: New(alice, model.DefaultPreferences(), tr, engine, cal, db),
		mail:        svc,
		alice:       alice,
		bob:         bob,
		calendar:    cal,
	}
}

// lastSent decodes the most recent outbound message.
func (h *harness) lastSent(t *testing.T) *model.CoordinationMessage {
	t.Helper()
	if len(h.mail.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	msg, err := wire.Decode(h.mail.sent[len(h.mail.sent)-1].body, "alice@corp.io")
	if err != nil {
		t.Fatalf("decoding sent message: %v", err)
	}
	return msg
}

// inbound wraps an envelope the way the transport would deliver it.
func inbound(env model.CoordinationMessage) transport.Inbound {
	return transport.Inbound{Envelope: &env, TransportID: "<" + env.MessageID + "@corp.io>"}
}

func meeting60() model.MeetingContext {
	return model.MeetingContext{
		MeetingKind:       "1:1",
		DurationMinutes:   60,
		Subject:           "Q3 planning",
		EnergyRequirement: model.EnergyRequirementMedium,
	}
}

// nextMorningAt returns the next weekday at the given UTC hour that is
// still comfortably inside the one-week search window.
func nextMorningAt(hour int) time.Time {
	day := time.Now().UTC().AddDate(0, 0, 1)
	at := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
	for at.Weekday() == time.Saturday || at.Weekday() == time.Sunday || !at.After(time.Now().UTC()) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func TestHandleRequestProposesAllAvailability(t *testing.T) {
	h := newHarness(t)
	request := model.NewMessage(h.bob, "alice@corp.io", "", model.RequestPayload{
		Meeting:  meeting60(),
		DayParts: []string{"morning"},
	})

	if err := h.coordinator.HandleInbound(context.Background(), inbound(request)); err != nil {
		t.Fatalf("handling request: %v", err)
	}

	sent := h.lastSent(t)
	if sent.Type != model.TypeScheduleProposal {
		t.Fatalf("answered with %q", sent.Type)
	}
	if sent.ConversationID != request.ConversationID {
		t.Error("conversation id not carried over")
	}

	p := sent.Payload.(model.ProposalPayload)
	if p.OriginalRequestID != request.MessageID {
		t.Errorf("original request id %q", p.OriginalRequestID)
	}
	if len(p.Slots) == 0 {
		t.Fatal("proposal carries no slots")
	}
	if p.Meeting == nil || p.Meeting.Subject != "Q3 planning" {
		t.Error("meeting context not echoed for recovery")
	}
	for i := 1; i < len(p.Slots); i++ {
		if p.Slots[i].ConfidenceScore > p.Slots[i-1].ConfidenceScore {
			t.Fatal("slots not sorted by score")
		}
	}
	if p.ProposalConfidence != p.Slots[0].ConfidenceScore {
		t.Error("proposal confidence is not the best slot's score")
	}
}

func TestHandleRequestWithoutAvailabilityRejects(t *testing.T) {
	h := newHarness(t)
	meeting := meeting60()
	meeting.DurationMinutes = 150 // cannot fit the evening window

	request := model.NewMessage(h.bob, "alice@corp.io", "", model.RequestPayload{
		Meeting:  meeting,
		DayParts: []string{"evening"},
	})

	if err := h.coordinator.HandleInbound(context.Background(), inbound(request)); err != nil {
		t.Fatalf("handling request: %v", err)
	}

	sent := h.lastSent(t)
	if sent.Type != model.TypeScheduleRejection {
		t.Fatalf("answered with %q", sent.Type)
	}
	p := sent.Payload.(model.RejectionPayload)
	if !model.ValidReason(p.Reason) {
		t.Errorf("rejection reason %q is not substantial", p.Reason)
	}
	if len(p.Alternatives) == 0 {
		t.Error("rejection carries no alternative suggestions")
	}
}

func TestHandleProposalConfirmsBestMutualSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conversationID, err := h.coordinator.SendScheduleRequest(ctx, "bob@corp.io", meeting60(), []string{"morning"})
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}

	at := nextMorningAt(10)
	proposal := model.NewMessage(h.bob, "alice@corp.io", conversationID, model.ProposalPayload{
		OriginalRequestID: "coord-bob-agent-req",
		Slots: []model.TimeSlot{
			{Start: at, End: at.Add(time.Hour), ConfidenceScore: 0.9},
		},
	})

	if err := h.coordinator.HandleInbound(ctx, inbound(proposal)); err != nil {
		t.Fatalf("handling proposal: %v", err)
	}

	sent := h.lastSent(t)
	if sent.Type != model.TypeScheduleConfirmation {
		t.Fatalf("answered with %q", sent.Type)
	}
	p := sent.Payload.(model.ConfirmationPayload)
	if !p.SelectedTime.Start.Equal(at) {
		t.Errorf("selected %v, want %v", p.SelectedTime.Start, at)
	}
	if !p.EventCreated {
		t.Error("event not created before confirming")
	}

	// The event is on the local calendar with both attendees.
	events, err := h.calendar.ListEvents(ctx, at.Add(-time.Hour), at.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("calendar holds %d events", len(events))
	}
	if events[0].Title != "Q3 planning" {
		t.Errorf("event title %q", events[0].Title)
	}
}

func TestHandleProposalWithoutMutualSlotRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conversationID, err := h.coordinator.SendScheduleRequest(ctx, "bob@corp.io", meeting60(), []string{"morning"})
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}

	// Bob offers a Sunday 03:00 slot nobody's availability covers.
	at := nextMorningAt(10)
	for at.Weekday() != time.Sunday {
		at = at.AddDate(0, 0, 1)
	}
	at = time.Date(at.Year(), at.Month(), at.Day(), 3, 0, 0, 0, time.UTC)

	proposal := model.NewMessage(h.bob, "alice@corp.io", conversationID, model.ProposalPayload{
		Slots: []model.TimeSlot{{Start: at, End: at.Add(time.Hour), ConfidenceScore: 0.9}},
	})

	if err := h.coordinator.HandleInbound(ctx, inbound(proposal)); err != nil {
		t.Fatalf("handling proposal: %v", err)
	}

	sent := h.lastSent(t)
	if sent.Type != model.TypeScheduleRejection {
		t.Fatalf("answered with %q", sent.Type)
	}
	p := sent.Payload.(model.RejectionPayload)
	if len(p.TheirSlots) != 1 {
		t.Error("rejection does not enumerate the counterpart's slots")
	}
	if len(p.OurSlots) == 0 {
		t.Error("rejection does not enumerate our availability")
	}
}

func TestHandleCounterProposalAcceptsAboveThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conversationID, err := h.coordinator.SendScheduleRequest(ctx, "bob@corp.io", meeting60(), []string{"morning"})
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}

	// A mid-morning weekday slot scores well above the acceptance
	// threshold under default context.
	at := nextMorningAt(10)
	counter := model.NewMessage(h.bob, "alice@corp.io", conversationID, model.CounterProposalPayload{
		OriginalProposalID: "coord-alice-agent-prop",
		Slots:              []model.TimeSlot{{Start: at, End: at.Add(time.Hour)}},
		NegotiationRound:   1,
	})

	if err := h.coordinator.HandleInbound(ctx, inbound(counter)); err != nil {
		t.Fatalf("handling counter-proposal: %v", err)
	}

	sent := h.lastSent(t)
	if sent.Type != model.TypeScheduleConfirmation {
		t.Fatalf("answered with %q", sent.Type)
	}
	p := sent.Payload.(model.ConfirmationPayload)
	if p.ConfidenceScore < counterAcceptThreshold {
		t.Errorf("accepted below threshold: %v", p.ConfidenceScore)
	}
	if !p.EventCreated {
		t.Error("event not created before confirming")
	}
}

func TestHandleConfirmationCreatesEventAndAcks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conversationID, err := h.coordinator.SendScheduleRequest(ctx, "bob@corp.io", meeting60(), []string{"morning"})
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}

	at := nextMorningAt(11)
	confirmation := model.NewMessage(h.bob, "alice@corp.io", conversationID, model.ConfirmationPayload{
		ProposalMessageID: "coord-alice-agent-prop",
		SelectedTime:      model.TimeSlot{Start: at, End: at.Add(time.Hour), ConfidenceScore: 0.85},
		EventCreated:      true,
	})

	if err := h.coordinator.HandleInbound(ctx, inbound(confirmation)); err != nil {
		t.Fatalf("handling confirmation: %v", err)
	}

	sent := h.lastSent(t)
	if sent.Type != model.TypeCoordinationAck {
		t.Fatalf("answered with %q", sent.Type)
	}
	p := sent.Payload.(model.AckPayload)
	if !p.CoordinationComplete {
		t.Error("ack not marked complete")
	}
	if !p.EventCreated {
		t.Error("event not materialized on our side")
	}
	if p.EventTime == nil || !p.EventTime.Start.Equal(at) {
		t.Error("ack does not echo the event time")
	}

	events, err := h.calendar.ListEvents(ctx, at.Add(-time.Hour), at.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("calendar holds %d events", len(events))
	}
}

func TestDuplicateConfirmationDoesNotDuplicateEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conversationID, err := h.coordinator.SendScheduleRequest(ctx, "bob@corp.io", meeting60(), []string{"morning"})
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}

	at := nextMorningAt(11)
	for i := 0; i < 2; i++ {
		confirmation := model.NewMessage(h.bob, "alice@corp.io", conversationID, model.ConfirmationPayload{
			SelectedTime: model.TimeSlot{Start: at, End: at.Add(time.Hour)},
		})
		if err := h.coordinator.HandleInbound(ctx, inbound(confirmation)); err != nil {
			t.Fatalf("handling confirmation %d: %v", i, err)
		}
	}

	events, err := h.calendar.ListEvents(ctx, at.Add(-time.Hour), at.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("duplicate confirmation produced %d events", len(events))
	}
}

func TestHandleRejectionWithPlaceholderReasonStillAcks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conversationID, err := h.coordinator.SendScheduleRequest(ctx, "bob@corp.io", meeting60(), nil)
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}

	// A violating rejection arrives with a placeholder reason; the decode
	// layer lets it through so the state machine can flag it.
	rejection := model.NewMessage(h.bob, "alice@corp.io", conversationID, model.RejectionPayload{
		OriginalMessageID: "coord-alice-agent-req",
		Reason:            "no reason",
	})

	if err := h.coordinator.HandleInbound(ctx, inbound(rejection)); err != nil {
		t.Fatalf("handling rejection: %v", err)
	}

	sent := h.lastSent(t)
	if sent.Type != model.TypeCoordinationAck {
		t.Fatalf("answered with %q", sent.Type)
	}
	p := sent.Payload.(model.AckPayload)
	if p.CoordinationComplete {
		t.Error("rejected negotiation acked as complete")
	}
}

func TestExpiredEnvelopeIsDropped(t *testing.T) {
	h := newHarness(t)

	request := model.NewMessage(h.bob, "alice@corp.io", "", model.RequestPayload{
		Meeting:  meeting60(),
		DayParts: []string{"morning"},
	})
	past := time.Now().Add(-time.Hour)
	request.ExpiresAt = &past

	if err := h.coordinator.HandleInbound(context.Background(), inbound(request)); err != nil {
		t.Fatalf("handling expired request: %v", err)
	}
	if len(h.mail.sent) != 0 {
		t.Errorf("expired request answered with %d message(s)", len(h.mail.sent))
	}
}

func TestTerminalConversationIsArchivedAndDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conversationID, err := h.coordinator.SendScheduleRequest(ctx, "bob@corp.io", meeting60(), []string{"morning"})
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}
	if h.coordinator.Status().ActiveConversations != 1 {
		t.Fatal("conversation not tracked after request")
	}

	at := nextMorningAt(10)
	proposal := model.NewMessage(h.bob, "alice@corp.io", conversationID, model.ProposalPayload{
		Slots: []model.TimeSlot{{Start: at, End: at.Add(time.Hour), ConfidenceScore: 0.9}},
	})
	if err := h.coordinator.HandleInbound(ctx, inbound(proposal)); err != nil {
		t.Fatalf("handling proposal: %v", err)
	}

	ack := model.NewMessage(h.bob, "alice@corp.io", conversationID, model.AckPayload{
		AckedMessageID:       "coord-alice-agent-conf",
		CoordinationComplete: true,
		EventCreated:         true,
	})
	if err := h.coordinator.HandleInbound(ctx, inbound(ack)); err != nil {
		t.Fatalf("handling ack: %v", err)
	}

	if got := h.coordinator.Status().ActiveConversations; got != 0 {
		t.Errorf("%d conversations still in memory after terminal ack", got)
	}

	rec, err := h.coordinator.archive.GetConversation(ctx, conversationID)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if rec == nil {
		t.Fatal("conversation not archived")
	}
	if rec.TerminalState != "confirmed" {
		t.Errorf("terminal state %q", rec.TerminalState)
	}
	if len(rec.Messages) < 3 {
		t.Errorf("archived %d messages, want the full history", len(rec.Messages))
	}
}

func TestUpdateContextChangesScoring(t *testing.T) {
	h := newHarness(t)

	heavy := model.DefaultContext()
	heavy.Workload = model.WorkloadCritical
	heavy.Energy = model.EnergyLow
	h.coordinator.UpdateContext(heavy)

	if got := h.coordinator.Context(); got.Workload != model.WorkloadCritical {
		t.Errorf("context not swapped: %+v", got)
	}
	if h.coordinator.Status().Context.Energy != model.EnergyLow {
		t.Error("status does not reflect the updated context")
	}
}
