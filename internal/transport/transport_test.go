package transport

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cosched/cosched/internal/mail"
	"github.com/cosched/cosched/internal/model"
	"github.com/cosched/cosched/internal/wire"
)

// fakeService is an in-memory mail.Service recording sends and serving a
// scripted inbox.
type fakeService struct {
	sent []sentMessage
	// inbox is returned from List as-is.
	inbox    []mail.RawMessage
	read     []string
	archived []string
	listErr  error
}

type sentMessage struct {
	to      string
	subject string
	body    string
	headers *mail.ThreadingHeaders
}

func (f *fakeService) Send(_ context.Context, to, subject, body string, headers *mail.ThreadingHeaders, threadHandle string) (mail.SendResult, error) {
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body, headers: headers})
	id := headers.MessageID
	return mail.SendResult{TransportMessageID: id, ThreadHandle: subject}, nil
}

func (f *fakeService) List(_ context.Context, q mail.Query, limit int) ([]mail.RawMessage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]mail.RawMessage, 0, len(f.inbox))
	for _, m := range f.inbox {
		if len(out) >= limit {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeService) MarkRead(_ context.Context, msg mail.RawMessage) error {
	f.read = append(f.read, msg.TransportID)
	return nil
}

func (f *fakeService) ArchiveThread(_ context.Context, threadHandle string) error {
	f.archived = append(f.archived, threadHandle)
	return nil
}

func testIdentity(t *testing.T, agentID, address string) model.AgentIdentity {
	t.Helper()
	id, err := model.NewAgentIdentity(agentID, "", address, "UTC")
	if err != nil {
		t.Fatalf("building identity: %v", err)
	}
	return id
}

func newTestTransport(t *testing.T, svc mail.Service) *Transport {
	t.Helper()
	tr, err := New(svc, testIdentity(t, "alice-agent", "alice@corp.io"), filepath.Join(t.TempDir(), "processed.json"))
	if err != nil {
		t.Fatalf("building transport: %v", err)
	}
	return tr
}

func requestEnvelope(t *testing.T, from model.AgentIdentity, to string) model.CoordinationMessage {
	t.Helper()
	return model.NewMessage(from, to, "", model.RequestPayload{
		Meeting: model.MeetingContext{
			MeetingKind:       "1:1",
			DurationMinutes:   30,
			Subject:           "Sync",
			EnergyRequirement: model.EnergyRequirementMedium,
		},
		DayParts: []string{"morning"},
	})
}

func inboxMessage(t *testing.T, from model.AgentIdentity, fromAddr, transportID string) mail.RawMessage {
	t.Helper()
	msg := requestEnvelope(t, from, "alice@corp.io")
	body, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encoding inbox message: %v", err)
	}
	return mail.RawMessage{
		TransportID:  transportID,
		ThreadHandle: "[AGENT-COORD] Sync",
		Subject:      "[AGENT-COORD] Sync",
		From:         fromAddr,
		Date:         time.Now(),
		Body:         body,
	}
}

func TestSendEnvelopeRejectsSelf(t *testing.T) {
	svc := &fakeService{}
	tr := newTestTransport(t, svc)

	msg := requestEnvelope(t, testIdentity(t, "alice-agent", "alice@corp.io"), "alice@corp.io")
	err := tr.SendEnvelope(context.Background(), msg)
	if !errors.Is(err, ErrSelfAddressed) {
		t.Fatalf("self-send accepted: %v", err)
	}
	if len(svc.sent) != 0 {
		t.Error("self-addressed message reached the mail service")
	}
}

func TestSendEnvelopeThreadsReplies(t *testing.T) {
	svc := &fakeService{}
	tr := newTestTransport(t, svc)
	alice := testIdentity(t, "alice-agent", "alice@corp.io")

	first := requestEnvelope(t, alice, "bob@corp.io")
	if err := tr.SendEnvelope(context.Background(), first); err != nil {
		t.Fatalf("first send: %v", err)
	}

	second := model.NewMessage(alice, "bob@corp.io", first.ConversationID, model.AckPayload{
		AckedMessageID: "coord-bob-agent-1",
	})
	if err := tr.SendEnvelope(context.Background(), second); err != nil {
		t.Fatalf("second send: %v", err)
	}

	if len(svc.sent) != 2 {
		t.Fatalf("sent %d messages", len(svc.sent))
	}

	if h := svc.sent[0].headers; h.InReplyTo != "" || h.References != "" {
		t.Errorf("first message must not carry reply headers: %+v", h)
	}
	firstID := svc.sent[0].headers.MessageID
	if h := svc.sent[1].headers; h.InReplyTo != firstID || h.References != firstID {
		t.Errorf("second message not threaded onto %q: %+v", firstID, h)
	}

	if svc.sent[0].subject != svc.sent[1].subject {
		t.Errorf("subject changed mid-thread: %q vs %q", svc.sent[0].subject, svc.sent[1].subject)
	}
	if svc.sent[0].subject != "[AGENT-COORD] Sync" {
		t.Errorf("subject = %q", svc.sent[0].subject)
	}
}

func TestPollInboundDeduplicates(t *testing.T) {
	bob := testIdentity(t, "bob-agent", "bob@corp.io")
	svc := &fakeService{inbox: []mail.RawMessage{
		inboxMessage(t, bob, "bob@corp.io", "<m1@corp.io>"),
	}}
	tr := newTestTransport(t, svc)

	got, err := tr.PollInbound(context.Background(), 50)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("first poll returned %d envelopes", len(got))
	}
	if got[0].Envelope.Type != model.TypeScheduleRequest {
		t.Errorf("type = %q", got[0].Envelope.Type)
	}

	// The same message stays in the mailbox; a second poll must not
	// resurface it.
	got, err = tr.PollInbound(context.Background(), 50)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("second poll resurfaced %d envelopes", len(got))
	}
}

func TestPollInboundDedupSurvivesRestart(t *testing.T) {
	bob := testIdentity(t, "bob-agent", "bob@corp.io")
	svc := &fakeService{inbox: []mail.RawMessage{
		inboxMessage(t, bob, "bob@corp.io", "<m1@corp.io>"),
	}}

	path := filepath.Join(t.TempDir(), "processed.json")
	alice := testIdentity(t, "alice-agent", "alice@corp.io")

	tr, err := New(svc, alice, path)
	if err != nil {
		t.Fatalf("building transport: %v", err)
	}
	if got, err := tr.PollInbound(context.Background(), 50); err != nil || len(got) != 1 {
		t.Fatalf("first poll: %d envelopes, err %v", len(got), err)
	}

	// A new transport over the same state file simulates a restart.
	tr2, err := New(svc, alice, path)
	if err != nil {
		t.Fatalf("rebuilding transport: %v", err)
	}
	if got, err := tr2.PollInbound(context.Background(), 50); err != nil || len(got) != 0 {
		t.Fatalf("post-restart poll: %d envelopes, err %v", len(got), err)
	}
}

func TestPollInboundSkipsOwnMessages(t *testing.T) {
	alice := testIdentity(t, "alice-agent", "alice@corp.io")
	svc := &fakeService{inbox: []mail.RawMessage{
		inboxMessage(t, alice, "alice@corp.io", "<self@corp.io>"),
	}}
	tr := newTestTransport(t, svc)

	got, err := tr.PollInbound(context.Background(), 50)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("own message surfaced: %d envelopes", len(got))
	}
}

func TestPollInboundDropsUndecodable(t *testing.T) {
	svc := &fakeService{inbox: []mail.RawMessage{{
		TransportID: "<junk@corp.io>",
		Subject:     "[AGENT-COORD] Sync",
		From:        "bob@corp.io",
		Date:        time.Now(),
		Body:        "Hey, are you free tomorrow?",
	}}}
	tr := newTestTransport(t, svc)

	got, err := tr.PollInbound(context.Background(), 50)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("junk decoded into %d envelopes", len(got))
	}

	// The junk message is still marked processed so it is not re-parsed
	// every cycle.
	got, err = tr.PollInbound(context.Background(), 50)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("junk re-surfaced")
	}
}

func TestPollInboundTracksThreadForReplies(t *testing.T) {
	bob := testIdentity(t, "bob-agent", "bob@corp.io")
	raw := inboxMessage(t, bob, "bob@corp.io", "<m1@corp.io>")
	svc := &fakeService{inbox: []mail.RawMessage{raw}}
	tr := newTestTransport(t, svc)

	got, err := tr.PollInbound(context.Background(), 50)
	if err != nil || len(got) != 1 {
		t.Fatalf("poll: %d envelopes, err %v", len(got), err)
	}

	alice := testIdentity(t, "alice-agent", "alice@corp.io")
	reply := model.NewMessage(alice, "bob@corp.io", got[0].Envelope.ConversationID, model.AckPayload{
		AckedMessageID: got[0].Envelope.MessageID,
	})
	if err := tr.SendEnvelope(context.Background(), reply); err != nil {
		t.Fatalf("reply send: %v", err)
	}

	if len(svc.sent) != 1 {
		t.Fatalf("sent %d messages", len(svc.sent))
	}
	if h := svc.sent[0].headers; h.InReplyTo != "<m1@corp.io>" {
		t.Errorf("reply not threaded onto inbound message: %+v", h)
	}
	if svc.sent[0].subject != raw.Subject {
		t.Errorf("reply subject %q differs from thread subject %q", svc.sent[0].subject, raw.Subject)
	}
}

func TestArchiveConversation(t *testing.T) {
	bob := testIdentity(t, "bob-agent", "bob@corp.io")
	svc := &fakeService{inbox: []mail.RawMessage{
		inboxMessage(t, bob, "bob@corp.io", "<m1@corp.io>"),
	}}
	tr := newTestTransport(t, svc)

	got, err := tr.PollInbound(context.Background(), 50)
	if err != nil || len(got) != 1 {
		t.Fatalf("poll: %d envelopes, err %v", len(got), err)
	}

	convID := got[0].Envelope.ConversationID
	if err := tr.ArchiveConversation(context.Background(), convID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(svc.archived) != 1 || svc.archived[0] != "[AGENT-COORD] Sync" {
		t.Errorf("archived threads: %v", svc.archived)
	}

	if err := tr.ArchiveConversation(context.Background(), "unknown-conv"); err == nil {
		t.Error("archiving unknown conversation succeeded")
	}
}

func TestProcessedSetPrunesOldEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")

	s, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("loading empty set: %v", err)
	}
	s.Mark("<fresh@corp.io>")
	s.seen["<stale@corp.io>"] = time.Now().Add(-retentionHorizon - time.Hour)
	if err := s.Save(); err != nil {
		t.Fatalf("saving: %v", err)
	}

	reloaded, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if !reloaded.Contains("<fresh@corp.io>") {
		t.Error("fresh entry pruned")
	}
	if reloaded.Contains("<stale@corp.io>") {
		t.Error("stale entry survived the retention horizon")
	}
}

func TestThreadStateBoundsReferences(t *testing.T) {
	ts := &ThreadState{ConversationID: "conv-1"}
	for i := 0; i < maxThreadIDs+5; i++ {
		ts.record(string(rune('a'+i)), "bob@corp.io")
	}
	if len(ts.TransportIDs) != maxThreadIDs {
		t.Errorf("retained %d ids, want %d", len(ts.TransportIDs), maxThreadIDs)
	}
	if len(ts.Participants) != 1 {
		t.Errorf("participant recorded %d times", len(ts.Participants))
	}
}
