package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/cosched/cosched/internal/store"
	"github.com/cosched/cosched/tests/testutil"
)

func sampleConversation(id string, archivedAt time.Time) store.ConversationRecord {
	return store.ConversationRecord{
		ID:            id,
		Subject:       "[AGENT-COORD] Q3 planning",
		Participants:  []string{"alice@corp.io", "bob@corp.io"},
		TerminalState: "confirmed",
		ArchivedAt:    archivedAt,
		Messages: []store.MessageRecord{
			{
				MessageID:   "coord-alice-agent-1",
				Type:        "schedule_request",
				FromAgentID: "alice-agent",
				FromAddress: "alice@corp.io",
				ToAddress:   "bob@corp.io",
				SentAt:      archivedAt.Add(-2 * time.Hour),
				PayloadJSON: `{"meeting_context":{"subject":"Q3 planning"}}`,
			},
			{
				MessageID:   "coord-bob-agent-2",
				Type:        "schedule_confirmation",
				FromAgentID: "bob-agent",
				FromAddress: "bob@corp.io",
				ToAddress:   "alice@corp.io",
				SentAt:      archivedAt.Add(-time.Hour),
				PayloadJSON: `{"calendar_event_created":true}`,
			},
		},
	}
}

func TestArchiveConversationRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.ArchiveConversation(ctx, sampleConversation("conv-1", now)); err != nil {
		t.Fatalf("archiving: %v", err)
	}

	rec, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if rec == nil {
		t.Fatal("archived conversation not found")
	}

	if rec.TerminalState != "confirmed" {
		t.Errorf("terminal state %q", rec.TerminalState)
	}
	if len(rec.Participants) != 2 || rec.Participants[0] != "alice@corp.io" {
		t.Errorf("participants %v", rec.Participants)
	}
	if len(rec.Messages) != 2 {
		t.Fatalf("loaded %d messages", len(rec.Messages))
	}
	// Messages come back in sent order.
	if rec.Messages[0].MessageID != "coord-alice-agent-1" {
		t.Errorf("message order lost: first is %s", rec.Messages[0].MessageID)
	}
	if rec.Messages[1].PayloadJSON != `{"calendar_event_created":true}` {
		t.Errorf("payload mangled: %s", rec.Messages[1].PayloadJSON)
	}
}

func TestArchiveConversationReplacesExisting(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.ArchiveConversation(ctx, sampleConversation("conv-1", now)); err != nil {
		t.Fatalf("first archive: %v", err)
	}

	second := sampleConversation("conv-1", now.Add(time.Minute))
	second.TerminalState = "rejected"
	second.Messages = second.Messages[:1]
	if err := s.ArchiveConversation(ctx, second); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	rec, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if rec.TerminalState != "rejected" {
		t.Errorf("terminal state %q after replace", rec.TerminalState)
	}
	if len(rec.Messages) != 1 {
		t.Errorf("stale messages survived: %d", len(rec.Messages))
	}

	count, err := s.CountConversations(ctx)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 1 {
		t.Errorf("count %d after replace", count)
	}
}

func TestGetConversationUnknownID(t *testing.T) {
	s := testutil.NewTestStore(t)

	rec, err := s.GetConversation(context.Background(), "never-archived")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Errorf("got %+v for unknown id", rec)
	}
}

func TestEventsBetweenOverlapSemantics(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)

	events := []store.EventRecord{
		{Title: "inside", Start: base, End: base.Add(time.Hour), Attendees: []string{"alice@corp.io"}},
		{Title: "straddles-start", Start: base.Add(-30 * time.Minute), End: base.Add(30 * time.Minute)},
		{Title: "before", Start: base.Add(-2 * time.Hour), End: base.Add(-time.Hour)},
		{Title: "after", Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)},
	}
	for _, ev := range events {
		if err := s.CreateEvent(ctx, ev); err != nil {
			t.Fatalf("creating %q: %v", ev.Title, err)
		}
	}

	got, err := s.EventsBetween(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	// Ordered by start time.
	if got[0].Title != "straddles-start" || got[1].Title != "inside" {
		t.Errorf("order or selection wrong: %s, %s", got[0].Title, got[1].Title)
	}
	if len(got[1].Attendees) != 1 {
		t.Errorf("attendees lost: %v", got[1].Attendees)
	}
}
