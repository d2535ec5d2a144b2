package store

import (
	"context"
	"time"
)

// ConversationRecord is an archived negotiation: the ordered message history
// of one conversation that reached a terminal state.
type ConversationRecord struct {
	ID            string
	Subject       string
	Participants  []string
	TerminalState string
	ArchivedAt    time.Time
	Messages      []MessageRecord
}

// MessageRecord is one archived envelope, with its payload kept as the JSON
// it traveled as.
type MessageRecord struct {
	MessageID   string
	Type        string
	FromAgentID string
	FromAddress string
	ToAddress   string
	SentAt      time.Time
	PayloadJSON string
}

// EventRecord is one calendar event in the local calendar.
type EventRecord struct {
	ID          string
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Attendees   []string
}

// Store defines the persistence interface for archived conversations and
// local calendar events.
type Store interface {
	// ArchiveConversation writes a terminal conversation and its messages.
	// Re-archiving the same conversation id replaces the previous record.
	ArchiveConversation(ctx context.Context, rec ConversationRecord) error

	// GetConversation loads an archived conversation with its messages, or
	// nil when the id is unknown.
	GetConversation(ctx context.Context, id string) (*ConversationRecord, error)

	// CountConversations returns how many conversations have been archived.
	CountConversations(ctx context.Context) (int, error)

	// CreateEvent stores a calendar event.
	CreateEvent(ctx context.Context, ev EventRecord) error

	// EventsBetween lists events overlapping [timeMin, timeMax), ordered by
	// start time.
	EventsBetween(ctx context.Context, timeMin, timeMax time.Time) ([]EventRecord, error)

	Close() error
}
