// Package mail provides the mail-service contract the coordination engine
// depends on, plus an IMAP/SMTP implementation of it.
package mail

import (
	"context"
	"time"
)

// ThreadingHeaders carries the standard email threading headers for an
// outbound message. Empty fields are omitted from the wire.
type ThreadingHeaders struct {
	MessageID  string // Message-ID header, angle brackets included
	InReplyTo  string // In-Reply-To header
	References string // References header, space-separated chain
}

// SendResult reports the identifiers assigned to a delivered message.
type SendResult struct {
	// TransportMessageID is the Message-ID the message was delivered under.
	TransportMessageID string

	// ThreadHandle is an opaque handle grouping the message's thread in the
	// inbox view.
	ThreadHandle string
}

// RawMessage is one inbound message as observed at the transport.
type RawMessage struct {
	TransportID  string // Message-ID header when present, else a UID form
	ThreadHandle string
	Subject      string
	From         string // externally observed sender address, authoritative
	To           []string
	Date         time.Time
	Body         string // decoded text/plain body
	UID          uint32
}

// Query filters an inbound listing. Matching is time-based rather than
// read/unread-based so a human opening a message does not hide it from the
// protocol.
type Query struct {
	SubjectContains string
	Since           time.Time
}

// Service is the contract the transport reliability layer needs from a mail
// provider.
type Service interface {
	// Send delivers a plain-text message. headers may be nil for a
	// thread-opening message; threadHandle, when known, asks the provider to
	// append to an existing thread.
	Send(ctx context.Context, to, subject, body string, headers *ThreadingHeaders, threadHandle string) (SendResult, error)

	// List returns up to limit messages matching q, oldest first.
	List(ctx context.Context, q Query, limit int) ([]RawMessage, error)

	// MarkRead flags the message as seen in the inbox view.
	MarkRead(ctx context.Context, msg RawMessage) error

	// ArchiveThread removes the thread from the active inbox view. A failure
	// here never fails a negotiation.
	ArchiveThread(ctx context.Context, threadHandle string) error
}
