package transport

import (
	"strings"

	"github.com/cosched/cosched/internal/mail"
)

// maxThreadIDs bounds how many transport identifiers a conversation retains,
// which also caps the References header length.
const maxThreadIDs = 10

// ThreadState tracks the transport-level view of one conversation: enough
// context to produce a correctly threaded reply. States are created on first
// send or first receipt and updated on every message after that.
type ThreadState struct {
	ConversationID string

	// TransportIDs are the message identifiers seen so far, oldest first,
	// bounded to the last maxThreadIDs.
	TransportIDs []string

	// LastTransportID is the reply-to target for the next outbound message.
	LastTransportID string

	// Subject is the stable subject line reused across the whole thread.
	Subject string

	// Participants are the addresses observed on the thread.
	Participants []string

	// ThreadHandle is the mail service's opaque handle, once known.
	ThreadHandle string
}

// Headers builds the threading headers for the next outbound message on
// this thread. The first message of a conversation gets no reply references.
func (t *ThreadState) Headers(messageID string) *mail.ThreadingHeaders {
	h := &mail.ThreadingHeaders{MessageID: messageID}
	if t.LastTransportID != "" {
		h.InReplyTo = t.LastTransportID
		h.References = strings.Join(t.TransportIDs, " ")
	}
	return h
}

// record appends a transport id and participant to the state.
func (t *ThreadState) record(transportID, participant string) {
	if transportID != "" && transportID != t.LastTransportID {
		t.TransportIDs = append(t.TransportIDs, transportID)
		if len(t.TransportIDs) > maxThreadIDs {
			t.TransportIDs = t.TransportIDs[len(t.TransportIDs)-maxThreadIDs:]
		}
		t.LastTransportID = transportID
	}
	if participant != "" {
		for _, p := range t.Participants {
			if strings.EqualFold(p, participant) {
				return
			}
		}
		t.Participants = append(t.Participants, participant)
	}
}

// threadTracker holds the per-conversation thread states. The polling loop
// is single-threaded, so no locking is needed here; a multi-process
// deployment would move this to a store with atomic check-and-set.
type threadTracker struct {
	threads map[string]*ThreadState
}

func newThreadTracker() *threadTracker {
	return &threadTracker{threads: make(map[string]*ThreadState)}
}

// get returns the state for a conversation, creating it on first touch.
func (tr *threadTracker) get(conversationID string) *ThreadState {
	ts, ok := tr.threads[conversationID]
	if !ok {
		ts = &ThreadState{ConversationID: conversationID}
		tr.threads[conversationID] = ts
	}
	return ts
}

// lookup returns the state without creating it.
func (tr *threadTracker) lookup(conversationID string) (*ThreadState, bool) {
	ts, ok := tr.threads[conversationID]
	return ts, ok
}
