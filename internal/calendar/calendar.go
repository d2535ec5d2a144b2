// Package calendar defines the calendar-service contract the coordination
// engine consults, and a local sqlite-backed implementation of it.
package calendar

import (
	"context"
	"time"

	"github.com/cosched/cosched/internal/store"
)

// Event is one calendar entry as the engine needs to see it.
type Event struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Attendees   []string
}

// Service is the contract the availability engine and the negotiation state
// machine need from a calendar provider.
type Service interface {
	// ListEvents returns events overlapping [timeMin, timeMax).
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]Event, error)

	// CreateEvent materializes an event with its attendee list.
	CreateEvent(ctx context.Context, ev Event) error
}

// Local implements Service on the agent's local sqlite store, keeping the
// agent runnable end-to-end without an external calendar API.
type Local struct {
	store store.Store
}

// NewLocal builds a local calendar over s.
func NewLocal(s store.Store) *Local {
	return &Local{store: s}
}

// ListEvents returns events overlapping [timeMin, timeMax).
func (l *Local) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]Event, error) {
	records, err := l.store.EventsBetween(ctx, timeMin, timeMax)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(records))
	for _, r := range records {
		events = append(events, Event{
			Title:       r.Title,
			Start:       r.Start,
			End:         r.End,
			Description: r.Description,
			Attendees:   r.Attendees,
		})
	}
	return events, nil
}

// CreateEvent stores the event in the local calendar.
func (l *Local) CreateEvent(ctx context.Context, ev Event) error {
	return l.store.CreateEvent(ctx, store.EventRecord{
		Title:       ev.Title,
		Start:       ev.Start,
		End:         ev.End,
		Description: ev.Description,
		Attendees:   ev.Attendees,
	})
}
