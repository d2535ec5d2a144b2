package negotiation

import (
	"time"

	"github.com/cosched/cosched/internal/model"
)

// maxActiveConversations bounds in-memory history. Terminal conversations
// are archived and dropped; if the map still overflows, the least recently
// active conversation is evicted.
const maxActiveConversations = 128

// conversation is the in-memory history of one negotiation. Protocol state
// is inferred from which message types appear here; there is no separate
// status field to fall out of sync.
type conversation struct {
	id           string
	messages     []model.CoordinationMessage
	lastActivity time.Time
}

func (c *conversation) append(msg model.CoordinationMessage) {
	c.messages = append(c.messages, msg)
	c.lastActivity = time.Now()
}

// request returns the original schedule request, if it is in local history.
func (c *conversation) request() (model.RequestPayload, bool) {
	for _, m := range c.messages {
		if p, ok := m.Payload.(model.RequestPayload); ok {
			return p, true
		}
	}
	return model.RequestPayload{}, false
}

// negotiationRounds counts proposal and counter-proposal turns so far.
func (c *conversation) negotiationRounds() int {
	n := 0
	for _, m := range c.messages {
		switch m.Type {
		case model.TypeScheduleProposal, model.TypeScheduleCounterProposal:
			n++
		}
	}
	return n
}

// offeredSlots collects every slot this side has already put on the table,
// so fresh counter-proposals never repeat an offer.
func (c *conversation) offeredSlots(selfAgentID string) []model.TimeSlot {
	var out []model.TimeSlot
	for _, m := range c.messages {
		if m.From.AgentID != selfAgentID {
			continue
		}
		switch p := m.Payload.(type) {
		case model.ProposalPayload:
			out = append(out, p.Slots...)
		case model.CounterProposalPayload:
			out = append(out, p.Slots...)
		}
	}
	return out
}

// terminalState reports the terminal outcome inferable from history:
// "confirmed", "rejected", or "" while the negotiation is still live.
func (c *conversation) terminalState() string {
	confirmed, rejected, acked := false, false, false
	for _, m := range c.messages {
		switch m.Type {
		case model.TypeScheduleConfirmation:
			confirmed = true
		case model.TypeScheduleRejection:
			rejected = true
		case model.TypeCoordinationAck:
			acked = true
		}
	}
	switch {
	case confirmed && acked:
		return "confirmed"
	case rejected && acked:
		return "rejected"
	}
	return ""
}

// participants lists every address seen on the conversation.
func (c *conversation) participants() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range c.messages {
		for _, addr := range []string{m.From.ContactAddress, m.ToAddress} {
			if addr != "" && !seen[addr] {
				seen[addr] = true
				out = append(out, addr)
			}
		}
	}
	return out
}

// conversationLog holds all live conversations keyed by conversation id.
type conversationLog struct {
	active map[string]*conversation
}

func newConversationLog() *conversationLog {
	return &conversationLog{active: make(map[string]*conversation)}
}

// get returns the conversation, creating it on first touch.
func (l *conversationLog) get(id string) *conversation {
	c, ok := l.active[id]
	if !ok {
		c = &conversation{id: id}
		l.active[id] = c
	}
	return c
}

// drop removes a conversation from memory.
func (l *conversationLog) drop(id string) {
	delete(l.active, id)
}

// count returns the number of live conversations.
func (l *conversationLog) count() int {
	return len(l.active)
}

// evictOldest returns and removes the least recently active conversation
// when the log is over capacity, else nil.
func (l *conversationLog) evictOldest() *conversation {
	if len(l.active) <= maxActiveConversations {
		return nil
	}
	var oldest *conversation
	for _, c := range l.active {
		if oldest == nil || c.lastActivity.Before(oldest.lastActivity) {
			oldest = c
		}
	}
	if oldest != nil {
		delete(l.active, oldest.id)
	}
	return oldest
}
