package wire

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cosched/cosched/internal/model"
)

// The fallback parser recovers an envelope from the human-readable section
// alone. It tolerates a human copy-pasting or partially editing a reply, so
// it is deliberately loose: whatever fields it cannot find get defaults.

var (
	headerPattern   = regexp.MustCompile(`(?m)^Agent Coordination:\s*(.+)$`)
	fromPattern     = regexp.MustCompile(`(?m)^From:\s*(.*?)\s*\(([^)]+)\)\s*$`)
	convPattern     = regexp.MustCompile(`(?m)^Conversation:\s*(\S+)\s*$`)
	refPattern      = regexp.MustCompile(`(?m)^Ref:\s*(\S+)\s*$`)
	meetingPattern  = regexp.MustCompile(`(?m)^Meeting:\s*(.+)$`)
	durationPattern = regexp.MustCompile(`(?m)^Duration:\s*(\d+)\s*minutes`)
	dayPartPattern  = regexp.MustCompile(`(?m)^Day parts:\s*(.+)$`)
	reasonPattern   = regexp.MustCompile(`(?m)^Reason:\s*(.+)$`)
	completePattern = regexp.MustCompile(`(?m)^Coordination complete:\s*(true|false)`)
	slotPattern     = regexp.MustCompile(
		`\*\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2} [+-]\d{4})\s*\.\.\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2} [+-]\d{4})(?:\s*\(confidence ([0-9.]+)\))?`)
)

// titleToType maps the human header back to the wire tag.
var titleToType = func() map[string]model.MessageType {
	m := make(map[string]model.MessageType, len(model.AllMessageTypes))
	for _, t := range model.AllMessageTypes {
		m[t.Title()] = t
	}
	return m
}()

// decodeFallback extracts what it can from the human summary.
func decodeFallback(body string) (*model.CoordinationMessage, error) {
	header := headerPattern.FindStringSubmatch(body)
	if header == nil {
		return nil, fmt.Errorf("no coordination header line")
	}
	msgType, ok := titleToType[strings.TrimSpace(header[1])]
	if !ok {
		return nil, fmt.Errorf("unrecognized message type title %q", header[1])
	}

	conv := convPattern.FindStringSubmatch(body)
	if conv == nil {
		return nil, fmt.Errorf("no conversation id line")
	}

	msg := &model.CoordinationMessage{
		Type:           msgType,
		ConversationID: conv[1],
		Timestamp:      time.Now(),
	}
	if ref := refPattern.FindStringSubmatch(body); ref != nil {
		msg.MessageID = ref[1]
	}
	if from := fromPattern.FindStringSubmatch(body); from != nil {
		msg.From.DisplayName = strings.TrimSpace(from[1])
		msg.From.AgentID = strings.TrimSpace(from[2])
	}
	if msg.From.AgentID == "" {
		msg.From.AgentID = "unknown-agent"
	}

	slots := parseSlotBullets(body)

	switch msgType {
	case model.TypeScheduleRequest:
		p := model.RequestPayload{
			Meeting: model.MeetingContext{
				MeetingKind:       "1:1",
				DurationMinutes:   30,
				Subject:           "Coordinated meeting",
				EnergyRequirement: model.EnergyRequirementMedium,
			},
			DayParts: []string{"morning", "afternoon"},
		}
		if m := meetingPattern.FindStringSubmatch(body); m != nil {
			p.Meeting.Subject = strings.TrimSpace(m[1])
		}
		if d := durationPattern.FindStringSubmatch(body); d != nil {
			if mins, err := strconv.Atoi(d[1]); err == nil && mins > 0 {
				p.Meeting.DurationMinutes = mins
			}
		}
		if dp := dayPartPattern.FindStringSubmatch(body); dp != nil {
			parts := strings.Split(dp[1], ",")
			p.DayParts = p.DayParts[:0]
			for _, part := range parts {
				p.DayParts = append(p.DayParts, strings.TrimSpace(part))
			}
		}
		msg.Payload = p
		msg.RequiresResponse = true

	case model.TypeScheduleProposal:
		if len(slots) == 0 {
			return nil, fmt.Errorf("proposal without recoverable time bullets")
		}
		msg.Payload = model.ProposalPayload{Slots: slots}
		msg.RequiresResponse = true

	case model.TypeScheduleCounterProposal:
		if len(slots) == 0 {
			return nil, fmt.Errorf("counter-proposal without recoverable time bullets")
		}
		msg.Payload = model.CounterProposalPayload{Slots: slots}
		msg.RequiresResponse = true

	case model.TypeScheduleConfirmation:
		if len(slots) == 0 {
			return nil, fmt.Errorf("confirmation without a recoverable selected time")
		}
		msg.Payload = model.ConfirmationPayload{
			SelectedTime:    slots[0],
			ConfidenceScore: slots[0].ConfidenceScore,
			Alternatives:    slots[1:],
		}

	case model.TypeScheduleRejection:
		p := model.RejectionPayload{}
		if r := reasonPattern.FindStringSubmatch(body); r != nil {
			p.Reason = strings.TrimSpace(r[1])
		}
		msg.Payload = p

	case model.TypeCoordinationAck:
		p := model.AckPayload{}
		if c := completePattern.FindStringSubmatch(body); c != nil {
			p.CoordinationComplete = c[1] == "true"
		}
		msg.Payload = p
	}

	return msg, nil
}

// parseSlotBullets extracts every time bullet in order of appearance.
func parseSlotBullets(body string) []model.TimeSlot {
	matches := slotPattern.FindAllStringSubmatch(body, -1)
	slots := make([]model.TimeSlot, 0, len(matches))
	for _, m := range matches {
		start, err1 := time.Parse(slotTimeLayout, m[1])
		end, err2 := time.Parse(slotTimeLayout, m[2])
		if err1 != nil || err2 != nil || !start.Before(end) {
			continue
		}
		slot := model.TimeSlot{Start: start, End: end}
		if m[3] != "" {
			if score, err := strconv.ParseFloat(m[3], 64); err == nil {
				slot.ConfidenceScore = score
			}
		}
		slots = append(slots, slot)
	}
	return slots
}
