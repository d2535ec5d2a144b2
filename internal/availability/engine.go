// Package availability generates and scores candidate meeting slots against
// the local calendar and the agent's current context.
package availability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cosched/cosched/internal/calendar"
	"github.com/cosched/cosched/internal/model"
	"github.com/cosched/cosched/internal/observability"
)

// slotGranularity is the spacing between enumerated start times.
const slotGranularity = 30 * time.Minute

// Business-hour bounds and day-part windows, in the agent's local time.
const (
	businessStartHour = 9
	businessEndHour   = 19

	morningStart   = 9
	morningEnd     = 12
	afternoonStart = 13
	afternoonEnd   = 17
	eveningStart   = 17
	eveningEnd     = 19
)

// Weights combine the four sub-scores. They sum to 1.
type Weights struct {
	Workload          float64
	Energy            float64
	TimeOfDay         float64
	ConflictAvoidance float64
}

// DefaultWeights is the fixed weighting used in production.
var DefaultWeights = Weights{
	Workload:          0.25,
	Energy:            0.25,
	TimeOfDay:         0.30,
	ConflictAvoidance: 0.20,
}

// TimeWindow bounds a candidate search.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// NextWeek returns the default search window: the seven days after now.
func NextWeek(now time.Time) TimeWindow {
	return TimeWindow{From: now, To: now.AddDate(0, 0, 7)}
}

// Engine finds and scores candidate slots.
type Engine struct {
	calendar calendar.Service
	prefs    model.SchedulingPreferences
	weights  Weights
	log      *slog.Logger
}

// NewEngine builds an engine over the given calendar.
func NewEngine(cal calendar.Service, prefs model.SchedulingPreferences) *Engine {
	return &Engine{
		calendar: cal,
		prefs:    prefs,
		weights:  DefaultWeights,
		log:      observability.Logger(),
	}
}

// FindCandidateSlots enumerates conflict-free slots for the meeting within
// the window, scores each against the current context, and returns them
// sorted by score descending. A calendar failure degrades to "no existing
// events" rather than aborting the search.
func (e *Engine) FindCandidateSlots(
	ctx context.Context,
	meeting model.MeetingContext,
	window TimeWindow,
	dayParts []string,
	factors model.ContextualFactors,
) []model.TimeSlot {
	duration := time.Duration(meeting.DurationMinutes) * time.Minute
	if duration <= 0 {
		return nil
	}
	if len(dayParts) == 0 {
		dayParts = e.prefs.PreferredTimes
	}

	events, err := e.calendar.ListEvents(ctx, window.From, window.To)
	if err != nil {
		e.log.Warn("calendar listing failed, assuming no conflicts", "error", err)
		events = nil
	}

	var slots []model.TimeSlot
	for day := startOfDay(window.From); day.Before(window.To); day = day.AddDate(0, 0, 1) {
		// Weekday-only by default.
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		dayStart := time.Date(day.Year(), day.Month(), day.Day(), businessStartHour, 0, 0, 0, day.Location())
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), businessEndHour, 0, 0, 0, day.Location())

		for start := dayStart; !start.Add(duration).After(dayEnd); start = start.Add(slotGranularity) {
			if start.Before(window.From) || start.Add(duration).After(window.To) {
				continue
			}
			if !matchesDayPart(start.Hour(), dayParts) {
				continue
			}
			end := start.Add(duration)
			if conflicts := conflictingTitles(start, end, events); len(conflicts) > 0 {
				continue
			}

			slot := model.TimeSlot{Start: start, End: end}
			e.scoreInPlace(&slot, meeting, factors)
			slots = append(slots, slot)
		}
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].ConfidenceScore > slots[j].ConfidenceScore
	})
	return slots
}

// Score computes the composite confidence for one slot, leaving the slot
// untouched. Used when evaluating a counterpart's proposed times.
func (e *Engine) Score(slot model.TimeSlot, meeting model.MeetingContext, factors model.ContextualFactors) float64 {
	scored := slot
	e.scoreInPlace(&scored, meeting, factors)
	return scored.ConfidenceScore
}

// Rescore returns copies of the given slots scored against this agent's
// context, sorted descending.
func (e *Engine) Rescore(slots []model.TimeSlot, meeting model.MeetingContext, factors model.ContextualFactors) []model.TimeSlot {
	out := make([]model.TimeSlot, len(slots))
	for i, s := range slots {
		scored := s
		e.scoreInPlace(&scored, meeting, factors)
		out[i] = scored
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ConfidenceScore > out[j].ConfidenceScore
	})
	return out
}

// scoreInPlace fills the slot's confidence and sub-score map.
func (e *Engine) scoreInPlace(slot *model.TimeSlot, meeting model.MeetingContext, factors model.ContextualFactors) {
	sub := map[string]float64{
		"workload_impact":    scoreWorkload(meeting, factors),
		"energy_alignment":   scoreEnergy(slot.Start.Hour(), meeting, factors),
		"time_preference":    scoreTimeOfDay(slot.Start.Hour()),
		"conflict_avoidance": scoreConflicts(*slot),
	}

	composite := sub["workload_impact"]*e.weights.Workload +
		sub["energy_alignment"]*e.weights.Energy +
		sub["time_preference"]*e.weights.TimeOfDay +
		sub["conflict_avoidance"]*e.weights.ConflictAvoidance

	slot.ConfidenceScore = clamp01(composite)
	slot.ContextScore = sub
}

// scoreWorkload favors light schedules, with a bonus for short meetings
// when the schedule is heavy.
func scoreWorkload(meeting model.MeetingContext, factors model.ContextualFactors) float64 {
	var base float64
	switch factors.Workload {
	case model.WorkloadLight:
		base = 0.9
	case model.WorkloadHeavy:
		base = 0.5
		if meeting.DurationMinutes <= 30 {
			base += 0.2
		}
	case model.WorkloadCritical:
		base = 0.3
		if meeting.DurationMinutes <= 30 {
			base += 0.2
		}
	default:
		base = 0.7
	}
	return clamp01(base)
}

// scoreEnergy matches the meeting's energy requirement against time of day
// and the agent's current energy level.
func scoreEnergy(hour int, meeting model.MeetingContext, factors model.ContextualFactors) float64 {
	base := 0.7
	if meeting.EnergyRequirement == model.EnergyRequirementHigh {
		switch {
		case hour >= 9 && hour <= 11:
			base = 0.9
		case hour >= 14 && hour <= 16:
			base = 0.8
		}
		switch factors.Energy {
		case model.EnergyHigh:
			base += 0.1
		case model.EnergyLow:
			base -= 0.3
		}
	}
	return clamp01(base)
}

// scoreTimeOfDay holds the general preference for mid-morning and
// mid-afternoon starts.
func scoreTimeOfDay(hour int) float64 {
	switch {
	case hour == 10 || hour == 11 || hour == 14 || hour == 15:
		return 0.9
	case (hour >= 9 && hour <= 12) || (hour >= 13 && hour <= 17):
		return 0.8
	default:
		return 0.5
	}
}

// scoreConflicts is 1.0 for a clean slot, 0.5 when anything collides.
func scoreConflicts(slot model.TimeSlot) float64 {
	if slot.HasConflicts() {
		return 0.5
	}
	return 1.0
}

// conflictingTitles returns the titles of events overlapping [start, end).
func conflictingTitles(start, end time.Time, events []calendar.Event) []string {
	var titles []string
	for _, ev := range events {
		if start.Before(ev.End) && end.After(ev.Start) {
			title := ev.Title
			if title == "" {
				title = "Existing event"
			}
			titles = append(titles, title)
		}
	}
	return titles
}

// matchesDayPart reports whether an hour falls inside any requested day
// part. Unknown labels are ignored.
func matchesDayPart(hour int, dayParts []string) bool {
	for _, part := range dayParts {
		switch part {
		case "morning":
			if hour >= morningStart && hour < morningEnd {
				return true
			}
		case "afternoon":
			if hour >= afternoonStart && hour < afternoonEnd {
				return true
			}
		case "evening":
			if hour >= eveningStart && hour < eveningEnd {
				return true
			}
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
