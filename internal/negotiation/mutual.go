package negotiation

import (
	"sort"
	"time"

	"github.com/cosched/cosched/internal/model"
)

// overlapTolerance absorbs small clock and rounding skew between two
// agents' slot grids: an overlap may fall short of the full meeting
// duration by up to this much and still count as mutual.
const overlapTolerance = 15 * time.Minute

// FindMutualSlots intersects a counterpart's proposed slots with our own
// availability. For each proposed slot, any own slot whose overlap covers at
// least duration minus the tolerance is a match; the emitted slot keeps the
// proposer's original times (so the confirmation echoes what they offered)
// with our score and conflict metadata attached. Overlap comparison happens
// on the UTC instant line, so differing zone representations cannot produce
// phantom matches or misses. Results are deduplicated by instant range and
// sorted by score descending.
func FindMutualSlots(proposed, own []model.TimeSlot, duration time.Duration) []model.TimeSlot {
	required := duration - overlapTolerance
	if required < 0 {
		required = 0
	}

	type rangeKey struct {
		start int64
		end   int64
	}
	seen := make(map[rangeKey]bool)

	var mutual []model.TimeSlot
	for _, p := range proposed {
		for _, q := range own {
			if p.Overlap(q) < required {
				continue
			}
			key := rangeKey{start: p.Start.UTC().Unix(), end: p.End.UTC().Unix()}
			if seen[key] {
				break
			}
			seen[key] = true

			slot := model.TimeSlot{
				Start:           p.Start,
				End:             p.End,
				ConfidenceScore: q.ConfidenceScore,
				Conflicts:       q.Conflicts,
				ContextScore:    q.ContextScore,
			}
			mutual = append(mutual, slot)
			break
		}
	}

	sort.SliceStable(mutual, func(i, j int) bool {
		return mutual[i].ConfidenceScore > mutual[j].ConfidenceScore
	})
	return mutual
}
