package calendar

import (
	"log"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/umputun/hallboard/pkg/domain"
)

// maxExpansions caps how many occurrences a single recurring event may
// produce within one window. It guarantees termination against pathological
// or unbounded rules.
const maxExpansions = 2000

// Expander turns parsed events into concrete occurrences within a closed
// time window. All resulting occurrences are converted to the display
// location.
type Expander struct {
	loc *time.Location
}

// NewExpander creates an expander producing occurrences in loc.
func NewExpander(loc *time.Location) *Expander {
	if loc == nil {
		loc = time.Local
	}
	return &Expander{loc: loc}
}

// Expand produces all occurrences of the given events intersecting
// [from, to]. Recurring events are expanded through their RRULE with EXDATE
// exceptions and RECURRENCE-ID overrides applied; a failure to expand one
// event is logged and skipped without aborting the rest.
func (e *Expander) Expand(events []event, from, to time.Time, sourceIndex int) []domain.Occurrence {
	// overrides replace individual instances of their base series
	overrides := make(map[string][]event)
	for _, ev := range events {
		if ev.isOverride() {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
		}
	}

	out := make([]domain.Occurrence, 0, len(events))
	for _, ev := range events {
		if ev.isOverride() {
			continue
		}
		if ev.rrule == "" {
			out = append(out, e.expandSingle(ev, overrides[ev.uid], from, to, sourceIndex)...)
			continue
		}
		out = append(out, e.expandRecurring(ev, overrides[ev.uid], from, to, sourceIndex)...)
	}
	return out
}

// expandSingle handles a non-recurring event: at most one occurrence, present
// only when the event intersects the window.
func (e *Expander) expandSingle(ev event, overrides []event, from, to time.Time, sourceIndex int) []domain.Occurrence {
	start, end := ev.start, ev.end
	if o, ok := overrideFor(overrides, start); ok {
		ev, start, end = o, o.start, o.end
	}
	if end.Before(from) || start.After(to) {
		return nil
	}
	return []domain.Occurrence{e.occurrence(ev, start, end, sourceIndex)}
}

// expandRecurring expands an RRULE series within the window.
func (e *Expander) expandRecurring(ev event, overrides []event, from, to time.Time, sourceIndex int) []domain.Occurrence {
	rule, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		log.Printf("[WARN] event %s: unparsable RRULE %q: %v", ev.uid, ev.rrule, err)
		return nil
	}
	rule.DTStart(ev.start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.exDates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	// Between operates in the event's own location; results are converted to
	// the display location per occurrence.
	starts := set.Between(from.In(ev.start.Location()), to.In(ev.start.Location()), true)
	if len(starts) > maxExpansions {
		log.Printf("[WARN] event %s: occurrence cap reached, truncating %d to %d", ev.uid, len(starts), maxExpansions)
		starts = starts[:maxExpansions]
	}

	duration := ev.end.Sub(ev.start)
	out := make([]domain.Occurrence, 0, len(starts))
	for _, start := range starts {
		end := start.Add(duration)
		if ev.allDay {
			day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			start, end = day, day.AddDate(0, 0, 1)
		}

		inst := ev
		if o, ok := overrideFor(overrides, start); ok {
			inst, start, end = o, o.start, o.end
			// an override may move the instance out of the window entirely
			if end.Before(from) || start.After(to) {
				continue
			}
		}
		out = append(out, e.occurrence(inst, start, end, sourceIndex))
	}
	return out
}

// overrideFor finds the override whose RECURRENCE-ID matches the instance
// start, if any.
func overrideFor(overrides []event, start time.Time) (event, bool) {
	for _, o := range overrides {
		if o.recurrenceID != nil && o.recurrenceID.Equal(start) {
			return o, true
		}
	}
	return event{}, false
}

func (e *Expander) occurrence(ev event, start, end time.Time, sourceIndex int) domain.Occurrence {
	return domain.Occurrence{
		Start:       start.In(e.loc),
		End:         end.In(e.loc),
		Title:       ev.title,
		Location:    ev.location,
		Description: ev.description,
		SourceIndex: sourceIndex,
		AllDay:      ev.allDay,
	}
}
