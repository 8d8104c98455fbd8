package calendar

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// defaultTitle is the placeholder for events without a summary.
const defaultTitle = "(No title)"

// event is a single parsed VEVENT before recurrence expansion.
type event struct {
	uid         string
	title       string
	location    string
	description string

	start  time.Time
	end    time.Time
	allDay bool

	rrule        string
	exDates      []time.Time
	recurrenceID *time.Time // set on override instances
}

// isOverride reports whether the event overrides one instance of a
// recurring series (RECURRENCE-ID present).
func (e event) isOverride() bool { return e.recurrenceID != nil }

// Parser turns raw iCalendar payloads into events. Floating times without a
// timezone are resolved in loc.
type Parser struct {
	loc *time.Location
}

// NewParser creates a parser resolving floating times in the given location.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{loc: loc}
}

// Parse parses one payload into events. A whole-payload parse failure is a
// feed-level failure; a malformed individual VEVENT is logged and skipped so
// one bad entry cannot take down the rest of the feed.
func (p *Parser) Parse(src Source, body []byte) ([]event, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty calendar payload")
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]event, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, perr := p.parseVEvent(ve)
		if perr != nil {
			log.Printf("[WARN] skipping malformed event in feed %d: %v", src.Index, perr)
			continue
		}
		events = append(events, ev)
	}

	log.Printf("[DEBUG] parsed %d events from feed %d", len(events), src.Index)
	return events, nil
}

func (p *Parser) parseVEvent(ve *ics.VEvent) (event, error) {
	var ev event

	uid := ve.GetProperty(ics.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, fmt.Errorf("missing UID")
	}
	ev.uid = uid.Value

	if prop := ve.GetProperty(ics.ComponentPropertySummary); prop != nil {
		ev.title = prop.Value
	}
	if ev.title == "" {
		ev.title = defaultTitle
	}
	if prop := ve.GetProperty(ics.ComponentPropertyLocation); prop != nil {
		ev.location = prop.Value
	}
	if prop := ve.GetProperty(ics.ComponentPropertyDescription); prop != nil {
		ev.description = prop.Value
	}

	ev.allDay = isAllDay(ve.GetProperty(ics.ComponentPropertyDtStart))

	var err error
	if ev.allDay {
		ev.start, err = ve.GetAllDayStartAt()
	} else {
		ev.start, err = ve.GetStartAt()
	}
	if err != nil {
		return ev, fmt.Errorf("event %s: invalid DTSTART: %w", ev.uid, err)
	}

	if ev.allDay {
		ev.end, err = ve.GetAllDayEndAt()
	} else {
		ev.end, err = ve.GetEndAt()
	}
	if err != nil || ev.end.Before(ev.start) {
		// DTEND is optional; default to the iCalendar implied duration
		if ev.allDay {
			ev.end = ev.start.AddDate(0, 0, 1)
		} else {
			ev.end = ev.start
		}
	}

	if prop := ve.GetProperty(ics.ComponentPropertyRrule); prop != nil {
		ev.rrule = prop.Value
	}

	for _, prop := range ve.GetProperties(ics.ComponentPropertyExdate) {
		for _, part := range strings.Split(prop.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, perr := p.parseICalTime(part)
			if perr != nil {
				log.Printf("[WARN] event %s: bad EXDATE %q: %v", ev.uid, part, perr)
				continue
			}
			ev.exDates = append(ev.exDates, t)
		}
	}

	// raw property name: the library has no constant for RECURRENCE-ID
	if prop := ve.GetProperty("RECURRENCE-ID"); prop != nil {
		t, perr := p.parseICalTime(prop.Value)
		if perr != nil {
			return ev, fmt.Errorf("event %s: bad RECURRENCE-ID %q: %w", ev.uid, prop.Value, perr)
		}
		ev.recurrenceID = &t
	}

	return ev, nil
}

// isAllDay detects date-only DTSTART values (VALUE=DATE or no time part).
func isAllDay(dtStart *ics.IANAProperty) bool {
	if dtStart == nil {
		return false
	}
	if vals, ok := dtStart.ICalParameters["VALUE"]; ok && len(vals) > 0 && strings.EqualFold(vals[0], "DATE") {
		return true
	}
	return !strings.Contains(dtStart.Value, "T")
}

// parseICalTime parses the basic iCalendar DATE/DATE-TIME forms used by
// EXDATE and RECURRENCE-ID values.
func (p *Parser) parseICalTime(v string) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, p.loc)
	default:
		return time.ParseInLocation("20060102", v, p.loc)
	}
}
