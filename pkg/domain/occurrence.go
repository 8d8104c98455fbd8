package domain

import "time"

// Occurrence is one concrete, time-bounded event instance. It is either a
// single non-recurring event or one expanded instance of a recurrence rule;
// un-expanded recurrences never leave the calendar package.
type Occurrence struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	SourceIndex int       `json:"sourceIndex"`
	AllDay      bool      `json:"allDay,omitempty"`
	MultiDay    bool      `json:"multiDay,omitempty"` // set when the span crosses a day boundary
}

// DayBucket holds the occurrences whose span touches one calendar date,
// ordered by start time. Buckets exist independently of event presence.
type DayBucket struct {
	Date   Date         `json:"date"`
	Events []Occurrence `json:"events"`
}
