package feed

import (
	"fmt"
	"time"

	"github.com/ptgott/one-calendar/ical"
	"github.com/teambition/rrule-go"
)

// Event is a single calendar entry. Only ID and Start mean anything to the
// Store; the other fields pass through to the rendered feed untouched.
type Event struct {
	ID          string     `json:"id" yaml:"id"`
	Start       time.Time  `json:"start" yaml:"start"`
	End         *time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	Summary     string     `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Location    string     `json:"location,omitempty" yaml:"location,omitempty"`
	URL         string     `json:"url,omitempty" yaml:"url,omitempty"`
	Organizer   string     `json:"organizer,omitempty" yaml:"organizer,omitempty"`
	Status      string     `json:"status,omitempty" yaml:"status,omitempty"`
	Categories  []string   `json:"categories,omitempty" yaml:"categories,omitempty"`
	AllDay      bool       `json:"allDay,omitempty" yaml:"allDay,omitempty"`
	RRule       string     `json:"rrule,omitempty" yaml:"rrule,omitempty"`
	Stamp       *time.Time `json:"stamp,omitempty" yaml:"stamp,omitempty"`
}

// Validate checks the fields the Store relies on. The returned error wraps
// ErrInvalidEvent.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: the event has no ID", ErrInvalidEvent)
	}
	if e.Start.IsZero() {
		return fmt.Errorf("%w: event %q has no start time", ErrInvalidEvent, e.ID)
	}
	if e.End != nil && e.End.Before(e.Start) {
		return fmt.Errorf("%w: event %q ends before it starts", ErrInvalidEvent, e.ID)
	}
	if e.RRule != "" {
		if _, err := rrule.StrToRRule(e.RRule); err != nil {
			return fmt.Errorf("%w: event %q has an unusable recurrence rule: %v", ErrInvalidEvent, e.ID, err)
		}
	}
	return nil
}

// Clone returns a deep copy of e so that stored events never share memory
// with the caller.
func (e Event) Clone() Event {
	c := e
	if e.End != nil {
		t := *e.End
		c.End = &t
	}
	if e.Stamp != nil {
		t := *e.Stamp
		c.Stamp = &t
	}
	if e.Categories != nil {
		c.Categories = append([]string(nil), e.Categories...)
	}
	return c
}

func (e Event) toICal() ical.Event {
	return ical.Event{
		UID:         e.ID,
		Start:       e.Start,
		End:         e.End,
		Stamp:       e.Stamp,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		URL:         e.URL,
		Organizer:   e.Organizer,
		Status:      e.Status,
		Categories:  e.Categories,
		AllDay:      e.AllDay,
		RRule:       e.RRule,
	}
}
