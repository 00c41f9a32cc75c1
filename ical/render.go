package ical

import (
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

// DefaultProductID identifies this program in the PRODID property unless the
// feed overrides it.
const DefaultProductID = "-//ptgott//one-calendar//EN"

// Info describes the feed as a whole.
type Info struct {
	Name        string
	URL         string
	Description string
	// IANA zone name advertised to clients, e.g. "Europe/Berlin". Event
	// times are always written in UTC.
	Timezone  string
	ProductID string
	// How often clients should poll the feed. Zero leaves it to the client.
	RefreshInterval time.Duration
}

// Event is a single VEVENT. Only UID and Start are required.
type Event struct {
	UID   string
	Start time.Time
	End   *time.Time
	// Defaults to the render time when nil.
	Stamp       *time.Time
	Summary     string
	Description string
	Location    string
	URL         string
	Organizer   string
	Status      string
	Categories  []string
	AllDay      bool
	RRule       string
}

// Render returns the feed document for events. Lines end in CRLF.
func Render(info Info, events []Event, now time.Time) (string, error) {
	var b strings.Builder
	if err := Write(&b, info, events, now); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Write renders the feed document for events to w.
func Write(w io.Writer, info Info, events []Event, now time.Time) error {
	cal := newCalendar(info)
	for _, e := range events {
		addEvent(cal, e, now)
	}
	// golang-ical defaults to the platform's line ending; RFC 5545 wants
	// CRLF everywhere.
	if err := cal.SerializeTo(w, ics.WithNewLineWindows); err != nil {
		return fmt.Errorf("can't serialize the calendar: %v", err)
	}
	return nil
}

func newCalendar(info Info) *ics.Calendar {
	cal := ics.NewCalendar()
	pid := info.ProductID
	if pid == "" {
		pid = DefaultProductID
	}
	cal.SetProductId(pid)
	if info.URL != "" {
		cal.SetUrl(info.URL)
	}
	if info.Name != "" {
		// Sets both NAME and X-WR-CALNAME
		cal.SetName(info.Name)
	}
	if info.Description != "" {
		cal.SetDescription(info.Description)
		cal.SetXWRCalDesc(info.Description)
	}
	if info.Timezone != "" {
		cal.SetXWRTimezone(info.Timezone)
	}
	if info.RefreshInterval > 0 {
		d := FormatDuration(info.RefreshInterval)
		cal.SetRefreshInterval(d)
		cal.SetXPublishedTTL(d)
	}
	return cal
}

func addEvent(cal *ics.Calendar, e Event, now time.Time) {
	ev := cal.AddEvent(e.UID)
	ev.SetSequence(0)

	stamp := now
	if e.Stamp != nil {
		stamp = *e.Stamp
	}
	ev.SetDtStampTime(stamp)

	if e.AllDay {
		ev.SetAllDayStartAt(e.Start)
		if e.End != nil {
			ev.SetAllDayEndAt(*e.End)
		}
	} else {
		ev.SetStartAt(e.Start)
		if e.End != nil {
			ev.SetEndAt(*e.End)
		}
	}

	if e.Summary != "" {
		ev.SetSummary(e.Summary)
	}
	if e.Location != "" {
		ev.SetLocation(e.Location)
	}
	if e.Description != "" {
		ev.SetDescription(e.Description)
	}
	if e.URL != "" {
		ev.SetURL(e.URL)
	}
	if e.Organizer != "" {
		ev.SetOrganizer(e.Organizer)
	}
	if e.Status != "" {
		ev.SetStatus(ics.ObjectStatus(strings.ToUpper(e.Status)))
	}
	for _, c := range e.Categories {
		ev.AddCategory(c)
	}
	if e.RRule != "" {
		ev.AddRrule(e.RRule)
	}
}

// FormatDuration writes d as an RFC 5545 duration, e.g. "PT1H30M". Sub-second
// precision is dropped.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	h, m, s := secs/3600, (secs%3600)/60, secs%60

	var b strings.Builder
	b.WriteString("P")
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if h == 0 && m == 0 && s == 0 {
		if days == 0 {
			b.WriteString("T0S")
		}
		return b.String()
	}
	b.WriteString("T")
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}
