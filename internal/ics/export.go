// Package ics renders a user's events as an iCalendar feed.
package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/dukerupert/eventecho/internal/model"
)

const (
	productID     = "-//eventecho//eventecho//EN"
	timedDuration = time.Hour
)

// UID returns the stable iCalendar UID of an event.
func UID(id int64) string {
	return fmt.Sprintf("event-%d@eventecho", id)
}

// Export builds a VCALENDAR holding one VEVENT per event. Timed events last
// an hour; events without a time become all-day events. Stored date and
// time strings are naive, so they are read in loc. Events whose date or
// time cannot be parsed are skipped and reported in the returned count.
func Export(owner string, events []model.Event, loc *time.Location, stamp time.Time) (string, int) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName("eventecho " + owner)

	skipped := 0
	for _, e := range events {
		if !addEvent(cal, e, loc, stamp) {
			skipped++
		}
	}
	return cal.Serialize(), skipped
}

func addEvent(cal *ical.Calendar, e model.Event, loc *time.Location, stamp time.Time) bool {
	day, err := time.ParseInLocation("2006-01-02", e.Date, loc)
	if err != nil {
		return false
	}

	var start time.Time
	if e.HasTime() {
		clock, err := time.Parse("15:04", *e.Time)
		if err != nil {
			return false
		}
		start = time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	}

	ve := cal.AddEvent(UID(e.ID))
	ve.SetDtStampTime(stamp)
	ve.SetSummary(e.Description)
	if e.HasTime() {
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(timedDuration))
	} else {
		ve.SetAllDayStartAt(day)
		ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
	}
	return true
}
