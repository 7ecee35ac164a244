package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/eventecho/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// FormatTime renders a 24-hour HH:MM string in 12-hour form: "19:00" is
// "7pm" and "07:30" is "7:30am". Unparseable input is returned unchanged.
func FormatTime(hhmm string) string {
	t, err := time.Parse(timeLayout, hhmm)
	if err != nil {
		return hhmm
	}
	if t.Minute() == 0 {
		return t.Format("3pm")
	}
	return t.Format("3:04pm")
}

// FormatDateHeader renders "2025-07-19" as "Saturday, 19 July".
func FormatDateHeader(date string) string {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("Monday, 2 January")
}

// FormatEvents renders events grouped under one header per date. The
// events must already be in date order.
func FormatEvents(title string, events []model.Event) string {
	if len(events) == 0 {
		return "No upcoming events."
	}

	var b strings.Builder
	b.WriteString(title)

	current := ""
	for _, e := range events {
		if e.Date != current {
			current = e.Date
			fmt.Fprintf(&b, "\n\n📅 %s", FormatDateHeader(e.Date))
		}
		if e.HasTime() {
			fmt.Fprintf(&b, "\n• %s: %s", FormatTime(*e.Time), e.Description)
		} else {
			fmt.Fprintf(&b, "\n• All day: %s", e.Description)
		}
	}
	return b.String()
}

func plural(n int64, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
