package model

// Event is one scheduled item belonging to one owner. Date is an ISO
// calendar date (YYYY-MM-DD); Time is a 24-hour HH:MM string or nil when
// the event has no specific time.
type Event struct {
	ID          int64   `json:"id"`
	OwnerKey    string  `json:"-"`
	Description string  `json:"event"`
	Date        string  `json:"date"`
	Time        *string `json:"time"`
}

// HasTime reports whether the event is scheduled at a specific time of day.
func (e Event) HasTime() bool {
	return e.Time != nil && *e.Time != ""
}
