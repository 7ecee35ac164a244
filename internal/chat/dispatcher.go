package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/eventecho/internal/middleware"
	"github.com/dukerupert/eventecho/internal/model"
)

// EventStore is the data access the dispatcher needs.
type EventStore interface {
	Create(ownerKey, description, date string, eventTime *string) (int64, error)
	ListUpcoming(ownerKey string) []model.Event
	DeleteAll(ownerKey string) (int64, error)
	Count(ownerKey string) (int64, error)
	Today() string
}

// Message is one inbound chat message.
type Message struct {
	UserID   int64
	Username string
	Text     string
}

// Owner returns the owner key for the message's sender.
func (m Message) Owner() string {
	return OwnerKey(m.Username, m.UserID)
}

const (
	greeting = "Hi! I'm your simple schedule bot. Add events with " +
		"/add 2025-07-21 19:00 Dinner with Ben, or use /calendar to see your schedule."

	usage = "Commands:\n" +
		"/add YYYY-MM-DD [HH:MM] description - add an event\n" +
		"/calendar - all upcoming events\n" +
		"/today - today's events\n" +
		"/week - the next seven days\n" +
		"/clear - delete all your events\n" +
		"/export - calendar feed link"
)

// Dispatcher turns chat messages into event store calls and reply text.
type Dispatcher struct {
	events    EventStore
	limiter   *middleware.RateLimiter
	rateLimit int
	baseURL   string
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. A nil limiter disables rate limiting.
func NewDispatcher(events EventStore, limiter *middleware.RateLimiter, rateLimit int, baseURL string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		events:    events,
		limiter:   limiter,
		rateLimit: rateLimit,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
	}
}

// Handle processes one message and returns the reply.
func (d *Dispatcher) Handle(msg Message) string {
	owner := msg.Owner()
	text := strings.TrimSpace(msg.Text)

	if d.limiter != nil && !d.limiter.Allow(owner, d.rateLimit, time.Minute) {
		d.logger.Warn("chat rate limited", "owner", owner)
		return "You're sending messages too fast. Please wait a moment."
	}

	if !strings.HasPrefix(text, "/") {
		return d.echo(text)
	}

	command, args := splitCommand(text)
	d.logger.Debug("chat command", "owner", owner, "command", command)

	switch command {
	case "/start":
		return greeting
	case "/help":
		return usage
	case "/add":
		return d.add(owner, args)
	case "/calendar":
		return FormatEvents("Your upcoming events:", d.events.ListUpcoming(owner))
	case "/today":
		return d.today(owner)
	case "/week":
		return d.week(owner)
	case "/clear":
		return d.clear(owner, args)
	case "/delete":
		return "Deleting single events isn't supported yet. Use /clear to remove all of your events."
	case "/export":
		return fmt.Sprintf("Subscribe to your calendar: %s/calendar.ics?owner=%s", d.baseURL, url.QueryEscape(owner))
	default:
		return "Unknown command. " + usage
	}
}

// splitCommand separates "/cmd@botname rest" into "/cmd" and "rest".
func splitCommand(text string) (string, string) {
	command, args, _ := strings.Cut(text, " ")
	if i := strings.IndexByte(command, '@'); i > 0 {
		command = command[:i]
	}
	return strings.ToLower(command), strings.TrimSpace(args)
}

func (d *Dispatcher) echo(text string) string {
	if text == "" {
		return usage
	}
	return fmt.Sprintf("Got your message: %s\nTo save it as an event use /add YYYY-MM-DD [HH:MM] description.", text)
}

func (d *Dispatcher) add(owner, args string) string {
	date, eventTime, description, err := ParseAddArgs(args)
	if err != nil {
		return err.Error() + "\nUsage: /add YYYY-MM-DD [HH:MM] description"
	}

	id, err := d.events.Create(owner, description, date, eventTime)
	if err != nil {
		d.logger.Error("create event", "owner", owner, "error", err)
		return "Sorry, I couldn't save that event. Please try again."
	}

	when := FormatDateHeader(date)
	if eventTime != nil {
		when += " at " + FormatTime(*eventTime)
	}
	return fmt.Sprintf("✅ Saved #%d: %s, %s", id, description, when)
}

// ParseAddArgs splits "YYYY-MM-DD [HH:MM] description" into its parts and
// validates the date and time.
func ParseAddArgs(args string) (date string, eventTime *string, description string, err error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return "", nil, "", errors.New("Please give a date and a description.")
	}

	date = fields[0]
	if _, perr := time.Parse(dateLayout, date); perr != nil {
		return "", nil, "", fmt.Errorf("%q is not a valid date.", date)
	}

	rest := fields[1:]
	if looksLikeTime(fields[1]) {
		if _, perr := time.Parse(timeLayout, fields[1]); perr != nil {
			return "", nil, "", fmt.Errorf("%q is not a valid time.", fields[1])
		}
		t := fields[1]
		eventTime = &t
		rest = fields[2:]
	}

	description = strings.Join(rest, " ")
	if description == "" {
		return "", nil, "", errors.New("Please give a description.")
	}
	return date, eventTime, description, nil
}

// looksLikeTime reports whether s has the shape NN:NN.
func looksLikeTime(s string) bool {
	if len(s) != len(timeLayout) || s[2] != ':' {
		return false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (d *Dispatcher) today(owner string) string {
	today := d.events.Today()

	var todays []model.Event
	for _, e := range d.events.ListUpcoming(owner) {
		if e.Date == today {
			todays = append(todays, e)
		}
	}
	if len(todays) == 0 {
		return "Nothing scheduled for today."
	}
	return FormatEvents("Today:", todays)
}

func (d *Dispatcher) week(owner string) string {
	today := d.events.Today()
	start, err := time.Parse(dateLayout, today)
	if err != nil {
		d.logger.Error("parse today", "today", today, "error", err)
		return "Sorry, something went wrong."
	}
	end := start.AddDate(0, 0, 6).Format(dateLayout)

	var week []model.Event
	for _, e := range d.events.ListUpcoming(owner) {
		if e.Date >= today && e.Date <= end {
			week = append(week, e)
		}
	}
	if len(week) == 0 {
		return "Nothing scheduled for the next seven days."
	}
	return FormatEvents("This week:", week)
}

// clear previews the deletion first and only deletes on "/clear confirm".
// The preview count and the delete are separate operations, so the
// reported number comes from the delete itself.
func (d *Dispatcher) clear(owner, args string) string {
	if strings.EqualFold(args, "confirm") {
		n, err := d.events.DeleteAll(owner)
		if err != nil {
			d.logger.Error("clear events", "owner", owner, "error", err)
			return "Sorry, I couldn't clear your events right now."
		}
		return fmt.Sprintf("🗑 Deleted %s.", plural(n, "event"))
	}

	n, err := d.events.Count(owner)
	if err != nil {
		d.logger.Error("count events", "owner", owner, "error", err)
		return "Sorry, I couldn't look up your events right now."
	}
	if n == 0 {
		return "You have no events to clear."
	}
	return fmt.Sprintf("You have %s. Send /clear confirm to delete them all.", plural(n, "event"))
}
