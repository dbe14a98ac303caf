package model

import "time"

// Status is an RSVP answer.
type Status string

const (
	StatusYes   Status = "yes"
	StatusNo    Status = "no"
	StatusMaybe Status = "maybe"
)

// ParseStatus validates a raw status value coming off the wire.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusYes, StatusNo, StatusMaybe:
		return Status(raw), true
	}
	return "", false
}

// Label returns the display form of the status ("Yes", "No", "Maybe").
func (s Status) Label() string {
	switch s {
	case StatusYes:
		return "Yes"
	case StatusNo:
		return "No"
	case StatusMaybe:
		return "Maybe"
	}
	return string(s)
}

// Event is an event planned for tomorrow. All fields are immutable after
// creation; there is no edit operation.
type Event struct {
	ID          int64     `db:"id"`
	OrganizerID int64     `db:"organizer_id"`
	Title       string    `db:"title"`
	Type        string    `db:"type"`
	Time        string    `db:"time"`
	Location    string    `db:"location"`
	CreatedAt   time.Time `db:"created_at"`
}

// RSVP is one responder's answer for one event. A responder has at most one
// RSVP per event.
type RSVP struct {
	ID          int64     `db:"id"`
	EventID     int64     `db:"event_id"`
	ResponderID int64     `db:"responder_id"`
	Status      Status    `db:"status"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Counts holds RSVP totals for one event. Missing statuses count as zero.
type Counts struct {
	Yes   int
	No    int
	Maybe int
}
