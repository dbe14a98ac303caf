// Package dialog implements the four-step event-creation conversation.
package dialog

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTimeText is stored when the organizer leaves the time step empty.
const DefaultTimeText = "Tomorrow 19:00"

var clockPattern = regexp.MustCompile(`^[0-9]{2}:[0-9]{2}$`)

// Step is a position in the creation dialogue.
type Step int

const (
	StepTitle Step = iota
	StepLocation
	StepType
	StepTime
	stepDone
)

// Point is a geographic location pin.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Input is one user reply: free text, a location pin, or both empty.
type Input struct {
	Text string
	Pin  *Point
}

// ValidationError rejects a reply for the current step. It carries the
// re-prompt text shown to the user; the dialogue stays on the same step.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// State is the in-progress dialogue for one organizer. The zero value is not
// usable; start with New. States are plain values so they can be kept in a
// session store without shared mutation.
type State struct {
	Step     Step
	Title    string
	Location string
	Type     string
	Time     string
}

// New starts a dialogue at the title step.
func New() State {
	return State{Step: StepTitle}
}

// Done reports whether every step has been filled in.
func (s State) Done() bool {
	return s.Step >= stepDone
}

// Next validates in against the current step and returns the advanced state.
// On a *ValidationError the returned state equals s.
func (s State) Next(in Input) (State, error) {
	switch s.Step {
	case StepTitle:
		title := strings.TrimSpace(in.Text)
		if title == "" {
			return s, &ValidationError{Message: "Please send a short title or description for the event."}
		}
		s.Title = title
	case StepLocation:
		switch {
		case in.Pin != nil:
			s.Location = fmt.Sprintf("Pin: %.6f, %.6f", in.Pin.Latitude, in.Pin.Longitude)
		case strings.TrimSpace(in.Text) != "":
			s.Location = strings.TrimSpace(in.Text)
		default:
			return s, &ValidationError{Message: "Send a location pin or type the location."}
		}
	case StepType:
		kind := strings.TrimSpace(in.Text)
		if kind == "" {
			return s, &ValidationError{Message: "Please tell me the event type (e.g., dinner, movie, walk)."}
		}
		s.Type = kind
	case StepTime:
		if in.Pin != nil {
			return s, &ValidationError{Message: "Please type the time, for example 19:30."}
		}
		s.Time = normalizeTime(in.Text)
	default:
		return s, &ValidationError{Message: "Nothing left to fill in."}
	}
	s.Step++
	return s, nil
}

// normalizeTime applies the time-step rules: empty input falls back to the
// default, a strict HH:MM answer is pinned to tomorrow, anything else is
// kept verbatim.
func normalizeTime(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultTimeText
	}
	if clockPattern.MatchString(text) {
		return "Tomorrow " + text
	}
	return text
}

// Prompt returns the question asked when the dialogue reaches step.
func Prompt(step Step) string {
	switch step {
	case StepTitle:
		return "Let's plan tomorrow! What's the event name or short description?\n\nSend /cancel to stop anytime."
	case StepLocation:
		return "Where will it happen? Send a location pin or type the place."
	case StepType:
		return "What type of event is it? (e.g., dinner, movie, walk)"
	case StepTime:
		return "What time tomorrow? Use 24-hour format like 19:00. Leave empty for " + DefaultTimeText + "."
	}
	return ""
}
