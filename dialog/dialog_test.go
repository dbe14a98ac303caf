package dialog

import (
	"errors"
	"testing"
)

func advance(t *testing.T, s State, in Input) State {
	t.Helper()
	next, err := s.Next(in)
	if err != nil {
		t.Fatalf("step %d rejected %q: %v", s.Step, in.Text, err)
	}
	return next
}

func TestFullSequenceFillsEveryField(t *testing.T) {
	t.Parallel()

	s := New()
	s = advance(t, s, Input{Text: "  Board games  "})
	s = advance(t, s, Input{Text: "Alex's place"})
	s = advance(t, s, Input{Text: "game night"})
	s = advance(t, s, Input{Text: ""})

	if !s.Done() {
		t.Fatal("dialogue should be complete after four steps")
	}
	if s.Title != "Board games" {
		t.Fatalf("title = %q, want %q", s.Title, "Board games")
	}
	if s.Location != "Alex's place" {
		t.Fatalf("location = %q, want %q", s.Location, "Alex's place")
	}
	if s.Type != "game night" {
		t.Fatalf("type = %q, want %q", s.Type, "game night")
	}
	if s.Time != DefaultTimeText {
		t.Fatalf("time = %q, want %q", s.Time, DefaultTimeText)
	}
}

func TestEmptyRepliesAreRejectedWithoutAdvancing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		s    State
	}{
		{"title", State{Step: StepTitle}},
		{"location", State{Step: StepLocation}},
		{"type", State{Step: StepType}},
	}
	for _, tc := range cases {
		next, err := tc.s.Next(Input{Text: "   "})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: error = %v, want *ValidationError", tc.name, err)
		}
		if verr.Message == "" {
			t.Fatalf("%s: validation error has no re-prompt text", tc.name)
		}
		if next != tc.s {
			t.Fatalf("%s: state changed on rejected input: %+v", tc.name, next)
		}
	}
}

func TestLocationAcceptsPin(t *testing.T) {
	t.Parallel()

	s := State{Step: StepLocation}
	next, err := s.Next(Input{Pin: &Point{Latitude: 1.2345678, Longitude: -103.5}})
	if err != nil {
		t.Fatalf("pin rejected: %v", err)
	}
	if next.Location != "Pin: 1.234568, -103.500000" {
		t.Fatalf("location = %q", next.Location)
	}
	if next.Step != StepType {
		t.Fatalf("step = %d, want %d", next.Step, StepType)
	}
}

func TestTimeStepRejectsPin(t *testing.T) {
	t.Parallel()

	s := State{Step: StepTime}
	next, err := s.Next(Input{Pin: &Point{Latitude: 1, Longitude: 2}})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if next.Step != StepTime {
		t.Fatalf("step advanced on rejected pin: %d", next.Step)
	}
}

func TestTimeNormalization(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", "Tomorrow 19:00"},
		{"   ", "Tomorrow 19:00"},
		{"20:15", "Tomorrow 20:15"},
		{" 20:15 ", "Tomorrow 20:15"},
		{"whenever", "whenever"},
		{"9:15", "9:15"},
		{"20:15ish", "20:15ish"},
		{"ab:cd", "ab:cd"},
	}
	for _, tc := range cases {
		s := State{Step: StepTime}
		next, err := s.Next(Input{Text: tc.in})
		if err != nil {
			t.Fatalf("time %q rejected: %v", tc.in, err)
		}
		if next.Time != tc.want {
			t.Fatalf("time %q = %q, want %q", tc.in, next.Time, tc.want)
		}
		if !next.Done() {
			t.Fatalf("time %q: dialogue not complete", tc.in)
		}
	}
}

func TestPromptsExistForEveryStep(t *testing.T) {
	t.Parallel()

	for _, step := range []Step{StepTitle, StepLocation, StepType, StepTime} {
		if Prompt(step) == "" {
			t.Fatalf("no prompt for step %d", step)
		}
	}
}
