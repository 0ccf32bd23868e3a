package calls

import "testing"

func TestCanTransition_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusInitiated, StatusRinging, true},
		{StatusInitiated, StatusInProgress, true},
		{StatusInitiated, StatusCompleted, true},
		{StatusRinging, StatusInProgress, true},
		{StatusRinging, StatusBusy, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},

		// backward moves
		{StatusInProgress, StatusRinging, false},
		{StatusRinging, StatusInitiated, false},
		{StatusInProgress, StatusInitiated, false},

		// out of terminal
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusFailed, false},
		{StatusBusy, StatusCompleted, false},
		{StatusCanceled, StatusInProgress, false},

		// self
		{StatusInitiated, StatusInitiated, false},
		{StatusInProgress, StatusInProgress, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminalSet(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s terminal", s)
		}
	}
	for _, s := range []Status{StatusInitiated, StatusRinging, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("expected %s non-terminal", s)
		}
	}
}

func TestStatusFromProvider(t *testing.T) {
	cases := map[string]Status{
		"completed":   StatusCompleted,
		"busy":        StatusBusy,
		"no-answer":   StatusNoAnswer,
		"failed":      StatusFailed,
		"canceled":    StatusCanceled,
		"cancelled":   StatusCanceled,
		"in-progress": StatusInProgress,
		"answered":    StatusInProgress,
		"ringing":     StatusRinging,
		"queued":      StatusInitiated,
		"Completed":   StatusCompleted,
	}
	for raw, want := range cases {
		got, ok := StatusFromProvider(raw)
		if !ok || got != want {
			t.Errorf("StatusFromProvider(%q) = %v/%v, want %v", raw, got, ok, want)
		}
	}

	if _, ok := StatusFromProvider("exploded"); ok {
		t.Errorf("expected unknown status rejected")
	}
}

func TestBilledMinutes(t *testing.T) {
	cases := map[int]int{
		0:   0,
		-5:  0,
		1:   1,
		59:  1,
		60:  1,
		61:  2,
		125: 3,
		200: 4,
	}
	for secs, want := range cases {
		if got := BilledMinutes(secs); got != want {
			t.Errorf("BilledMinutes(%d) = %d, want %d", secs, got, want)
		}
	}
}
