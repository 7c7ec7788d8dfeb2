package feedback

import (
	"errors"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{Unprocessed, Processing, true},
		{Unprocessed, Processed, false},
		{Processing, Processed, true},
		{Processing, Unprocessed, true},
		{Processing, Processing, true},
		{Processing, Quarantined, true},
		{Processed, Processing, false},
		{Processed, Unprocessed, false},
		{Quarantined, Processing, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, raw := range []string{"unprocessed", "processing", "processed", "quarantined"} {
		if _, err := ParseState(raw); err != nil {
			t.Errorf("ParseState(%q): %v", raw, err)
		}
	}
	// Legacy boolean-ish values are rejected rather than guessed at.
	for _, raw := range []string{"", "true", "false", "PROCESSED"} {
		if _, err := ParseState(raw); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseState(%q): expected ErrMalformed, got %v", raw, err)
		}
	}
}
