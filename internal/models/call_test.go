package models

import (
	"testing"
	"time"
)

func TestCallFinish(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		started  time.Time
		state    CallState
		end      time.Time
		duration int
	}{
		{"ended after 90s", start, CallEnded, start.Add(90*time.Second + 700*time.Millisecond), 90},
		{"ended with clock skew", start, CallEnded, start.Add(-5 * time.Second), 0},
		{"ended without start", time.Time{}, CallEnded, start, 0},
		{"missed has no duration", start, CallMissed, start.Add(30 * time.Second), 0},
		{"declined has no duration", start, CallDeclined, start.Add(10 * time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Call{StartedAt: tt.started, State: CallActive}
			c.Finish(tt.state, tt.end)

			if c.State != tt.state {
				t.Errorf("state = %s, want %s", c.State, tt.state)
			}
			if c.EndedAt == nil || !c.EndedAt.Equal(tt.end) {
				t.Errorf("ended_at = %v, want %v", c.EndedAt, tt.end)
			}
			if c.Duration != tt.duration {
				t.Errorf("duration = %d, want %d", c.Duration, tt.duration)
			}
		})
	}
}

func TestCallStatePredicates(t *testing.T) {
	tests := []struct {
		state    CallState
		terminal bool
		ringing  bool
	}{
		{CallInitiated, false, true},
		{CallRinging, false, true},
		{CallActive, false, false},
		{CallEnded, true, false},
		{CallDeclined, true, false},
		{CallMissed, true, false},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v", tt.state, got)
		}
		if got := tt.state.Ringing(); got != tt.ringing {
			t.Errorf("%s.Ringing() = %v", tt.state, got)
		}
	}
}
