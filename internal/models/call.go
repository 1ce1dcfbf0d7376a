package models

import "time"

// CallType distinguishes voice from video calls
type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

// CallState is a state of the call lifecycle
type CallState string

const (
	CallInitiated CallState = "initiated"
	CallRinging   CallState = "ringing"
	CallActive    CallState = "active"
	CallEnded     CallState = "ended"
	CallDeclined  CallState = "declined"
	CallMissed    CallState = "missed"
)

// Terminal reports whether no further transitions are allowed
func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallDeclined || s == CallMissed
}

// Ringing reports whether the call is waiting for an answer
func (s CallState) Ringing() bool {
	return s == CallInitiated || s == CallRinging
}

// Call represents a voice or video call within a conversation
type Call struct {
	ID             string     `json:"id" db:"id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	CallerID       string     `json:"caller_id" db:"caller_id"`
	Type           CallType   `json:"call_type" db:"call_type"`
	State          CallState  `json:"state" db:"state"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Duration       int        `json:"duration" db:"duration"` // seconds
}

// CallParticipant is a user's involvement in a call
type CallParticipant struct {
	CallID     string     `json:"call_id" db:"call_id"`
	UserID     string     `json:"user_id" db:"user_id"`
	IsAnswered bool       `json:"is_answered" db:"is_answered"`
	JoinedAt   *time.Time `json:"joined_at,omitempty" db:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty" db:"left_at"`
}

// Finish moves the call to state at now and computes the duration in whole
// seconds. Duration stays zero when the call never started or the clock
// went backwards.
func (c *Call) Finish(state CallState, now time.Time) {
	c.State = state
	c.EndedAt = &now
	c.Duration = 0
	if state == CallEnded && !c.StartedAt.IsZero() {
		if d := int(now.Sub(c.StartedAt).Seconds()); d > 0 {
			c.Duration = d
		}
	}
}
