package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"vatochito/gateway/internal/models"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownType is returned by Decode for a type the gateway does not handle.
// Callers ignore such frames so newer clients keep working.
var ErrUnknownType = errors.New("unknown event type")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Inbound is a decoded and validated client frame
type Inbound interface {
	Kind() Type
}

// Ping asks the server for a pong
type Ping struct{}

// MessageSend creates a message in the session's conversation
type MessageSend struct {
	Content       string             `json:"content" validate:"max=10000"`
	MessageType   models.MessageType `json:"message_type" validate:"omitempty,oneof=text image video audio file"`
	ReplyTo       *string            `json:"reply_to" validate:"omitempty,min=1,max=64"`
	ForwardedFrom *string            `json:"forwarded_from" validate:"omitempty,min=1,max=64"`
}

// MessageEdit replaces the content of the sender's own message
type MessageEdit struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
	Content   string `json:"content" validate:"required,max=10000"`
}

// MessageDelete soft-deletes the sender's own message
type MessageDelete struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
}

// MessageRead marks a message as read by the sender
type MessageRead struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
}

// MessageReact toggles an emoji reaction
type MessageReact struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

// MessagePin pins a message; only admins may do this
type MessagePin struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
}

// Typing reports whether the sender is typing. A missing flag means true.
type Typing struct {
	IsTyping *bool `json:"is_typing"`
}

// Active returns the typing flag with its default applied
func (t *Typing) Active() bool {
	return t.IsTyping == nil || *t.IsTyping
}

// CallInitiate starts a call with the given invitees
type CallInitiate struct {
	CallType       models.CallType `json:"call_type" validate:"omitempty,oneof=voice video"`
	ParticipantIDs []string        `json:"participant_ids" validate:"max=64,dive,required,max=64"`
}

// CallAnswer accepts an incoming call
type CallAnswer struct {
	CallID string `json:"call_id" validate:"required,max=64"`
}

// CallReject declines an incoming call
type CallReject struct {
	CallID string `json:"call_id" validate:"required,max=64"`
}

// CallEnd hangs up a call
type CallEnd struct {
	CallID string `json:"call_id" validate:"required,max=64"`
}

// Signal is a WebRTC negotiation payload relayed untouched to the other
// participants. Exactly one of Offer, Answer and Candidate is set,
// matching Type.
type Signal struct {
	Type      Type            `json:"type"`
	CallID    string          `json:"call_id" validate:"required,max=64"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (*Ping) Kind() Type          { return TypePing }
func (*MessageSend) Kind() Type   { return TypeMessageSend }
func (*MessageEdit) Kind() Type   { return TypeMessageEdit }
func (*MessageDelete) Kind() Type { return TypeMessageDelete }
func (*MessageRead) Kind() Type   { return TypeMessageRead }
func (*MessageReact) Kind() Type  { return TypeMessageReact }
func (*MessagePin) Kind() Type    { return TypeMessagePin }
func (*Typing) Kind() Type        { return TypeTyping }
func (*CallInitiate) Kind() Type  { return TypeCallInitiate }
func (*CallAnswer) Kind() Type    { return TypeCallAnswer }
func (*CallReject) Kind() Type    { return TypeCallReject }
func (*CallEnd) Kind() Type       { return TypeCallEnd }
func (s *Signal) Kind() Type      { return s.Type }

// payload returns the negotiation blob matching the signal type
func (s *Signal) payload() json.RawMessage {
	switch s.Type {
	case TypeWebRTCOffer:
		return s.Offer
	case TypeWebRTCAnswer:
		return s.Answer
	case TypeWebRTCIceCandidate:
		return s.Candidate
	}
	return nil
}

// Decode parses one client frame into its typed variant and validates it.
// Malformed frames wrap models.ErrInvalidPayload; unrecognized types wrap
// ErrUnknownType.
func Decode(raw []byte) (Inbound, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPayload, err)
	}

	var ev Inbound
	switch head.Type {
	case TypePing:
		ev = &Ping{}
	case TypeMessageSend:
		ev = &MessageSend{}
	case TypeMessageEdit:
		ev = &MessageEdit{}
	case TypeMessageDelete:
		ev = &MessageDelete{}
	case TypeMessageRead:
		ev = &MessageRead{}
	case TypeMessageReact:
		ev = &MessageReact{}
	case TypeMessagePin:
		ev = &MessagePin{}
	case TypeTyping:
		ev = &Typing{}
	case TypeCallInitiate:
		ev = &CallInitiate{}
	case TypeCallAnswer:
		ev = &CallAnswer{}
	case TypeCallReject:
		ev = &CallReject{}
	case TypeCallEnd:
		ev = &CallEnd{}
	case TypeWebRTCOffer, TypeWebRTCAnswer, TypeWebRTCIceCandidate:
		ev = &Signal{}
	case "":
		return nil, fmt.Errorf("%w: missing type", models.ErrInvalidPayload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidPayload, head.Type, err)
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidPayload, head.Type, err)
	}
	if s, ok := ev.(*Signal); ok && isEmpty(s.payload()) {
		return nil, fmt.Errorf("%w: %s: missing negotiation payload", models.ErrInvalidPayload, head.Type)
	}

	return ev, nil
}

func isEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
