// Package events defines the JSON frames exchanged with realtime clients.
// Every frame is a flat object carrying a "type" discriminator.
package events

// Type identifies a realtime frame
type Type string

const (
	// Keep-alive
	TypePing Type = "ping"
	TypePong Type = "pong"

	// Client message actions
	TypeMessageSend   Type = "message.send"
	TypeMessageEdit   Type = "message.edit"
	TypeMessageDelete Type = "message.delete"
	TypeMessageRead   Type = "message.read"
	TypeMessageReact  Type = "message.react"
	TypeMessagePin    Type = "message.pin"

	// Server message pushes
	TypeMessageNew      Type = "message.new"
	TypeMessageEdited   Type = "message.edited"
	TypeMessageDeleted  Type = "message.deleted"
	TypeMessageReaction Type = "message.reaction"
	TypeMessagePinned   Type = "message.pinned"

	// Typing indicator, both directions
	TypeTyping Type = "typing"

	// Call lifecycle actions
	TypeCallInitiate Type = "call.initiate"
	TypeCallAnswer   Type = "call.answer"
	TypeCallReject   Type = "call.reject"
	TypeCallEnd      Type = "call.end"

	// Call lifecycle pushes
	TypeCallIncoming Type = "call.incoming"
	TypeCallAnswered Type = "call.answered"
	TypeCallRejected Type = "call.rejected"
	TypeCallEnded    Type = "call.ended"
	TypeCallMissed   Type = "call.missed"

	// WebRTC negotiation relay, both directions
	TypeWebRTCOffer        Type = "webrtc.offer"
	TypeWebRTCAnswer       Type = "webrtc.answer"
	TypeWebRTCIceCandidate Type = "webrtc.ice_candidate"

	TypeError Type = "error"
)

// Error codes sent in error frames
const (
	CodeInvalidPayload   = "invalid_payload"
	CodeStoreUnavailable = "store_unavailable"
)
