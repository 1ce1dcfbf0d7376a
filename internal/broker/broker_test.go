package broker

import (
	"context"
	"encoding/json"
	"testing"
)

func TestLocalFansOutToSubscribers(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var a, b []Envelope
	_ = l.Subscribe(ctx, func(_ context.Context, env Envelope) { a = append(a, env) })
	_ = l.Subscribe(ctx, func(_ context.Context, env Envelope) { b = append(b, env) })

	env := Envelope{Origin: "i1", ConversationID: "42", Payload: json.RawMessage(`{"type":"typing"}`)}
	if err := l.Publish(ctx, env); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("deliveries a=%d b=%d, want 1 each", len(a), len(b))
	}
	if a[0].ConversationID != "42" || string(a[0].Payload) != `{"type":"typing"}` {
		t.Errorf("unexpected envelope %+v", a[0])
	}
}

func TestLocalCloseStopsDelivery(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	calls := 0
	_ = l.Subscribe(ctx, func(context.Context, Envelope) { calls++ })
	_ = l.Close()
	_ = l.Publish(ctx, Envelope{ConversationID: "42"})

	if calls != 0 {
		t.Errorf("handler called %d times after Close", calls)
	}
}

func TestSubjectNames(t *testing.T) {
	tests := []struct {
		id   string
		nats string
	}{
		{"42", "gateway.conversation.42"},
		{"a.b", "gateway.conversation.a_b"},
		{"x*y>z", "gateway.conversation.x_y_z"},
		{"with space", "gateway.conversation.with_space"},
	}
	for _, tt := range tests {
		if got := natsSubject(tt.id); got != tt.nats {
			t.Errorf("natsSubject(%q) = %q, want %q", tt.id, got, tt.nats)
		}
	}
}

func TestEnvelopeRoundTripKeepsPayloadBytes(t *testing.T) {
	in := Envelope{
		Origin:           "i1",
		ConversationID:   "42",
		ExcludeSessionID: "s1",
		Payload:          json.RawMessage(`{"type":"webrtc.offer","offer":{"sdp":"v=0"}}`),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ExcludeSessionID != "s1" || string(out.Payload) != string(in.Payload) {
		t.Errorf("envelope changed in transit: %+v", out)
	}
}
