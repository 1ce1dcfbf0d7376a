package calls

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vatochito/gateway/internal/database/memory"
	"vatochito/gateway/internal/events"
	"vatochito/gateway/internal/models"
	"vatochito/gateway/internal/resilience"

	"go.uber.org/zap"
)

type sent struct {
	event   any
	exclude string
}

type recorder struct {
	mu  sync.Mutex
	out []sent
}

func (r *recorder) Broadcast(_ context.Context, _ string, event any, exclude string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, sent{event, exclude})
	return 1
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.out))
	for _, s := range r.out {
		data, _ := json.Marshal(s.event)
		var head struct {
			Type events.Type `json:"type"`
		}
		_ = json.Unmarshal(data, &head)
		out = append(out, head.Type)
	}
	return out
}

func (r *recorder) last() sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out[len(r.out)-1]
}

type scheduled struct {
	mu    sync.Mutex
	calls map[string]time.Duration
}

func (s *scheduled) ScheduleRingTimeout(_ context.Context, callID string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[callID] = after
	return nil
}

var (
	caller = models.Actor{SessionID: "s1", ConversationID: "42", User: models.Identity{ID: "u1", Username: "ana"}}
	callee = models.Actor{SessionID: "s2", ConversationID: "42", User: models.Identity{ID: "u2", Username: "bo"}}
	third  = models.Actor{SessionID: "s3", ConversationID: "42", User: models.Identity{ID: "u3", Username: "cy"}}
)

func setup(t *testing.T) (*Manager, *memory.Store, *recorder, *scheduled) {
	t.Helper()
	store := memory.New()
	for _, u := range []string{"u1", "u2", "u3"} {
		store.AddMember("42", u, false)
	}
	rec := &recorder{}
	sched := &scheduled{calls: make(map[string]time.Duration)}
	guard := resilience.NewGuard(resilience.Config{Name: "test", Timeout: time.Second}, zap.NewNop())
	m := NewManager(store, store, rec, guard, 45*time.Second, zap.NewNop())
	m.UseScheduler(sched)
	return m, store, rec, sched
}

func stateOf(t *testing.T, store *memory.Store, id string) models.Call {
	t.Helper()
	c, err := store.GetCall(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	return c
}

func TestInitiateFiltersInvitees(t *testing.T) {
	m, store, rec, sched := setup(t)
	ctx := context.Background()

	call, err := m.Initiate(ctx, caller, "", []string{"u2", "u2", "u1", "stranger"})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if call.State != models.CallInitiated || call.Type != models.CallVoice {
		t.Errorf("call = %+v", call)
	}

	ev := rec.last().event.(events.CallIncomingPayload)
	if len(ev.ParticipantIDs) != 1 || ev.ParticipantIDs[0] != "u2" || ev.Caller.ID != "u1" {
		t.Errorf("call.incoming = %+v", ev)
	}

	p, err := store.GetParticipant(ctx, call.ID, "u1")
	if err != nil || !p.IsAnswered || p.JoinedAt == nil {
		t.Errorf("caller participant = %+v, %v", p, err)
	}
	p, err = store.GetParticipant(ctx, call.ID, "u2")
	if err != nil || p.IsAnswered {
		t.Errorf("invitee participant = %+v, %v", p, err)
	}
	if _, err := store.GetParticipant(ctx, call.ID, "stranger"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("non-member was invited")
	}
	if sched.calls[call.ID] != 45*time.Second {
		t.Errorf("ring timeout not scheduled: %v", sched.calls)
	}
}

func TestInitiateWithoutInvitees(t *testing.T) {
	m, _, rec, _ := setup(t)
	_, err := m.Initiate(context.Background(), caller, models.CallVideo, []string{"u1", "stranger"})
	if !errors.Is(err, models.ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
	if len(rec.types()) != 0 {
		t.Error("empty call was announced")
	}
}

func TestAnswerThenEnd(t *testing.T) {
	m, store, rec, _ := setup(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return start }

	call, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2"})

	m.now = func() time.Time { return start.Add(2 * time.Second) }
	if err := m.Answer(ctx, callee, call.ID); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got := stateOf(t, store, call.ID).State; got != models.CallActive {
		t.Fatalf("state after answer = %s", got)
	}
	if err := m.Answer(ctx, callee, call.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("second answer: err = %v", err)
	}

	m.now = func() time.Time { return start.Add(62 * time.Second) }
	if err := m.End(ctx, caller, call.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	got := stateOf(t, store, call.ID)
	if got.State != models.CallEnded || got.Duration != 62 || got.EndedAt == nil {
		t.Errorf("ended call = %+v", got)
	}
	ev := rec.last().event.(events.CallEndedPayload)
	if ev.State != models.CallEnded || ev.Duration != 62 || ev.EndedBy.ID != "u1" {
		t.Errorf("call.ended = %+v", ev)
	}

	want := []events.Type{events.TypeCallIncoming, events.TypeCallAnswered, events.TypeCallEnded}
	if types := rec.types(); len(types) != len(want) {
		t.Fatalf("broadcasts = %v, want %v", types, want)
	}
}

func TestTerminalStatesNeverRegress(t *testing.T) {
	m, store, rec, _ := setup(t)
	ctx := context.Background()

	call, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2", "u3"})
	if err := m.Answer(ctx, callee, call.ID); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if err := m.End(ctx, callee, call.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	before := len(rec.types())

	tests := []struct {
		name string
		op   func() error
	}{
		{"reject after end", func() error { return m.Reject(ctx, third, call.ID) }},
		{"answer after end", func() error { return m.Answer(ctx, third, call.ID) }},
		{"end twice", func() error { return m.End(ctx, caller, call.ID) }},
		{"expire after end", func() error { return m.Expire(ctx, call.ID) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = tt.op()
			if got := stateOf(t, store, call.ID).State; got != models.CallEnded {
				t.Errorf("state = %s, want ended", got)
			}
		})
	}
	if after := len(rec.types()); after != before {
		t.Errorf("no-op transitions broadcast %d events", after-before)
	}
}

func TestRejectAndEndBeforeAnswer(t *testing.T) {
	m, store, rec, _ := setup(t)
	ctx := context.Background()

	declined, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2"})
	if err := m.Reject(ctx, callee, declined.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	got := stateOf(t, store, declined.ID)
	if got.State != models.CallDeclined || got.Duration != 0 {
		t.Errorf("declined call = %+v", got)
	}
	if ev := rec.last().event.(events.CallRejectedPayload); ev.Rejector.ID != "u2" {
		t.Errorf("call.rejected = %+v", ev)
	}
	p, _ := store.GetParticipant(ctx, declined.ID, "u2")
	if p.LeftAt == nil {
		t.Error("rejecting participant has no left_at")
	}

	hungUp, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2"})
	if err := m.End(ctx, caller, hungUp.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if got := stateOf(t, store, hungUp.ID).State; got != models.CallMissed {
		t.Errorf("unanswered hang up state = %s, want missed", got)
	}
}

func TestRejectActiveCallIsNoop(t *testing.T) {
	m, store, _, _ := setup(t)
	ctx := context.Background()

	call, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2", "u3"})
	_ = m.Answer(ctx, callee, call.ID)

	if err := m.Reject(ctx, third, call.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("err = %v", err)
	}
	if got := stateOf(t, store, call.ID).State; got != models.CallActive {
		t.Errorf("state = %s, want active", got)
	}
}

func TestOutsidersCannotTouchCall(t *testing.T) {
	m, store, _, _ := setup(t)
	ctx := context.Background()
	store.AddMember("42", "u4", false)
	outsider := models.Actor{SessionID: "s4", ConversationID: "42", User: models.Identity{ID: "u4"}}
	elsewhere := models.Actor{SessionID: "s5", ConversationID: "99", User: models.Identity{ID: "u2"}}

	call, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2"})

	if err := m.Answer(ctx, outsider, call.ID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("answer by non-participant: err = %v", err)
	}
	if err := m.End(ctx, outsider, call.ID); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("end by non-participant: err = %v", err)
	}
	if err := m.Answer(ctx, elsewhere, call.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("answer from another conversation: err = %v", err)
	}
	if err := m.Answer(ctx, callee, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("answer unknown call: err = %v", err)
	}
}

func TestExpireRingingCall(t *testing.T) {
	m, store, rec, _ := setup(t)
	ctx := context.Background()

	call, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2"})
	if err := m.Expire(ctx, call.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if got := stateOf(t, store, call.ID).State; got != models.CallMissed {
		t.Errorf("state = %s, want missed", got)
	}
	if ev, ok := rec.last().event.(events.CallMissedPayload); !ok || ev.CallID != call.ID {
		t.Errorf("last broadcast = %+v", rec.last().event)
	}
	if err := m.Answer(ctx, callee, call.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("answer after miss: err = %v", err)
	}
}

func TestRelayExcludesSender(t *testing.T) {
	m, _, rec, _ := setup(t)
	ctx := context.Background()
	call, _ := m.Initiate(ctx, caller, models.CallVideo, []string{"u2"})

	sig := &events.Signal{Type: events.TypeWebRTCOffer, CallID: call.ID, Offer: json.RawMessage(`{"sdp":"v=0","type":"offer"}`)}
	if err := m.Relay(ctx, caller, sig); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	last := rec.last()
	if last.exclude != "s1" {
		t.Errorf("relay excluded %q, want s1", last.exclude)
	}
	ev := last.event.(events.SignalPayload)
	if string(ev.Offer) != `{"sdp":"v=0","type":"offer"}` || ev.SenderID != "u1" {
		t.Errorf("relayed = %+v", ev)
	}

	_ = m.End(ctx, caller, call.ID)
	if err := m.Relay(ctx, callee, sig); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("relay on finished call: err = %v", err)
	}
}

func TestConcurrentAnswerAndEnd(t *testing.T) {
	for i := 0; i < 50; i++ {
		m, store, rec, _ := setup(t)
		ctx := context.Background()
		call, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2"})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _ = m.Answer(ctx, callee, call.ID) }()
		go func() { defer wg.Done(); _ = m.End(ctx, caller, call.ID) }()
		wg.Wait()

		got := stateOf(t, store, call.ID)
		if !got.State.Terminal() {
			t.Fatalf("run %d: state = %s, want terminal", i, got.State)
		}
		if got.Duration < 0 {
			t.Fatalf("run %d: negative duration", i)
		}

		// Observed states must follow incoming -> [answered] -> ended.
		types := rec.types()
		if types[len(types)-1] != events.TypeCallEnded {
			t.Fatalf("run %d: broadcasts = %v", i, types)
		}
		if m.locks.Len() != 0 {
			t.Fatalf("run %d: %d call locks leaked", i, m.locks.Len())
		}
	}
}

// pausingStore holds the next GetCall, after the call was read, until
// resume is closed
type pausingStore struct {
	*memory.Store
	armed  atomic.Bool
	paused chan struct{}
	resume chan struct{}
}

func newPausingStore(s *memory.Store) *pausingStore {
	return &pausingStore{Store: s, paused: make(chan struct{}), resume: make(chan struct{})}
}

func (p *pausingStore) GetCall(ctx context.Context, id string) (models.Call, error) {
	c, err := p.Store.GetCall(ctx, id)
	if p.armed.CompareAndSwap(true, false) {
		close(p.paused)
		<-p.resume
	}
	return c, err
}

// failingAnswerStore loses the connection on every answer
type failingAnswerStore struct {
	*memory.Store
}

func (failingAnswerStore) AnswerCall(context.Context, string, string, time.Time) error {
	return errors.New("connection reset by peer")
}

func sharedStore() *memory.Store {
	store := memory.New()
	for _, u := range []string{"u1", "u2", "u3"} {
		store.AddMember("42", u, false)
	}
	return store
}

// instance builds a manager as a separate gateway instance would
func instance(store Store, members Membership) (*Manager, *recorder) {
	rec := &recorder{}
	guard := resilience.NewGuard(resilience.Config{Name: "test", Timeout: time.Second}, zap.NewNop())
	return NewManager(store, members, rec, guard, 45*time.Second, zap.NewNop()), rec
}

func TestAnswerLosesToEndOnAnotherInstance(t *testing.T) {
	ctx := context.Background()
	shared := sharedStore()
	paused := newPausingStore(shared)
	first, firstRec := instance(paused, shared)
	second, _ := instance(shared, shared)

	call, err := second.Initiate(ctx, caller, models.CallVoice, []string{"u2"})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	paused.armed.Store(true)
	answered := make(chan error, 1)
	go func() { answered <- first.Answer(ctx, callee, call.ID) }()
	<-paused.paused

	if err := second.End(ctx, caller, call.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	close(paused.resume)

	if err := <-answered; !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("late answer: err = %v, want ErrInvalidTransition", err)
	}
	got := stateOf(t, shared, call.ID)
	if got.State != models.CallMissed || got.EndedAt == nil {
		t.Errorf("call = %+v, want missed", got)
	}
	if p, _ := shared.GetParticipant(ctx, call.ID, "u2"); p.IsAnswered {
		t.Error("late answer was recorded")
	}
	if types := firstRec.types(); len(types) != 0 {
		t.Errorf("losing instance broadcast %v", types)
	}
}

func TestEndCatchesUpWithAnswerOnAnotherInstance(t *testing.T) {
	ctx := context.Background()
	shared := sharedStore()
	paused := newPausingStore(shared)
	first, _ := instance(shared, shared)
	second, secondRec := instance(paused, shared)

	call, _ := first.Initiate(ctx, caller, models.CallVoice, []string{"u2"})

	paused.armed.Store(true)
	ended := make(chan error, 1)
	go func() { ended <- second.End(ctx, caller, call.ID) }()
	<-paused.paused

	if err := first.Answer(ctx, callee, call.ID); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	close(paused.resume)

	if err := <-ended; err != nil {
		t.Fatalf("End: %v", err)
	}
	if got := stateOf(t, shared, call.ID).State; got != models.CallEnded {
		t.Errorf("state = %s, want ended", got)
	}
	if ev, ok := secondRec.last().event.(events.CallEndedPayload); !ok || ev.State != models.CallEnded {
		t.Errorf("call.ended = %+v", secondRec.last().event)
	}
}

func TestConcurrentTransitionsAcrossInstances(t *testing.T) {
	for i := 0; i < 50; i++ {
		ctx := context.Background()
		shared := sharedStore()
		first, firstRec := instance(shared, shared)
		second, _ := instance(shared, shared)
		call, _ := first.Initiate(ctx, caller, models.CallVoice, []string{"u2"})

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); _ = first.Answer(ctx, callee, call.ID) }()
		go func() { defer wg.Done(); _ = second.End(ctx, caller, call.ID) }()
		go func() { defer wg.Done(); _ = second.Expire(ctx, call.ID) }()
		wg.Wait()

		got := stateOf(t, shared, call.ID)
		if !got.State.Terminal() {
			t.Fatalf("run %d: state = %s, want terminal", i, got.State)
		}
		answered := false
		for _, typ := range firstRec.types() {
			if typ == events.TypeCallAnswered {
				answered = true
			}
		}
		if got.State == models.CallMissed && answered {
			t.Fatalf("run %d: call.answered went out for a missed call", i)
		}
		if got.State == models.CallEnded && !answered {
			t.Fatalf("run %d: call ended without an answer", i)
		}
	}
}

func TestFailedAnswerLeavesCallRinging(t *testing.T) {
	ctx := context.Background()
	shared := sharedStore()
	m, rec := instance(failingAnswerStore{shared}, shared)

	call, _ := m.Initiate(ctx, caller, models.CallVoice, []string{"u2"})
	if err := m.Answer(ctx, callee, call.ID); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}

	if got := stateOf(t, shared, call.ID).State; got != models.CallInitiated {
		t.Errorf("state after failed answer = %s, want initiated", got)
	}
	if p, _ := shared.GetParticipant(ctx, call.ID, "u2"); p.IsAnswered || p.JoinedAt != nil {
		t.Errorf("participant after failed answer = %+v", p)
	}
	if types := rec.types(); len(types) != 1 {
		t.Errorf("broadcasts = %v, want only call.incoming", types)
	}

	// The ring timeout still applies.
	if err := m.Expire(ctx, call.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if got := stateOf(t, shared, call.ID).State; got != models.CallMissed {
		t.Errorf("state after expiry = %s, want missed", got)
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	if k.Len() != 2 {
		t.Fatalf("Len = %d", k.Len())
	}
	unlockA()
	unlockB()
	if k.Len() != 0 {
		t.Fatalf("Len after unlock = %d", k.Len())
	}
}
