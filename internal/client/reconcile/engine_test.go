package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wachat/infrastructure/obs"
	"wachat/internal/client/transport"
	"wachat/internal/entity"
)

type fakeTransport struct {
	sendFn  func(ctx context.Context, senderId, receiverId, text string) (entity.Message, error)
	fetchFn func(ctx context.Context, conv entity.Conversation, limit int) ([]entity.Message, error)
	sends   atomic.Int32
	fetches atomic.Int32
}

func (f *fakeTransport) Send(ctx context.Context, senderId, receiverId, text string) (entity.Message, error) {
	f.sends.Add(1)
	if f.sendFn == nil {
		return entity.Message{}, errors.New("send not configured")
	}
	return f.sendFn(ctx, senderId, receiverId, text)
}

func (f *fakeTransport) Fetch(ctx context.Context, conv entity.Conversation, limit int) ([]entity.Message, error) {
	f.fetches.Add(1)
	if f.fetchFn == nil {
		return nil, nil
	}
	return f.fetchFn(ctx, conv, limit)
}

var (
	u1u2 = entity.Conversation{SelfId: "u1", PeerId: "u2"}
	u1u3 = entity.Conversation{SelfId: "u1", PeerId: "u3"}
)

func msg(id, from, to string, at int64) entity.Message {
	return entity.Message{Id: id, SenderId: from, ReceiverId: to, Text: id, Status: entity.MessageStatusSent, CreatedAt: entity.Timestamp(at)}
}

func ids(messages []entity.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Id
	}
	return out
}

func assertIds(t *testing.T, got []entity.Message, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("got %v want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("got %v want %v", g, want)
		}
	}
}

func newEngine(ft *fakeTransport, cfg Config) *Engine {
	cfg.Logger = obs.Discard()
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.UnixMilli(5000) }
	}
	return NewEngine(ft, cfg)
}

func TestMergeIsIdempotentAndScoped(t *testing.T) {
	e := newEngine(&fakeTransport{}, Config{})
	e.Select(u1u2)

	batch := []entity.Message{
		msg("m2", "u2", "u1", 2000),
		msg("m1", "u1", "u2", 1000),
		msg("x1", "u1", "u3", 1500),
		msg("x2", "u3", "u2", 1500),
	}
	if added := e.Merge(batch); added != 2 {
		t.Fatalf("added = %d", added)
	}
	if added := e.Merge(batch); added != 0 {
		t.Fatalf("second merge added %d", added)
	}
	assertIds(t, e.State().Messages, "m1", "m2")
}

func TestMergeOrdersTiesByInsertion(t *testing.T) {
	e := newEngine(&fakeTransport{}, Config{})
	e.Select(u1u2)

	e.Merge([]entity.Message{msg("a", "u1", "u2", 1000), msg("c", "u1", "u2", 3000)})
	e.Merge([]entity.Message{msg("b", "u2", "u1", 1000)})
	e.Merge([]entity.Message{msg("d", "u2", "u1", 500)})
	assertIds(t, e.State().Messages, "d", "a", "b", "c")
}

func TestSendLocalReplacesTransientWithEcho(t *testing.T) {
	ft := &fakeTransport{
		sendFn: func(_ context.Context, s, r, text string) (entity.Message, error) {
			if s != "u1" || r != "u2" || text != "hello" {
				t.Errorf("send(%s, %s, %s)", s, r, text)
			}
			return msg("m100", "u1", "u2", 5001), nil
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)

	var states []State
	var mu sync.Mutex
	e.Subscribe(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	echo, err := e.SendLocal(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendLocal: %v", err)
	}
	if echo.Id != "m100" {
		t.Fatalf("echo %+v", echo)
	}
	st := e.State()
	assertIds(t, st.Messages, "m100")
	if len(st.Pending) != 0 {
		t.Fatalf("pending %v", st.Pending)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 {
		t.Fatalf("expected optimistic and final notifications, got %d", len(states))
	}
	optimistic := states[0]
	if len(optimistic.Messages) != 1 || len(optimistic.Pending) != 1 {
		t.Fatalf("optimistic state %+v", optimistic)
	}
	local := optimistic.Messages[0]
	if local.Id[:len(TransientPrefix)] != TransientPrefix || local.Text != "hello" || local.CreatedAt != 5000 || local.Status != entity.MessageStatusSent {
		t.Fatalf("transient entry %+v", local)
	}
}

func TestSendLocalDropsTransientWhenEchoAlreadyMerged(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ft := &fakeTransport{
		sendFn: func(context.Context, string, string, string) (entity.Message, error) {
			close(started)
			<-release
			return msg("m100", "u1", "u2", 5001), nil
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)

	done := make(chan error)
	go func() {
		_, err := e.SendLocal(context.Background(), "hello")
		done <- err
	}()
	<-started

	// a poll sees the stored message before the send call returns
	e.Merge([]entity.Message{msg("m100", "u1", "u2", 5001)})
	if n := len(e.State().Messages); n != 2 {
		t.Fatalf("expected transient and merged entries, got %d", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("SendLocal: %v", err)
	}
	assertIds(t, e.State().Messages, "m100")
}

func TestSendLocalRollsBackOnFailure(t *testing.T) {
	boom := &transport.TransportError{StatusCode: 500, Message: "boom"}
	ft := &fakeTransport{
		sendFn: func(context.Context, string, string, string) (entity.Message, error) {
			return entity.Message{}, boom
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)
	e.Merge([]entity.Message{msg("m1", "u2", "u1", 1000)})

	_, err := e.SendLocal(context.Background(), "hello")
	var unsent *UnsentError
	if !errors.As(err, &unsent) || unsent.Text != "hello" {
		t.Fatalf("expected UnsentError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("UnsentError should wrap the transport error")
	}
	st := e.State()
	assertIds(t, st.Messages, "m1")
	if st.Err == nil || len(st.Pending) != 0 {
		t.Fatalf("state %+v", st)
	}
	if !st.Connected {
		t.Fatal("a server rejection must not mark the engine disconnected")
	}
}

func TestSendLocalNetworkFailureMarksDisconnected(t *testing.T) {
	ft := &fakeTransport{
		sendFn: func(context.Context, string, string, string) (entity.Message, error) {
			return entity.Message{}, &transport.TransportError{Err: errors.New("connection refused")}
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)
	if _, err := e.SendLocal(context.Background(), "hi"); err == nil {
		t.Fatal("expected error")
	}
	if e.Connected() {
		t.Fatal("expected disconnected")
	}
}

func TestSendLocalValidatesWithoutNetwork(t *testing.T) {
	ft := &fakeTransport{}
	e := newEngine(ft, Config{})
	e.Select(u1u2)

	long := make([]rune, entity.MessageMaxLength+1)
	for i := range long {
		long[i] = 'a'
	}
	for _, text := range []string{"", "   ", string(long)} {
		if _, err := e.SendLocal(context.Background(), text); !errors.Is(err, entity.ErrValidation) {
			t.Fatalf("%d chars: got %v", len(text), err)
		}
	}
	if ft.sends.Load() != 0 {
		t.Fatal("transport must not be called for invalid text")
	}
	if len(e.State().Messages) != 0 {
		t.Fatal("no transient entry expected")
	}
}

func TestSendLocalRequiresConversation(t *testing.T) {
	e := newEngine(&fakeTransport{}, Config{})
	if _, err := e.SendLocal(context.Background(), "hi"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("got %v", err)
	}
}

func TestRequireConnection(t *testing.T) {
	ft := &fakeTransport{}
	e := newEngine(ft, Config{RequireConnection: true})
	e.Select(u1u2)
	e.SetConnected(false)

	if _, err := e.SendLocal(context.Background(), "hi"); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("got %v", err)
	}
	if ft.sends.Load() != 0 {
		t.Fatal("send attempted while disconnected")
	}

	// polling keeps probing and a successful fetch reconnects
	e.poll(context.Background())
	if ft.fetches.Load() != 1 || !e.Connected() {
		t.Fatalf("fetches=%d connected=%v", ft.fetches.Load(), e.Connected())
	}
}

func TestSendLocalRepositionsEcho(t *testing.T) {
	ft := &fakeTransport{
		sendFn: func(context.Context, string, string, string) (entity.Message, error) {
			return msg("m100", "u1", "u2", 1500), nil
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)
	e.Merge([]entity.Message{msg("m1", "u2", "u1", 1000), msg("m2", "u2", "u1", 2000)})

	// transient entry lands last (now = 5000); the server clock says 1500
	if _, err := e.SendLocal(context.Background(), "late"); err != nil {
		t.Fatalf("SendLocal: %v", err)
	}
	assertIds(t, e.State().Messages, "m1", "m100", "m2")
}

func TestLoadInitialReplacesSequenceKeepingPending(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ft := &fakeTransport{
		sendFn: func(context.Context, string, string, string) (entity.Message, error) {
			close(started)
			<-release
			return msg("m100", "u1", "u2", 5001), nil
		},
		fetchFn: func(context.Context, entity.Conversation, int) ([]entity.Message, error) {
			return []entity.Message{msg("m1", "u1", "u2", 1000), msg("m2", "u2", "u1", 2000)}, nil
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)
	e.Merge([]entity.Message{msg("old", "u2", "u1", 900)})

	done := make(chan struct{})
	go func() {
		e.SendLocal(context.Background(), "hello")
		close(done)
	}()
	<-started

	if err := e.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	st := e.State()
	if len(st.Messages) != 3 || st.Messages[0].Id != "m1" || st.Messages[1].Id != "m2" || st.Messages[2].Id != st.Pending[0] {
		t.Fatalf("state %v pending %v", ids(st.Messages), st.Pending)
	}
	if st.Loading {
		t.Fatal("still loading")
	}

	close(release)
	<-done
	assertIds(t, e.State().Messages, "m1", "m2", "m100")
}

func TestLoadInitialFailureKeepsOptimisticEntries(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	fetchErr := &transport.TransportError{StatusCode: 503}
	ft := &fakeTransport{
		sendFn: func(context.Context, string, string, string) (entity.Message, error) {
			close(started)
			<-release
			return msg("m100", "u1", "u2", 5001), nil
		},
		fetchFn: func(context.Context, entity.Conversation, int) ([]entity.Message, error) {
			return nil, fetchErr
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)

	done := make(chan struct{})
	go func() {
		e.SendLocal(context.Background(), "hello")
		close(done)
	}()
	<-started

	if err := e.LoadInitial(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("got %v", err)
	}
	st := e.State()
	if len(st.Messages) != 1 || len(st.Pending) != 1 || st.Err == nil {
		t.Fatalf("state %+v", st)
	}
	close(release)
	<-done
}

func TestLoadInitialDiscardsStaleResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	ft := &fakeTransport{
		fetchFn: func(_ context.Context, conv entity.Conversation, _ int) ([]entity.Message, error) {
			if conv == u1u2 {
				started <- struct{}{}
				<-release
				return []entity.Message{msg("m1", "u1", "u2", 1000)}, nil
			}
			return []entity.Message{msg("n1", "u3", "u1", 1000)}, nil
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)

	done := make(chan error)
	go func() { done <- e.LoadInitial(context.Background()) }()
	<-started

	e.Select(u1u3)
	if err := e.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("stale LoadInitial: %v", err)
	}
	st := e.State()
	if st.Conversation != u1u3 {
		t.Fatalf("conversation %+v", st.Conversation)
	}
	assertIds(t, st.Messages, "n1")
}

func TestSelectClearsState(t *testing.T) {
	e := newEngine(&fakeTransport{}, Config{})
	e.Select(u1u2)
	e.Merge([]entity.Message{msg("m1", "u1", "u2", 1000)})
	gen := e.State().Generation

	e.Select(u1u3)
	st := e.State()
	if len(st.Messages) != 0 || st.Generation != gen+1 {
		t.Fatalf("state %+v", st)
	}
	// m1 belongs to the previous conversation
	if e.Merge([]entity.Message{msg("m1", "u1", "u2", 1000)}) != 0 {
		t.Fatal("foreign message merged")
	}
}

func TestHandlePush(t *testing.T) {
	e := newEngine(&fakeTransport{}, Config{})
	e.Select(u1u2)

	m := msg("m1", "u2", "u1", 1000)
	if !e.HandlePush(entity.PushEvent{Type: entity.PushTypeMessage, ChatId: u1u2.Key(), Message: &m}) {
		t.Fatal("active message push ignored")
	}
	if e.HandlePush(entity.PushEvent{Type: entity.PushTypeMessage, ChatId: u1u2.Key(), Message: &m}) {
		t.Fatal("duplicate push changed state")
	}
	other := msg("x1", "u3", "u1", 1000)
	if e.HandlePush(entity.PushEvent{Type: entity.PushTypeMessage, ChatId: u1u3.Key(), Message: &other}) {
		t.Fatal("foreign conversation push merged")
	}
	if e.HandlePush(entity.PushEvent{Type: entity.PushTypeInvitation}) {
		t.Fatal("invitation push changed state")
	}

	if !e.HandlePush(entity.PushEvent{Type: entity.PushTypeRead, ChatId: u1u2.Key(), MessageId: "m1"}) {
		t.Fatal("read push ignored")
	}
	st := e.State()
	assertIds(t, st.Messages, "m1")
	if st.Messages[0].Status != entity.MessageStatusRead {
		t.Fatalf("status %s", st.Messages[0].Status)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	e := newEngine(&fakeTransport{}, Config{})
	var calls atomic.Int32
	unsubscribe := e.Subscribe(func(State) { calls.Add(1) })

	e.Select(u1u2)
	e.SetConnected(false)
	e.SetConnected(false)
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
	unsubscribe()
	e.SetConnected(true)
	if calls.Load() != 2 {
		t.Fatal("notified after unsubscribe")
	}
}
