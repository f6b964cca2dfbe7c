package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"wachat/internal/client/transport"
	"wachat/internal/entity"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPollerMergesNewMessages(t *testing.T) {
	ft := &fakeTransport{
		fetchFn: func(context.Context, entity.Conversation, int) ([]entity.Message, error) {
			return []entity.Message{msg("m1", "u2", "u1", 1000)}, nil
		},
	}
	e := newEngine(ft, Config{PollInterval: 10 * time.Millisecond})
	e.Select(u1u2)

	p := e.StartPolling(context.Background())
	defer p.Stop()

	waitFor(t, func() bool { return len(e.State().Messages) == 1 })
	waitFor(t, func() bool { return ft.fetches.Load() >= 3 })
	assertIds(t, e.State().Messages, "m1")
}

func TestPollFailureMarksDisconnectedAndRecovers(t *testing.T) {
	fail := make(chan bool, 1)
	fail <- true
	ft := &fakeTransport{
		fetchFn: func(context.Context, entity.Conversation, int) ([]entity.Message, error) {
			select {
			case <-fail:
				return nil, &transport.TransportError{Err: errors.New("connection refused")}
			default:
				return nil, nil
			}
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)

	e.poll(context.Background())
	if e.Connected() || e.State().Err == nil {
		t.Fatal("expected disconnected after failed poll")
	}
	e.poll(context.Background())
	if !e.Connected() || e.State().Err != nil {
		t.Fatal("expected recovery after successful poll")
	}
}

func TestPollServerRejectionKeepsConnected(t *testing.T) {
	ft := &fakeTransport{
		fetchFn: func(context.Context, entity.Conversation, int) ([]entity.Message, error) {
			return nil, &transport.TransportError{StatusCode: 503, Message: "unavailable"}
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)

	e.poll(context.Background())
	if !e.Connected() {
		t.Fatal("a server answer must not mark the engine disconnected")
	}
	if e.State().Err == nil {
		t.Fatal("poll error not surfaced")
	}
}

func TestPollerRecoversWithRequireConnection(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	ft := &fakeTransport{
		fetchFn: func(context.Context, entity.Conversation, int) ([]entity.Message, error) {
			if failing.Load() {
				return nil, &transport.TransportError{Err: errors.New("connection refused")}
			}
			return []entity.Message{msg("m1", "u2", "u1", 1000)}, nil
		},
	}
	e := newEngine(ft, Config{PollInterval: 10 * time.Millisecond, RequireConnection: true})
	e.Select(u1u2)

	p := e.StartPolling(context.Background())
	defer p.Stop()

	waitFor(t, func() bool { return ft.fetches.Load() >= 1 && !e.Connected() })
	if _, err := e.SendLocal(context.Background(), "hi"); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("send while disconnected: %v", err)
	}

	failing.Store(false)
	waitFor(t, func() bool { return e.Connected() && len(e.State().Messages) == 1 })
	assertIds(t, e.State().Messages, "m1")
}

func TestPollerStopCancelsInFlightFetch(t *testing.T) {
	entered := make(chan struct{}, 1)
	ft := &fakeTransport{
		fetchFn: func(ctx context.Context, _ entity.Conversation, _ int) ([]entity.Message, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e := newEngine(ft, Config{PollInterval: 5 * time.Millisecond})
	e.Select(u1u2)

	p := e.StartPolling(context.Background())
	<-entered

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	p.Stop()

	if !e.Connected() {
		t.Fatal("a cancelled poll must not mark the engine disconnected")
	}
}

func TestPollResultDiscardedAfterSelect(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	ft := &fakeTransport{
		fetchFn: func(context.Context, entity.Conversation, int) ([]entity.Message, error) {
			close(entered)
			<-release
			return []entity.Message{msg("m1", "u2", "u1", 1000)}, nil
		},
	}
	e := newEngine(ft, Config{})
	e.Select(u1u2)

	done := make(chan struct{})
	go func() {
		e.poll(context.Background())
		close(done)
	}()
	<-entered
	e.Select(u1u2)
	close(release)
	<-done

	if n := len(e.State().Messages); n != 0 {
		t.Fatalf("stale poll merged %d messages", n)
	}
}
