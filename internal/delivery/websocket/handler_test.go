package websocket

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wachat/infrastructure/obs"
	"wachat/infrastructure/ws"
	"wachat/internal/entity"
	"wachat/internal/usecase"

	"github.com/gorilla/websocket"
)

type tokenAuth struct {
	usecase.AuthUsecase
}

// ValidateAccessToken accepts tokens of the form "token-<userId>".
func (tokenAuth) ValidateAccessToken(token string) (*entity.TokenClaims, error) {
	userId, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return nil, errors.New("bad token")
	}
	return &entity.TokenClaims{UserId: userId}, nil
}

type readRecorder struct {
	usecase.MessageUsecase
	reads chan string
}

func (r readRecorder) MarkRead(_ context.Context, messageId, readerId string) (entity.Message, error) {
	r.reads <- readerId + ":" + messageId
	return entity.Message{Id: messageId}, nil
}

func newServer(t *testing.T) (*httptest.Server, ws.IHub, readRecorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(obs.Discard())
	go hub.Run(ctx)

	reads := readRecorder{reads: make(chan string, 1)}
	srv := httptest.NewServer(NewWebsocketHandler(hub, tokenAuth{}, reads, "*", obs.Discard()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub, reads
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, cmd entity.PushCommand) entity.PushEvent {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write: %v", err)
	}
	return next(t, conn)
}

func next(t *testing.T, conn *websocket.Conn) entity.PushEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event entity.PushEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	return event
}

func TestRejectsMissingToken(t *testing.T) {
	srv, _, _ := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("response %+v", resp)
	}
}

func TestSubscribeAndReceive(t *testing.T) {
	srv, hub, _ := newServer(t)
	conn := dial(t, srv, "token-u1")

	if err := conn.WriteJSON(entity.PushCommand{Action: entity.PushActionSubscribe, UserId: "u2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// commands are handled in order, so the pong proves the subscription is in place
	if ev := roundTrip(t, conn, entity.PushCommand{Action: entity.PushActionPing}); ev.Type != entity.PushTypePong {
		t.Fatalf("got %+v", ev)
	}

	hub.PublishToChat("chat_u1_u2", []byte(`{"type":"message","chatId":"chat_u1_u2","message":{"id":"m100","senderId":"u2","receiverId":"u1","message":"hello","createdAt":1}}`))
	ev := next(t, conn)
	if ev.Type != entity.PushTypeMessage || ev.Message == nil || ev.Message.Id != "m100" {
		t.Fatalf("got %+v", ev)
	}
}

func TestSubscribeToForeignConversation(t *testing.T) {
	srv, _, _ := newServer(t)
	conn := dial(t, srv, "token-u1")

	ev := roundTrip(t, conn, entity.PushCommand{Action: entity.PushActionSubscribe, ChatId: "chat_u2_u3"})
	if ev.Type != entity.PushTypeError || ev.ChatId != "chat_u2_u3" {
		t.Fatalf("got %+v", ev)
	}
}

func TestReadAcknowledgement(t *testing.T) {
	srv, _, reads := newServer(t)
	conn := dial(t, srv, "token-u2")

	if err := conn.WriteJSON(entity.PushCommand{Action: entity.PushActionRead, MessageId: "m1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-reads.reads:
		if got != "u2:m1" {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read acknowledgement not handled")
	}
}

func TestUnknownAction(t *testing.T) {
	srv, _, _ := newServer(t)
	conn := dial(t, srv, "token-u1")
	if ev := roundTrip(t, conn, entity.PushCommand{Action: "dance"}); ev.Type != entity.PushTypeError {
		t.Fatalf("got %+v", ev)
	}
}
