package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"wachat/internal/entity"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("transport: push channel not connected")

const pushWriteWait = 10 * time.Second

type PushConfig struct {
	// URL of the websocket endpoint, e.g. wss://chat.example.com/ws.
	URL string
	// UserId of the session, sent along with subscriptions.
	UserId         string
	Dialer         *websocket.Dialer
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// PushChannel keeps a websocket to the backend open, re-dialing with
// exponential backoff. Chat subscriptions are replayed after every reconnect.
type PushChannel struct {
	cfg   PushConfig
	token func() string

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      map[string]entity.PushCommand
	onEvent   func(entity.PushEvent)
	onState   func(bool)
	writeLock sync.Mutex
}

// NewPushChannel builds a channel that authenticates with whatever token
// returns at dial time.
func NewPushChannel(cfg PushConfig, token func() string) *PushChannel {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PushChannel{
		cfg:   cfg,
		token: token,
		subs:  make(map[string]entity.PushCommand),
	}
}

// OnEvent registers the handler for server frames. It runs on the reader
// goroutine and must not block.
func (p *PushChannel) OnEvent(fn func(entity.PushEvent)) {
	p.mu.Lock()
	p.onEvent = fn
	p.mu.Unlock()
}

// OnState is called with true after each successful dial and false when the
// connection drops.
func (p *PushChannel) OnState(fn func(bool)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *PushChannel) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Run dials and reads until ctx is cancelled.
func (p *PushChannel) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.MaxInterval = p.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	for {
		conn, err := p.dial(ctx)
		if err == nil {
			b.Reset()
			p.serve(ctx, conn)
		} else if ctx.Err() == nil {
			p.cfg.Logger.Warn("push channel dial failed", "error", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := b.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Subscribe asks for the message events of chatId. The subscription is
// remembered and replayed on reconnect, so it may be called while offline.
func (p *PushChannel) Subscribe(chatId string) error {
	cmd := entity.PushCommand{Action: entity.PushActionSubscribe, ChatId: chatId, UserId: p.cfg.UserId}
	p.mu.Lock()
	p.subs[chatId] = cmd
	p.mu.Unlock()
	err := p.send(cmd)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (p *PushChannel) Unsubscribe(chatId string) error {
	p.mu.Lock()
	delete(p.subs, chatId)
	p.mu.Unlock()
	err := p.send(entity.PushCommand{Action: entity.PushActionUnsubscribe, ChatId: chatId, UserId: p.cfg.UserId})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// MarkRead acknowledges a received message.
func (p *PushChannel) MarkRead(messageId string) error {
	return p.send(entity.PushCommand{Action: entity.PushActionRead, MessageId: messageId})
}

func (p *PushChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	q := target.Query()
	if p.token != nil {
		q.Set("token", p.token())
	}
	target.RawQuery = q.Encode()

	conn, resp, err := p.cfg.Dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &TransportError{Err: err}
	}
	return conn, nil
}

func (p *PushChannel) serve(ctx context.Context, conn *websocket.Conn) {
	p.mu.Lock()
	p.conn = conn
	replay := make([]entity.PushCommand, 0, len(p.subs))
	for _, cmd := range p.subs {
		replay = append(replay, cmd)
	}
	onState := p.onState
	p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, cmd := range replay {
		if err := p.send(cmd); err != nil {
			p.cfg.Logger.Warn("push resubscribe failed", "chatId", cmd.ChatId, "error", err)
		}
	}
	if onState != nil {
		onState(true)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				p.cfg.Logger.Info("push channel closed", "error", err)
			}
			break
		}
		var event entity.PushEvent
		if err := json.Unmarshal(data, &event); err != nil {
			p.cfg.Logger.Warn("malformed push event", "error", err)
			continue
		}
		p.mu.Lock()
		onEvent := p.onEvent
		p.mu.Unlock()
		if onEvent != nil {
			onEvent(event)
		}
	}

	p.mu.Lock()
	p.conn = nil
	onState = p.onState
	p.mu.Unlock()
	conn.Close()
	if onState != nil {
		onState(false)
	}
}

func (p *PushChannel) send(cmd entity.PushCommand) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}
