// Package reconcile keeps the client's view of the active conversation
// consistent while messages arrive from optimistic sends, polling and push.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"wachat/internal/client/transport"
	"wachat/internal/entity"

	"github.com/google/uuid"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMessageLimit = 50
	TransientPrefix     = "temp-"
)

// Transport is the part of the backend client the engine needs.
type Transport interface {
	Send(ctx context.Context, senderId, receiverId, text string) (entity.Message, error)
	Fetch(ctx context.Context, conv entity.Conversation, limit int) ([]entity.Message, error)
}

type Config struct {
	PollInterval time.Duration
	MessageLimit int
	// RequireConnection makes SendLocal fail fast while the engine is
	// disconnected.
	RequireConnection bool
	Logger            *slog.Logger
	Now               func() time.Time
}

// State is an immutable snapshot handed to subscribers.
type State struct {
	Conversation entity.Conversation
	Messages     []entity.Message
	Pending      []string
	Loading      bool
	Connected    bool
	Err          error
	Generation   uint64
}

type Engine struct {
	transport Transport
	cfg       Config

	mu          sync.Mutex
	conv        entity.Conversation
	messages    []entity.Message
	ids         map[string]struct{}
	pending     map[string]struct{}
	loading     bool
	connected   bool
	lastErr     error
	generation  uint64
	subscribers map[int]func(State)
	nextSub     int
}

func NewEngine(t Transport, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = DefaultMessageLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		transport:   t,
		cfg:         cfg,
		ids:         make(map[string]struct{}),
		pending:     make(map[string]struct{}),
		connected:   true,
		subscribers: make(map[int]func(State)),
	}
}

// Select makes conv the active conversation and clears everything that
// belonged to the previous one. In-flight results of the previous
// conversation are discarded when they resolve.
func (e *Engine) Select(conv entity.Conversation) {
	e.mu.Lock()
	e.generation++
	e.conv = conv
	e.messages = nil
	e.ids = make(map[string]struct{})
	e.pending = make(map[string]struct{})
	e.loading = false
	e.lastErr = nil
	state := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(state)
}

func (e *Engine) Conversation() entity.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv
}

// LoadInitial replaces the sequence with the latest page from the backend.
// Optimistic entries that are still in flight survive the replacement.
func (e *Engine) LoadInitial(ctx context.Context) error {
	e.mu.Lock()
	if e.conv.IsZero() {
		e.mu.Unlock()
		return ErrNoConversation
	}
	gen, conv := e.generation, e.conv
	e.loading = true
	state := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(state)

	fetched, err := e.transport.Fetch(ctx, conv, e.cfg.MessageLimit)

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.cfg.Logger.Debug("discarding stale initial load", "chatId", conv.Key())
		return nil
	}
	e.loading = false
	if err != nil {
		e.lastErr = err
		e.markTransportFailureLocked(err)
		state = e.snapshotLocked()
		e.mu.Unlock()
		e.notify(state)
		return err
	}

	kept := make([]entity.Message, 0, len(e.pending))
	for _, m := range e.messages {
		if _, ok := e.pending[m.Id]; ok {
			kept = append(kept, m)
		}
	}
	e.messages = nil
	e.ids = make(map[string]struct{})
	e.lastErr = nil
	e.connected = true
	e.insertLocked(fetched)
	e.insertLocked(kept)
	state = e.snapshotLocked()
	e.mu.Unlock()
	e.notify(state)
	return nil
}

// SendLocal shows text immediately under a transient id and then sends it.
// On success the transient entry is replaced by the server copy; on failure
// it is removed and an *UnsentError is returned.
func (e *Engine) SendLocal(ctx context.Context, text string) (entity.Message, error) {
	if err := entity.ValidateMessageText(text); err != nil {
		return entity.Message{}, err
	}

	e.mu.Lock()
	if e.conv.IsZero() {
		e.mu.Unlock()
		return entity.Message{}, ErrNoConversation
	}
	if e.cfg.RequireConnection && !e.connected {
		e.mu.Unlock()
		return entity.Message{}, ErrDisconnected
	}
	gen, conv := e.generation, e.conv
	local := entity.Message{
		Id:         TransientPrefix + uuid.NewString(),
		ChatId:     conv.Key(),
		SenderId:   conv.SelfId,
		ReceiverId: conv.PeerId,
		Text:       text,
		Status:     entity.MessageStatusSent,
		CreatedAt:  entity.NewTimestamp(e.cfg.Now()),
	}
	e.insertLocked([]entity.Message{local})
	e.pending[local.Id] = struct{}{}
	state := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(state)

	echo, err := e.transport.Send(ctx, conv.SelfId, conv.PeerId, text)

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		if err != nil {
			return entity.Message{}, &UnsentError{Text: text, Err: err}
		}
		return echo, nil
	}
	delete(e.pending, local.Id)
	if err != nil {
		e.removeLocked(local.Id)
		e.lastErr = err
		e.markTransportFailureLocked(err)
		state = e.snapshotLocked()
		e.mu.Unlock()
		e.notify(state)
		return entity.Message{}, &UnsentError{Text: text, Err: err}
	}

	if echo.Id == "" {
		echo.Id = local.Id
	}
	if echo.ChatId == "" {
		echo.ChatId = conv.Key()
	}
	if _, merged := e.ids[echo.Id]; merged && echo.Id != local.Id {
		e.removeLocked(local.Id)
	} else {
		e.replaceLocked(local.Id, echo)
	}
	e.lastErr = nil
	state = e.snapshotLocked()
	e.mu.Unlock()
	e.notify(state)
	return echo, nil
}

// Merge adds incoming messages of the active conversation that are not
// already present and reports how many were added. Merging the same batch
// twice has no further effect.
func (e *Engine) Merge(incoming []entity.Message) int {
	e.mu.Lock()
	added := e.insertLocked(incoming)
	if added == 0 {
		e.mu.Unlock()
		return 0
	}
	state := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(state)
	return added
}

// HandlePush applies a push event. Message events of the active conversation
// are merged; read acknowledgements update the status in place. Everything
// else is ignored. It reports whether the state changed.
func (e *Engine) HandlePush(event entity.PushEvent) bool {
	switch event.Type {
	case entity.PushTypeMessage:
		if event.Message == nil {
			return false
		}
		e.mu.Lock()
		key := e.conv.Key()
		active := !e.conv.IsZero() && (event.ChatId == "" || event.ChatId == key)
		e.mu.Unlock()
		if !active {
			return false
		}
		return e.Merge([]entity.Message{*event.Message}) > 0

	case entity.PushTypeRead:
		e.mu.Lock()
		if e.conv.IsZero() || event.ChatId != e.conv.Key() {
			e.mu.Unlock()
			return false
		}
		changed := false
		for i := range e.messages {
			if e.messages[i].Id == event.MessageId && e.messages[i].Status != entity.MessageStatusRead {
				e.messages[i].Status = entity.MessageStatusRead
				changed = true
				break
			}
		}
		if !changed {
			e.mu.Unlock()
			return false
		}
		state := e.snapshotLocked()
		e.mu.Unlock()
		e.notify(state)
		return true
	}
	return false
}

func (e *Engine) SetConnected(connected bool) {
	e.mu.Lock()
	if e.connected == connected {
		e.mu.Unlock()
		return
	}
	e.connected = connected
	state := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(state)
}

func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers fn for every state change and returns a function that
// removes it. fn is called without engine locks held.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// poll fetches once and merges the result unless the conversation changed
// while the request was in flight. It also runs while disconnected: a
// successful poll is what brings the engine back online.
func (e *Engine) poll(ctx context.Context) {
	e.mu.Lock()
	if e.conv.IsZero() {
		e.mu.Unlock()
		return
	}
	gen, conv := e.generation, e.conv
	e.mu.Unlock()

	fetched, err := e.transport.Fetch(ctx, conv, e.cfg.MessageLimit)
	if ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.cfg.Logger.Warn("poll failed", "chatId", conv.Key(), "error", err)
		e.lastErr = err
		e.markTransportFailureLocked(err)
		state := e.snapshotLocked()
		e.mu.Unlock()
		e.notify(state)
		return
	}
	changed := !e.connected || e.lastErr != nil
	e.connected = true
	e.lastErr = nil
	if e.insertLocked(fetched) > 0 {
		changed = true
	}
	if !changed {
		e.mu.Unlock()
		return
	}
	state := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(state)
}

// insertLocked places each new message of the active conversation after
// every message with an equal or earlier timestamp.
func (e *Engine) insertLocked(incoming []entity.Message) int {
	added := 0
	for _, m := range incoming {
		if m.Id == "" || !e.conv.Includes(m) {
			continue
		}
		if _, ok := e.ids[m.Id]; ok {
			continue
		}
		if m.ChatId == "" {
			m.ChatId = e.conv.Key()
		}
		i := sort.Search(len(e.messages), func(i int) bool {
			return e.messages[i].CreatedAt > m.CreatedAt
		})
		e.messages = append(e.messages, entity.Message{})
		copy(e.messages[i+1:], e.messages[i:])
		e.messages[i] = m
		e.ids[m.Id] = struct{}{}
		added++
	}
	return added
}

func (e *Engine) removeLocked(id string) {
	for i := range e.messages {
		if e.messages[i].Id == id {
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
			break
		}
	}
	delete(e.ids, id)
}

// replaceLocked swaps the entry with id for m, keeping its position unless
// that would break the ascending order.
func (e *Engine) replaceLocked(id string, m entity.Message) {
	for i := range e.messages {
		if e.messages[i].Id != id {
			continue
		}
		delete(e.ids, id)
		inOrder := (i == 0 || e.messages[i-1].CreatedAt <= m.CreatedAt) &&
			(i == len(e.messages)-1 || m.CreatedAt <= e.messages[i+1].CreatedAt)
		if inOrder {
			e.messages[i] = m
			e.ids[m.Id] = struct{}{}
			return
		}
		e.messages = append(e.messages[:i], e.messages[i+1:]...)
		e.insertLocked([]entity.Message{m})
		return
	}
	e.insertLocked([]entity.Message{m})
}

// A request that never reached the backend means we are offline; a status
// code means the backend answered.
func (e *Engine) markTransportFailureLocked(err error) {
	var te *transport.TransportError
	if errors.As(err, &te) && te.StatusCode == 0 {
		e.connected = false
	}
}

func (e *Engine) snapshotLocked() State {
	messages := make([]entity.Message, len(e.messages))
	copy(messages, e.messages)
	pending := make([]string, 0, len(e.pending))
	for _, m := range e.messages {
		if _, ok := e.pending[m.Id]; ok {
			pending = append(pending, m.Id)
		}
	}
	return State{
		Conversation: e.conv,
		Messages:     messages,
		Pending:      pending,
		Loading:      e.loading,
		Connected:    e.connected,
		Err:          e.lastErr,
		Generation:   e.generation,
	}
}

func (e *Engine) notify(state State) {
	e.mu.Lock()
	subs := make([]func(State), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}
