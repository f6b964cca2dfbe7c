// Package selection switches the active conversation and exposes the
// invitation workflow to the client.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"wachat/internal/client/reconcile"
	"wachat/internal/client/transport"
	"wachat/internal/entity"
)

var ErrSelfConversation = fmt.Errorf("%w: cannot open a conversation with yourself", entity.ErrValidation)

type InvitationAPI interface {
	Invite(ctx context.Context, toUserId, message string) (entity.Invitation, error)
	Accept(ctx context.Context, invitationId string) (entity.ChatRoom, error)
	Decline(ctx context.Context, invitationId string) (entity.Invitation, error)
	PendingInvitations(ctx context.Context) ([]entity.Invitation, error)
	Rooms(ctx context.Context) ([]entity.ChatRoom, error)
}

// PushSubscriber is satisfied by *transport.PushChannel.
type PushSubscriber interface {
	Subscribe(chatId string) error
	Unsubscribe(chatId string) error
}

// Hooks receive the push events that are not about the active conversation.
type Hooks struct {
	OnInvitation func(entity.Invitation)
	OnRoom       func(entity.ChatRoom)
}

type Selector struct {
	session transport.Session
	engine  *reconcile.Engine
	api     InvitationAPI
	push    PushSubscriber
	hooks   Hooks
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	poller *reconcile.Poller
	active string
	closed bool
}

// NewSelector wires the engine to the invitation API. push may be nil when
// real-time messaging is disabled; polling alone then keeps the view fresh.
func NewSelector(session transport.Session, engine *reconcile.Engine, api InvitationAPI, push PushSubscriber, hooks Hooks, logger *slog.Logger) *Selector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Selector{
		session: session,
		engine:  engine,
		api:     api,
		push:    push,
		hooks:   hooks,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SelectConversation opens the conversation with otherUserId: the previous
// poller is stopped, the push subscription moved, the latest page loaded
// and polling started. A failed initial load is returned but polling still
// runs so the view recovers on its own.
func (s *Selector) SelectConversation(ctx context.Context, otherUserId string) error {
	if err := entity.ValidateUserId(otherUserId); err != nil {
		return err
	}
	if otherUserId == s.session.UserId {
		return ErrSelfConversation
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}

	s.teardownLocked()

	conv := s.session.Conversation(otherUserId)
	s.engine.Select(conv)
	s.active = conv.Key()
	if s.push != nil {
		if err := s.push.Subscribe(s.active); err != nil {
			s.logger.Warn("push subscribe failed", "chatId", s.active, "error", err)
		}
	}

	loadErr := s.engine.LoadInitial(ctx)
	s.poller = s.engine.StartPolling(s.ctx)
	if loadErr != nil {
		return fmt.Errorf("load conversation: %w", loadErr)
	}
	return nil
}

// Active returns the key of the open conversation, or "".
func (s *Selector) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Send sends text in the open conversation.
func (s *Selector) Send(ctx context.Context, text string) (entity.Message, error) {
	return s.engine.SendLocal(ctx, text)
}

// HandlePush routes a push event to the engine or to the hooks.
func (s *Selector) HandlePush(event entity.PushEvent) {
	switch event.Type {
	case entity.PushTypeMessage, entity.PushTypeRead:
		s.engine.HandlePush(event)
	case entity.PushTypeInvitation:
		if event.Invitation != nil && s.hooks.OnInvitation != nil {
			s.hooks.OnInvitation(*event.Invitation)
		}
	case entity.PushTypeRoom:
		if event.Room != nil && s.hooks.OnRoom != nil {
			s.hooks.OnRoom(*event.Room)
		}
	case entity.PushTypeError:
		s.logger.Warn("push error", "error", event.Error)
	}
}

// Close stops polling and drops the push subscription. The selector cannot
// be reused afterwards.
func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.teardownLocked()
	s.closed = true
	s.cancel()
}

func (s *Selector) teardownLocked() {
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	if s.active != "" && s.push != nil {
		if err := s.push.Unsubscribe(s.active); err != nil {
			s.logger.Warn("push unsubscribe failed", "chatId", s.active, "error", err)
		}
	}
	s.active = ""
}

func (s *Selector) Invite(ctx context.Context, toUserId, message string) (entity.Invitation, error) {
	return s.api.Invite(ctx, toUserId, message)
}

func (s *Selector) Accept(ctx context.Context, invitationId string) (entity.ChatRoom, error) {
	return s.api.Accept(ctx, invitationId)
}

func (s *Selector) Decline(ctx context.Context, invitationId string) (entity.Invitation, error) {
	return s.api.Decline(ctx, invitationId)
}

func (s *Selector) PendingInvitations(ctx context.Context) ([]entity.Invitation, error) {
	return s.api.PendingInvitations(ctx)
}

func (s *Selector) Rooms(ctx context.Context) ([]entity.ChatRoom, error) {
	return s.api.Rooms(ctx)
}
