package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wachat/internal/entity"
	"wachat/internal/repository"

	"github.com/google/uuid"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 500
)

var (
	ErrSelfMessage = fmt.Errorf("%w: sender and receiver must differ", entity.ErrValidation)
	ErrNoRoom      = fmt.Errorf("%w: no accepted invitation between these users", entity.ErrForbidden)
)

type MessageUsecase interface {
	Send(ctx context.Context, req entity.SendMessageRequest) (entity.Message, error)
	List(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error)
	MarkRead(ctx context.Context, messageId, readerId string) (entity.Message, error)
}

type messageUsecase struct {
	messageRepo repository.MessageRepository
	chatRepo    repository.ChatRepository
	push        pusher
	logger      *slog.Logger
	now         func() time.Time
}

func NewMessageUseCase(
	messageRepo repository.MessageRepository,
	chatRepo repository.ChatRepository,
	publisher Publisher,
	logger *slog.Logger,
) MessageUsecase {
	return &messageUsecase{
		messageRepo: messageRepo,
		chatRepo:    chatRepo,
		push:        pusher{publisher: publisher, logger: logger},
		logger:      logger,
		now:         time.Now,
	}
}

// Send persists a message and pushes it to subscribers of the conversation.
// The two users must share a room, i.e. an invitation between them was accepted.
func (m *messageUsecase) Send(ctx context.Context, req entity.SendMessageRequest) (entity.Message, error) {
	if err := entity.ValidateUserId(req.SenderId); err != nil {
		return entity.Message{}, fmt.Errorf("sender: %w", err)
	}
	if err := entity.ValidateUserId(req.ReceiverId); err != nil {
		return entity.Message{}, fmt.Errorf("receiver: %w", err)
	}
	if req.SenderId == req.ReceiverId {
		return entity.Message{}, ErrSelfMessage
	}
	if err := entity.ValidateMessageText(req.Message); err != nil {
		return entity.Message{}, err
	}

	chatId := entity.ConversationKey(req.SenderId, req.ReceiverId)
	if _, err := m.chatRepo.Get(ctx, chatId); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return entity.Message{}, ErrNoRoom
		}
		return entity.Message{}, err
	}

	message := entity.Message{
		Id:         uuid.New().String(),
		ChatId:     chatId,
		SenderId:   req.SenderId,
		ReceiverId: req.ReceiverId,
		Text:       req.Message,
		Status:     entity.MessageStatusSent,
		CreatedAt:  entity.NewTimestamp(m.now()),
	}

	if _, err := m.messageRepo.Create(ctx, message); err != nil {
		return entity.Message{}, err
	}

	m.push.toChat(message.ChatId, entity.PushEvent{
		Type:    entity.PushTypeMessage,
		ChatId:  message.ChatId,
		Message: &message,
	})
	m.refreshRoom(ctx, message)

	return message, nil
}

// refreshRoom updates the conversation summary. The message is already
// stored, so failures here are only logged.
func (m *messageUsecase) refreshRoom(ctx context.Context, message entity.Message) {
	if err := m.chatRepo.UpdateLastMessage(ctx, message); err != nil {
		m.logger.Warn("update room summary failed", "chatId", message.ChatId, "error", err)
		return
	}
	room, err := m.chatRepo.Get(ctx, message.ChatId)
	if err != nil {
		if !errors.Is(err, repository.ErrRoomNotFound) {
			m.logger.Warn("load room failed", "chatId", message.ChatId, "error", err)
		}
		return
	}
	m.push.toUsers(entity.PushEvent{Type: entity.PushTypeRoom, ChatId: room.Id, Room: &room}, room.Participants...)
}

func (m *messageUsecase) List(ctx context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	filter.Limit = clampLimit(filter.Limit, DefaultMessageLimit, MaxMessageLimit)
	return m.messageRepo.Index(ctx, filter)
}

func (m *messageUsecase) MarkRead(ctx context.Context, messageId, readerId string) (entity.Message, error) {
	if messageId == "" {
		return entity.Message{}, fmt.Errorf("%w: message id is required", entity.ErrValidation)
	}
	message, err := m.messageRepo.MarkRead(ctx, messageId, readerId)
	if err != nil {
		return entity.Message{}, err
	}

	m.push.toChat(message.ChatId, entity.PushEvent{
		Type:      entity.PushTypeRead,
		ChatId:    message.ChatId,
		MessageId: message.Id,
	})
	return message, nil
}
