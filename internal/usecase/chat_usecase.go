package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"wachat/internal/entity"
	"wachat/internal/repository"
)

const InvitationMessageMaxLen = 200

var (
	ErrSelfInvitation     = fmt.Errorf("%w: cannot invite yourself", entity.ErrValidation)
	ErrAlreadyInvited     = fmt.Errorf("invitation already sent: %w", entity.ErrConflict)
	ErrNotPending         = fmt.Errorf("invitation has already been answered: %w", entity.ErrConflict)
	ErrInvitationNotFound = fmt.Errorf("invitation %w", entity.ErrNotFound)
	ErrNotInvitee         = fmt.Errorf("only the invited user can respond: %w", entity.ErrForbidden)
)

// InvitationUsecase owns the invitation state machine. A conversation room
// exists once an invitation between its participants has been accepted.
type InvitationUsecase interface {
	Invite(ctx context.Context, fromUserId string, req entity.InviteRequest) (entity.Invitation, error)
	Accept(ctx context.Context, invitationId, userId string) (entity.ChatRoom, error)
	Decline(ctx context.Context, invitationId, userId string) (entity.Invitation, error)
	Pending(ctx context.Context, userId string) ([]entity.Invitation, error)
	Rooms(ctx context.Context, userId string) ([]entity.ChatRoom, error)
}

type invitationUsecase struct {
	invitationRepo repository.InvitationRepository
	chatRepo       repository.ChatRepository
	userRepo       repository.UserRepository
	push           pusher
	logger         *slog.Logger
	now            func() time.Time
}

func NewInvitationUsecase(
	invitationRepo repository.InvitationRepository,
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	publisher Publisher,
	logger *slog.Logger,
) InvitationUsecase {
	return &invitationUsecase{
		invitationRepo: invitationRepo,
		chatRepo:       chatRepo,
		userRepo:       userRepo,
		push:           pusher{publisher: publisher, logger: logger},
		logger:         logger,
		now:            time.Now,
	}
}

func (c *invitationUsecase) Invite(ctx context.Context, fromUserId string, req entity.InviteRequest) (entity.Invitation, error) {
	if err := entity.ValidateUserId(req.ToUserId); err != nil {
		return entity.Invitation{}, err
	}
	if fromUserId == req.ToUserId {
		return entity.Invitation{}, ErrSelfInvitation
	}
	text := strings.TrimSpace(req.Message)
	if utf8.RuneCountInString(text) > InvitationMessageMaxLen {
		return entity.Invitation{}, fmt.Errorf("%w: invitation message cannot exceed %d characters", entity.ErrValidation, InvitationMessageMaxLen)
	}

	from, err := c.userRepo.Get(ctx, fromUserId)
	if err != nil {
		return entity.Invitation{}, err
	}
	to, err := c.userRepo.Get(ctx, req.ToUserId)
	if err != nil {
		return entity.Invitation{}, err
	}

	now := entity.NewTimestamp(c.now())
	invitation := entity.Invitation{
		Id:           entity.InvitationId(from.Id, to.Id),
		FromUserId:   from.Id,
		ToUserId:     to.Id,
		FromUserName: from.Name(),
		ToUserName:   to.Name(),
		Message:      text,
		Status:       entity.InvitationPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.invitationRepo.Create(ctx, invitation); err != nil {
		if errors.Is(err, repository.ErrInvitationPending) {
			return entity.Invitation{}, ErrAlreadyInvited
		}
		return entity.Invitation{}, err
	}

	c.push.toUsers(entity.PushEvent{Type: entity.PushTypeInvitation, Invitation: &invitation}, invitation.ToUserId)
	return invitation, nil
}

func (c *invitationUsecase) Accept(ctx context.Context, invitationId, userId string) (entity.ChatRoom, error) {
	invitation, err := c.respond(ctx, invitationId, userId, entity.InvitationAccepted)
	if err != nil {
		return entity.ChatRoom{}, err
	}

	participants := []string{invitation.FromUserId, invitation.ToUserId}
	sort.Strings(participants)
	now := entity.NewTimestamp(c.now())
	room, err := c.chatRepo.Upsert(ctx, entity.ChatRoom{
		Id:           entity.ConversationKey(invitation.FromUserId, invitation.ToUserId),
		Participants: participants,
		ParticipantNames: map[string]string{
			invitation.FromUserId: invitation.FromUserName,
			invitation.ToUserId:   invitation.ToUserName,
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return entity.ChatRoom{}, err
	}

	c.push.toUsers(entity.PushEvent{Type: entity.PushTypeInvitation, Invitation: &invitation}, invitation.FromUserId)
	c.push.toUsers(entity.PushEvent{Type: entity.PushTypeRoom, ChatId: room.Id, Room: &room}, room.Participants...)
	return room, nil
}

func (c *invitationUsecase) Decline(ctx context.Context, invitationId, userId string) (entity.Invitation, error) {
	invitation, err := c.respond(ctx, invitationId, userId, entity.InvitationDeclined)
	if err != nil {
		return entity.Invitation{}, err
	}

	c.push.toUsers(entity.PushEvent{Type: entity.PushTypeInvitation, Invitation: &invitation}, invitation.FromUserId)
	return invitation, nil
}

func (c *invitationUsecase) respond(ctx context.Context, invitationId, userId string, status entity.InvitationStatus) (entity.Invitation, error) {
	invitation, err := c.invitationRepo.Get(ctx, invitationId)
	if err != nil {
		if errors.Is(err, repository.ErrInvitationNotFound) {
			return entity.Invitation{}, ErrInvitationNotFound
		}
		return entity.Invitation{}, err
	}
	if invitation.ToUserId != userId {
		return entity.Invitation{}, ErrNotInvitee
	}
	if invitation.Status != entity.InvitationPending {
		return entity.Invitation{}, ErrNotPending
	}

	updated, err := c.invitationRepo.Transition(ctx, invitationId, status, entity.NewTimestamp(c.now()))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInvitationSettled):
			return entity.Invitation{}, ErrNotPending
		case errors.Is(err, repository.ErrInvitationNotFound):
			return entity.Invitation{}, ErrInvitationNotFound
		}
		return entity.Invitation{}, err
	}

	c.logger.Info("invitation answered", "invitationId", invitationId, "status", status)
	return updated, nil
}

// Pending returns invitations waiting for userId, newest first.
func (c *invitationUsecase) Pending(ctx context.Context, userId string) ([]entity.Invitation, error) {
	return c.invitationRepo.Pending(ctx, userId)
}

// Rooms returns the conversations of userId, most recently active first.
func (c *invitationUsecase) Rooms(ctx context.Context, userId string) ([]entity.ChatRoom, error) {
	return c.chatRepo.Index(ctx, userId)
}
