package repository

import (
	"fmt"

	"wachat/internal/entity"
)

var (
	ErrUserNotFound       = fmt.Errorf("user %w", entity.ErrNotFound)
	ErrUserExists         = fmt.Errorf("user already exists: %w", entity.ErrConflict)
	ErrMessageNotFound    = fmt.Errorf("message %w", entity.ErrNotFound)
	ErrInvitationNotFound = fmt.Errorf("invitation %w", entity.ErrNotFound)
	ErrInvitationPending  = fmt.Errorf("invitation already pending: %w", entity.ErrConflict)
	ErrInvitationSettled  = fmt.Errorf("invitation is no longer pending: %w", entity.ErrConflict)
	ErrRoomNotFound       = fmt.Errorf("chat room %w", entity.ErrNotFound)
)
