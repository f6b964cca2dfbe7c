package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"wachat/infrastructure/storage/s3"
	"wachat/internal/entity"
	"wachat/internal/repository"
	"wachat/pkg/identity"
)

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
	DisplayNameMaxLen  = 50
	StatusMaxLen       = 140
	PhotoMaxBytes      = 5 << 20
)

var ErrInvalidPhoto = fmt.Errorf("%w: photo must be an image of at most 5 MB", entity.ErrValidation)

type UserUsecase interface {
	Get(ctx context.Context, userId string) (entity.User, error)
	GetByPhone(ctx context.Context, phoneNumber string) (entity.UserSummary, error)
	Search(ctx context.Context, callerId, query string, limit int) ([]entity.UserSummary, error)
	List(ctx context.Context, callerId string, limit int) ([]entity.UserSummary, error)
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	UpdateProfile(ctx context.Context, userId string, req entity.UpdateProfileRequest) (entity.User, error)
	SetPhoto(ctx context.Context, userId string, photo io.Reader, size int64, contentType string) (string, error)
	SetOnline(ctx context.Context, userId string) error
	SetOffline(ctx context.Context, userId string) error
}

type userUsecase struct {
	userRepo repository.UserRepository
	mapper   identity.Mapper
	uploader s3.Uploader
	logger   *slog.Logger
	now      func() time.Time
}

func NewUserUseCase(userRepo repository.UserRepository, mapper identity.Mapper, uploader s3.Uploader, logger *slog.Logger) UserUsecase {
	if uploader == nil {
		uploader = s3.Disabled{}
	}
	return &userUsecase{
		userRepo: userRepo,
		mapper:   mapper,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

func (u *userUsecase) Get(ctx context.Context, userId string) (entity.User, error) {
	user, err := u.userRepo.Get(ctx, userId)
	if err != nil {
		return entity.User{}, err
	}

	user.Password = ""
	return user, nil
}

func (u *userUsecase) GetByPhone(ctx context.Context, phoneNumber string) (entity.UserSummary, error) {
	phone, err := u.mapper.Normalize(phoneNumber)
	if err != nil {
		return entity.UserSummary{}, err
	}
	user, err := u.userRepo.GetByPhone(ctx, phone)
	if err != nil {
		return entity.UserSummary{}, err
	}
	return user.Summary(), nil
}

// Search finds users whose username starts with query. The caller is never
// part of the result.
func (u *userUsecase) Search(ctx context.Context, callerId, query string, limit int) ([]entity.UserSummary, error) {
	prefix := strings.ToLower(strings.TrimSpace(query))
	if prefix == "" {
		return []entity.UserSummary{}, nil
	}

	users, err := u.userRepo.Search(ctx, entity.UserSearchFilter{
		Prefix: prefix,
		Limit:  clampLimit(limit, DefaultSearchLimit, MaxSearchLimit),
	}, callerId)
	if err != nil {
		return nil, err
	}
	return summaries(users), nil
}

func (u *userUsecase) List(ctx context.Context, callerId string, limit int) ([]entity.UserSummary, error) {
	users, err := u.userRepo.List(ctx, clampLimit(limit, MaxSearchLimit, MaxSearchLimit), callerId)
	if err != nil {
		return nil, err
	}
	return summaries(users), nil
}

func (u *userUsecase) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	normalized, err := entity.NormalizeUsername(username)
	if err != nil {
		return false, err
	}
	exists, err := u.userRepo.UsernameExists(ctx, normalized)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (u *userUsecase) UpdateProfile(ctx context.Context, userId string, req entity.UpdateProfileRequest) (entity.User, error) {
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if utf8.RuneCountInString(name) > DisplayNameMaxLen {
			return entity.User{}, fmt.Errorf("%w: display name cannot exceed %d characters", entity.ErrValidation, DisplayNameMaxLen)
		}
		req.DisplayName = &name
	}
	if req.Status != nil {
		status := strings.TrimSpace(*req.Status)
		if utf8.RuneCountInString(status) > StatusMaxLen {
			return entity.User{}, fmt.Errorf("%w: status cannot exceed %d characters", entity.ErrValidation, StatusMaxLen)
		}
		req.Status = &status
	}
	if req.DisplayName == nil && req.Status == nil {
		return entity.User{}, fmt.Errorf("%w: nothing to update", entity.ErrValidation)
	}

	user, err := u.userRepo.UpdateProfile(ctx, userId, req)
	if err != nil {
		return entity.User{}, err
	}
	user.Password = ""
	return user, nil
}

func (u *userUsecase) SetPhoto(ctx context.Context, userId string, photo io.Reader, size int64, contentType string) (string, error) {
	if size <= 0 || size > PhotoMaxBytes || !strings.HasPrefix(contentType, "image/") {
		return "", ErrInvalidPhoto
	}

	key := fmt.Sprintf("profile-photos/%s/%d", userId, u.now().UnixMilli())
	url, err := u.uploader.Upload(ctx, key, photo, size, contentType)
	if err != nil {
		return "", err
	}
	if err := u.userRepo.SetPhoto(ctx, userId, url); err != nil {
		return "", err
	}
	return url, nil
}

func (u *userUsecase) SetOnline(ctx context.Context, userId string) error {
	return u.userRepo.SetPresence(ctx, userId, entity.PresenceOnline, u.now())
}

func (u *userUsecase) SetOffline(ctx context.Context, userId string) error {
	return u.userRepo.SetPresence(ctx, userId, entity.PresenceOffline, u.now())
}

func summaries(users []entity.User) []entity.UserSummary {
	out := make([]entity.UserSummary, 0, len(users))
	for _, user := range users {
		out = append(out, user.Summary())
	}
	return out
}

func clampLimit(limit, def, ceiling int) int {
	if limit <= 0 {
		return def
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
