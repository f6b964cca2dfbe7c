package usecase

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"wachat/infrastructure/cache"
	"wachat/internal/entity"
	"wachat/internal/repository"
	"wachat/pkg/identity"
	"wachat/pkg/jwt"

	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

const (
	PasswordMinEntropyBits = 30
	otpDigits              = 6
)

var (
	ErrInvalidCredentials     = fmt.Errorf("invalid phone number or password: %w", entity.ErrUnauthorized)
	ErrPhoneAlreadyRegistered = fmt.Errorf("phone number already registered: %w", entity.ErrConflict)
	ErrUsernameAlreadyTaken   = fmt.Errorf("username already taken: %w", entity.ErrConflict)
	ErrInvalidOTP             = fmt.Errorf("invalid verification code: %w", entity.ErrUnauthorized)
	ErrOTPExpired             = fmt.Errorf("verification code expired or was never requested: %w", entity.ErrUnauthorized)
	ErrTooManyOTPAttempts     = fmt.Errorf("too many verification attempts: %w", entity.ErrUnauthorized)
)

// CodeSender delivers one-time codes to a phone number.
type CodeSender interface {
	SendCode(ctx context.Context, phoneNumber, code string) error
}

// LogCodeSender writes codes to the log. It stands in for an SMS gateway.
type LogCodeSender struct {
	Logger *slog.Logger
}

func (s LogCodeSender) SendCode(_ context.Context, phoneNumber, code string) error {
	s.Logger.Info("verification code issued", "phoneNumber", phoneNumber, "code", code)
	return nil
}

type AuthConfig struct {
	OTPTTL         time.Duration
	OTPMaxAttempts int
}

type AuthUsecase interface {
	RequestOTP(ctx context.Context, req entity.OTPRequest) error
	SignUp(ctx context.Context, req entity.SignUpRequest) (entity.User, error)
	VerifyOTP(ctx context.Context, req entity.VerifyOTPRequest) (entity.AuthResponse, error)
	ValidateAccessToken(token string) (*entity.TokenClaims, error)
}

type authUsecase struct {
	userRepo   repository.UserRepository
	store      cache.Store
	sender     CodeSender
	mapper     identity.Mapper
	jwtManager *jwt.JWTManager
	cfg        AuthConfig
}

func NewAuthUsecase(
	userRepo repository.UserRepository,
	store cache.Store,
	sender CodeSender,
	mapper identity.Mapper,
	jwtManager *jwt.JWTManager,
	cfg AuthConfig,
) AuthUsecase {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	if cfg.OTPMaxAttempts <= 0 {
		cfg.OTPMaxAttempts = 5
	}
	return &authUsecase{
		userRepo:   userRepo,
		store:      store,
		sender:     sender,
		mapper:     mapper,
		jwtManager: jwtManager,
		cfg:        cfg,
	}
}

func (u *authUsecase) RequestOTP(ctx context.Context, req entity.OTPRequest) error {
	phone, err := u.mapper.Normalize(req.PhoneNumber)
	if err != nil {
		return err
	}

	code, err := generateCode(otpDigits)
	if err != nil {
		return err
	}

	if err := u.store.Set(ctx, otpKey(phone), code, u.cfg.OTPTTL); err != nil {
		return err
	}
	// a fresh code resets the attempt budget
	if err := u.store.Delete(ctx, otpAttemptsKey(phone)); err != nil {
		return err
	}

	return u.sender.SendCode(ctx, phone, code)
}

func (u *authUsecase) SignUp(ctx context.Context, req entity.SignUpRequest) (entity.User, error) {
	phone, err := u.mapper.Normalize(req.PhoneNumber)
	if err != nil {
		return entity.User{}, err
	}
	username, err := entity.NormalizeUsername(req.Username)
	if err != nil {
		return entity.User{}, err
	}
	if err := passwordvalidator.Validate(req.Password, PasswordMinEntropyBits); err != nil {
		return entity.User{}, fmt.Errorf("%w: %s", entity.ErrValidation, err.Error())
	}

	// Check if phone number already exists
	phoneExists, err := u.userRepo.PhoneExists(ctx, phone)
	if err != nil {
		return entity.User{}, err
	}
	if phoneExists {
		return entity.User{}, ErrPhoneAlreadyRegistered
	}

	// Check if username already exists
	usernameExists, err := u.userRepo.UsernameExists(ctx, username)
	if err != nil {
		return entity.User{}, err
	}
	if usernameExists {
		return entity.User{}, ErrUsernameAlreadyTaken
	}

	loginId, err := u.mapper.ToLoginIdentifier(phone)
	if err != nil {
		return entity.User{}, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return entity.User{}, err
	}

	user := entity.User{
		Username:    username,
		LoginId:     loginId,
		PhoneNumber: phone,
		Password:    string(hashedPassword),
		Presence:    entity.PresenceOffline,
	}

	userId, err := u.userRepo.Create(ctx, user)
	if err != nil {
		// lost a race against a concurrent sign-up
		if errors.Is(err, repository.ErrUserExists) {
			return entity.User{}, ErrUsernameAlreadyTaken
		}
		return entity.User{}, err
	}

	user.Id = userId
	user.Password = ""
	return user, nil
}

func (u *authUsecase) VerifyOTP(ctx context.Context, req entity.VerifyOTPRequest) (entity.AuthResponse, error) {
	phone, err := u.mapper.Normalize(req.PhoneNumber)
	if err != nil {
		return entity.AuthResponse{}, err
	}

	attempts, err := u.store.Increment(ctx, otpAttemptsKey(phone), u.cfg.OTPTTL)
	if err != nil {
		return entity.AuthResponse{}, err
	}
	if attempts > int64(u.cfg.OTPMaxAttempts) {
		return entity.AuthResponse{}, ErrTooManyOTPAttempts
	}

	code, ok, err := u.store.Get(ctx, otpKey(phone))
	if err != nil {
		return entity.AuthResponse{}, err
	}
	if !ok {
		return entity.AuthResponse{}, ErrOTPExpired
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(req.Code)) != 1 {
		return entity.AuthResponse{}, ErrInvalidOTP
	}

	loginId, err := u.mapper.ToLoginIdentifier(phone)
	if err != nil {
		return entity.AuthResponse{}, err
	}
	user, err := u.userRepo.GetByLoginId(ctx, loginId)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return entity.AuthResponse{}, ErrInvalidCredentials
		}
		return entity.AuthResponse{}, err
	}

	// Compare password
	err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password))
	if err != nil {
		return entity.AuthResponse{}, ErrInvalidCredentials
	}

	// the code is single use
	if err := u.store.Delete(ctx, otpKey(phone)); err != nil {
		return entity.AuthResponse{}, err
	}
	if err := u.store.Delete(ctx, otpAttemptsKey(phone)); err != nil {
		return entity.AuthResponse{}, err
	}

	accessToken, expiresAt, err := u.jwtManager.GenerateAccessToken(user)
	if err != nil {
		return entity.AuthResponse{}, err
	}

	// Remove password from response
	user.Password = ""

	return entity.AuthResponse{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt.UnixMilli(),
		User:        user,
	}, nil
}

func (u *authUsecase) ValidateAccessToken(token string) (*entity.TokenClaims, error) {
	return u.jwtManager.ValidateAccessToken(token)
}

func generateCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

func otpKey(phone string) string {
	return "otp:" + phone
}

func otpAttemptsKey(phone string) string {
	return "otp-attempts:" + phone
}
