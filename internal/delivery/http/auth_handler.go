package http

import (
	"log/slog"
	"net/http"

	"wachat/internal/entity"
	"wachat/internal/usecase"
)

type AuthHandler struct {
	authUc usecase.AuthUsecase
	logger *slog.Logger
}

func NewAuthHandler(authUc usecase.AuthUsecase, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authUc: authUc,
		logger: logger,
	}
}

// POST /auth/otp
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req entity.OTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	if err := h.authUc.RequestOTP(r.Context(), req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, Response{Message: "verification code sent"})
}

// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req entity.SignUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	user, err := h.authUc.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	h.logger.Info("user signed up", "userId", user.Id)
	writeSuccess(w, http.StatusCreated, user)
}

// POST /auth/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req entity.VerifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	authResponse, err := h.authUc.VerifyOTP(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, authResponse)
}
