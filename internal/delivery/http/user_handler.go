package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"wachat/internal/entity"
	"wachat/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type UserHandler struct {
	userUc usecase.UserUsecase
	logger *slog.Logger
}

func NewUserHandler(userUc usecase.UserUsecase, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		userUc: userUc,
		logger: logger,
	}
}

// GET /users/search?q=&limit=
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	users, err := h.userUc.Search(r.Context(), claims.UserId, r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, users)
}

// GET /users?limit=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	users, err := h.userUc.List(r.Context(), claims.UserId, limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, users)
}

// GET /users/by-phone?phone=
func (h *UserHandler) GetByPhone(w http.ResponseWriter, r *http.Request) {
	user, err := h.userUc.GetByPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, user)
}

// GET /users/username-available?username=
func (h *UserHandler) UsernameAvailable(w http.ResponseWriter, r *http.Request) {
	available, err := h.userUc.UsernameAvailable(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"available": available})
}

// GET /users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.userUc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, user.Summary())
}

// GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	user, err := h.userUc.Get(r.Context(), claims.UserId)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, user)
}

// PUT /users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req entity.UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	user, err := h.userUc.UpdateProfile(r.Context(), claims.UserId, req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, user)
}

// POST /users/me/photo (multipart field "photo")
func (h *UserHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, usecase.PhotoMaxBytes+maxBodyBytes)
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeError(w, h.logger, r, fmt.Errorf("%w: photo file is required", entity.ErrValidation))
		return
	}
	defer file.Close()

	url, err := h.userUc.SetPhoto(r.Context(), claims.UserId, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"photoURL": url})
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", entity.ErrValidation)
	}
	return limit, nil
}
