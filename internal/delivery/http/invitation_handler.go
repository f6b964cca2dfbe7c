package http

import (
	"log/slog"
	"net/http"

	"wachat/internal/entity"
	"wachat/internal/usecase"

	"github.com/go-chi/chi/v5"
)

type InvitationHandler struct {
	invitationUc usecase.InvitationUsecase
	logger       *slog.Logger
}

func NewInvitationHandler(invitationUc usecase.InvitationUsecase, logger *slog.Logger) *InvitationHandler {
	return &InvitationHandler{
		invitationUc: invitationUc,
		logger:       logger,
	}
}

// POST /invitations
func (h *InvitationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req entity.InviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	invitation, err := h.invitationUc.Invite(r.Context(), claims.UserId, req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, invitation)
}

// GET /invitations/pending
func (h *InvitationHandler) Pending(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	invitations, err := h.invitationUc.Pending(r.Context(), claims.UserId)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, invitations)
}

// POST /invitations/{id}/accept
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	room, err := h.invitationUc.Accept(r.Context(), chi.URLParam(r, "id"), claims.UserId)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, room)
}

// POST /invitations/{id}/decline
func (h *InvitationHandler) Decline(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	invitation, err := h.invitationUc.Decline(r.Context(), chi.URLParam(r, "id"), claims.UserId)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, invitation)
}

// GET /rooms
func (h *InvitationHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	rooms, err := h.invitationUc.Rooms(r.Context(), claims.UserId)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, rooms)
}
