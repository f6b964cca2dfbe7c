package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"wachat/internal/entity"
	"wachat/internal/usecase"
)

var errSenderMismatch = fmt.Errorf("%w: sender does not match the signed-in user", entity.ErrForbidden)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HttpHandler struct {
	messageUc usecase.MessageUsecase
	store     Pinger
	logger    *slog.Logger
}

func NewHttpHandler(messageUc usecase.MessageUsecase, store Pinger, logger *slog.Logger) *HttpHandler {
	return &HttpHandler{
		messageUc: messageUc,
		store:     store,
		logger:    logger,
	}
}

// Method Post /sendMessage
func (h *HttpHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req entity.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if claims, ok := claimsFrom(r.Context()); ok && claims.UserId != req.SenderId {
		writeError(w, h.logger, r, errSenderMismatch)
		return
	}

	message, err := h.messageUc.Send(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, Response{Message: "Message sent successfully", Data: message})
}

// Method Get /getMessages?limit=&chatId=
func (h *HttpHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	filter := entity.MessageIndexFilter{ChatId: r.URL.Query().Get("chatId")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, h.logger, r, fmt.Errorf("%w: limit must be a non-negative integer", entity.ErrValidation))
			return
		}
		filter.Limit = limit
	}
	if claims, ok := claimsFrom(r.Context()); ok && filter.ChatId != "" {
		if _, member := entity.ConversationPeer(filter.ChatId, claims.UserId); !member {
			writeError(w, h.logger, r, fmt.Errorf("%w: not a participant of this conversation", entity.ErrForbidden))
			return
		}
	}

	messages, err := h.messageUc.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, messages)
}

// Method Get /health
func (h *HttpHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, Response{Message: "unavailable", Error: "database unreachable"})
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}
