package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"wachat/infrastructure/ws"
	"wachat/internal/entity"
	"wachat/internal/usecase"

	"github.com/gorilla/websocket"
)

type WebsocketHandler struct {
	hub       ws.IHub
	authUc    usecase.AuthUsecase
	messageUc usecase.MessageUsecase
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewWebsocketHandler(hub ws.IHub, authUc usecase.AuthUsecase, messageUc usecase.MessageUsecase, allowedOrigin string, logger *slog.Logger) *WebsocketHandler {
	return &WebsocketHandler{
		hub:       hub,
		authUc:    authUc,
		messageUc: messageUc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
		logger: logger,
	}
}

// ServeHTTP upgrades /ws?token=<access token>. Browsers cannot set headers on
// websocket requests, so the token travels in the query string.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	claims, err := h.authUc.ValidateAccessToken(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "userId", claims.UserId, "error", err)
		return
	}

	client := ws.NewClient(claims.UserId, h.hub, conn, h.logger)
	h.hub.RegisterClient(client)

	ctx := r.Context()
	go client.WritePump()
	client.ReadPump(func(data []byte) {
		h.handleCommand(ctx, client, data)
	})
}

func (h *WebsocketHandler) handleCommand(ctx context.Context, client *ws.UserClient, data []byte) {
	var cmd entity.PushCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.reply(client, entity.PushEvent{Type: entity.PushTypeError, Error: "malformed command"})
		return
	}

	switch cmd.Action {
	case entity.PushActionSubscribe:
		chatId, ok := h.conversation(client, cmd)
		if !ok {
			return
		}
		h.hub.Subscribe(client, chatId)

	case entity.PushActionUnsubscribe:
		chatId, ok := h.conversation(client, cmd)
		if !ok {
			return
		}
		h.hub.Unsubscribe(client, chatId)

	case entity.PushActionRead:
		if _, err := h.messageUc.MarkRead(ctx, cmd.MessageId, client.UserId); err != nil {
			h.logger.Debug("read acknowledgement rejected", "userId", client.UserId, "messageId", cmd.MessageId, "error", err)
			h.reply(client, entity.PushEvent{Type: entity.PushTypeError, MessageId: cmd.MessageId, Error: err.Error()})
		}

	case entity.PushActionPing:
		h.reply(client, entity.PushEvent{Type: entity.PushTypePong})

	default:
		h.reply(client, entity.PushEvent{Type: entity.PushTypeError, Error: "unknown action " + cmd.Action})
	}
}

// conversation resolves the chat a command refers to, either by chatId or
// by the other participant, and checks that the client takes part in it.
func (h *WebsocketHandler) conversation(client *ws.UserClient, cmd entity.PushCommand) (string, bool) {
	chatId := cmd.ChatId
	if chatId == "" && cmd.UserId != "" {
		chatId = entity.ConversationKey(client.UserId, cmd.UserId)
	}
	if _, ok := entity.ConversationPeer(chatId, client.UserId); !ok {
		h.reply(client, entity.PushEvent{Type: entity.PushTypeError, ChatId: chatId, Error: "not a participant of this conversation"})
		return "", false
	}
	return chatId, true
}

func (h *WebsocketHandler) reply(client *ws.UserClient, event entity.PushEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode push event failed", "error", err)
		return
	}
	client.Send(payload)
}
