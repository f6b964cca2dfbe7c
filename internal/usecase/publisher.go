package usecase

import (
	"encoding/json"
	"log/slog"

	"wachat/internal/entity"
)

// Publisher fans push events out to connected clients. ws.IHub satisfies it.
type Publisher interface {
	PublishToChat(chatId string, message []byte)
	SendToUser(userId string, message []byte)
}

type pusher struct {
	publisher Publisher
	logger    *slog.Logger
}

func (p pusher) toChat(chatId string, event entity.PushEvent) {
	if payload, ok := p.encode(event); ok {
		p.publisher.PublishToChat(chatId, payload)
	}
}

func (p pusher) toUsers(event entity.PushEvent, userIds ...string) {
	payload, ok := p.encode(event)
	if !ok {
		return
	}
	for _, id := range userIds {
		p.publisher.SendToUser(id, payload)
	}
}

func (p pusher) encode(event entity.PushEvent) ([]byte, bool) {
	if p.publisher == nil {
		return nil, false
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("encode push event failed", "type", event.Type, "error", err)
		return nil, false
	}
	return payload, true
}
