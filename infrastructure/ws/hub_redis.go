package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	chatChannelPrefix = "chats:"
	userChannelPrefix = "users:"
)

// RedisHub keeps local connections in memory and relays frames for clients
// connected to other servers through Redis pub/sub.
type RedisHub struct {
	registry

	redisClient *redis.Client
	serverID    string

	Register   chan *UserClient
	Unregister chan *UserClient
	done       chan struct{}

	OnClientRegister   func(client *UserClient) error
	OnClientUnregister func(client *UserClient) error
}

type RedisMessage struct {
	FromServerID string `json:"fromServerId"`
	Payload      []byte `json:"payload"`
}

func NewRedisHub(redisAddr string, serverID string, logger *slog.Logger) IHub {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	return &RedisHub{
		registry:    newRegistry(logger.With("serverId", serverID)),
		redisClient: rdb,
		serverID:    serverID,
		Register:    make(chan *UserClient),
		Unregister:  make(chan *UserClient),
		done:        make(chan struct{}),
	}
}

func (h *RedisHub) Run(ctx context.Context) {
	defer close(h.done)

	pubsub := h.redisClient.PSubscribe(ctx, chatChannelPrefix+"*", userChannelPrefix+"*")
	defer pubsub.Close()
	go h.subscribeRedis(pubsub)

	for {
		select {
		case <-ctx.Done():
			_ = h.redisClient.Close()
			return

		case client := <-h.Register:
			// Announce this user is on this server
			if err := h.redisClient.Set(ctx, presenceKey(client.UserId), h.serverID, 0).Err(); err != nil {
				h.logger.Warn("presence announce failed", "userId", client.UserId, "error", err)
			}
			h.logger.Info("client connected", "userId", client.UserId)
			runCallback(h.logger, "OnClientRegister", h.OnClientRegister, client)

		case client := <-h.Unregister:
			if err := h.redisClient.Del(ctx, presenceKey(client.UserId)).Err(); err != nil {
				h.logger.Warn("presence cleanup failed", "userId", client.UserId, "error", err)
			}
			h.logger.Info("client disconnected", "userId", client.UserId)
			runCallback(h.logger, "OnClientUnregister", h.OnClientUnregister, client)
		}
	}
}

// subscribeRedis delivers frames published by other servers.
func (h *RedisHub) subscribeRedis(pubsub *redis.PubSub) {
	h.logger.Info("redis subscriber started")

	for msg := range pubsub.Channel() {
		var redisMsg RedisMessage
		if err := json.Unmarshal([]byte(msg.Payload), &redisMsg); err != nil {
			h.logger.Warn("invalid redis frame", "channel", msg.Channel, "error", err)
			continue
		}

		// Don't process messages we sent ourselves
		if redisMsg.FromServerID == h.serverID {
			continue
		}

		switch {
		case strings.HasPrefix(msg.Channel, chatChannelPrefix):
			h.deliverToChat(strings.TrimPrefix(msg.Channel, chatChannelPrefix), redisMsg.Payload)
		case strings.HasPrefix(msg.Channel, userChannelPrefix):
			h.deliverToUser(strings.TrimPrefix(msg.Channel, userChannelPrefix), redisMsg.Payload)
		}
	}
}

// PublishToChat delivers to local subscribers and relays to other servers.
func (h *RedisHub) PublishToChat(chatId string, message []byte) {
	h.deliverToChat(chatId, message)
	h.publish(chatChannelPrefix+chatId, message)
}

// SendToUser uses the local connection when there is one, Redis otherwise.
func (h *RedisHub) SendToUser(userId string, message []byte) {
	if h.deliverToUser(userId, message) {
		return
	}
	h.publish(userChannelPrefix+userId, message)
}

func (h *RedisHub) publish(channel string, message []byte) {
	msgBytes, err := json.Marshal(RedisMessage{
		FromServerID: h.serverID,
		Payload:      message,
	})
	if err != nil {
		h.logger.Error("marshal redis frame failed", "error", err)
		return
	}
	if err := h.redisClient.Publish(context.Background(), channel, msgBytes).Err(); err != nil {
		h.logger.Error("redis publish failed", "channel", channel, "error", err)
	}
}

func (h *RedisHub) Subscribe(client *UserClient, chatId string) {
	h.subscribe(client, chatId)
}

func (h *RedisHub) Unsubscribe(client *UserClient, chatId string) {
	h.unsubscribe(client, chatId)
}

func (h *RedisHub) GetClientCount() int {
	return h.count()
}

func (h *RedisHub) RegisterClient(client *UserClient) {
	h.add(client)
	select {
	case h.Register <- client:
	case <-h.done:
		h.remove(client)
	}
}

func (h *RedisHub) UnregisterClient(client *UserClient) {
	if !h.remove(client) {
		return
	}
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *RedisHub) SetOnClientRegister(callback func(client *UserClient) error) {
	h.OnClientRegister = callback
}

func (h *RedisHub) SetOnClientUnregister(callback func(client *UserClient) error) {
	h.OnClientUnregister = callback
}

func presenceKey(userId string) string {
	return "user:" + userId + ":server"
}
