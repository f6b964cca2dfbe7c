package ws

import (
	"context"
	"log/slog"
	"sync"
)

// registry holds the clients connected to this process and their chat
// subscriptions. It is shared by Hub and RedisHub.
type registry struct {
	mu      sync.RWMutex
	clients map[string]*UserClient
	chats   map[string]map[*UserClient]struct{}
	logger  *slog.Logger
}

func newRegistry(logger *slog.Logger) registry {
	return registry{
		clients: make(map[string]*UserClient),
		chats:   make(map[string]map[*UserClient]struct{}),
		logger:  logger,
	}
}

// add registers client, replacing an older connection of the same user.
func (r *registry) add(client *UserClient) {
	r.mu.Lock()
	old := r.clients[client.UserId]
	r.clients[client.UserId] = client
	if old != nil && old != client {
		r.dropLocked(old)
	}
	r.mu.Unlock()
	if old != nil && old != client {
		old.closeSend()
	}
}

// remove reports whether client was the registered connection of its user.
func (r *registry) remove(client *UserClient) bool {
	r.mu.Lock()
	current, ok := r.clients[client.UserId]
	registered := ok && current == client
	if registered {
		delete(r.clients, client.UserId)
	}
	r.dropLocked(client)
	r.mu.Unlock()
	client.closeSend()
	return registered
}

func (r *registry) dropLocked(client *UserClient) {
	for chatId := range client.chats {
		if subs, ok := r.chats[chatId]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(r.chats, chatId)
			}
		}
	}
	client.chats = make(map[string]struct{})
}

func (r *registry) subscribe(client *UserClient, chatId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.clients[client.UserId]; !ok || current != client {
		return
	}
	subs, ok := r.chats[chatId]
	if !ok {
		subs = make(map[*UserClient]struct{})
		r.chats[chatId] = subs
	}
	subs[client] = struct{}{}
	client.chats[chatId] = struct{}{}
}

func (r *registry) unsubscribe(client *UserClient, chatId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.chats[chatId]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(r.chats, chatId)
		}
	}
	delete(client.chats, chatId)
}

func (r *registry) deliverToChat(chatId string, message []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for client := range r.chats[chatId] {
		if client.trySend(message) {
			delivered++
		} else {
			r.logger.Warn("dropping frame for slow client", "userId", client.UserId, "chatId", chatId)
		}
	}
	return delivered
}

func (r *registry) deliverToUser(userId string, message []byte) bool {
	r.mu.RLock()
	client, ok := r.clients[userId]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if !client.trySend(message) {
		r.logger.Warn("failed to send to client", "userId", userId)
	}
	return true
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Hub is the single server hub: every client is connected to this process.
type Hub struct {
	registry
	Register           chan *UserClient
	Unregister         chan *UserClient
	OnClientRegister   func(client *UserClient) error
	OnClientUnregister func(client *UserClient) error
	done               chan struct{}
}

func NewHub(logger *slog.Logger) IHub {
	return &Hub{
		registry:   newRegistry(logger),
		Register:   make(chan *UserClient),
		Unregister: make(chan *UserClient),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.logger.Info("client connected", "userId", client.UserId)
			runCallback(h.logger, "OnClientRegister", h.OnClientRegister, client)

		case client := <-h.Unregister:
			h.logger.Info("client disconnected", "userId", client.UserId)
			runCallback(h.logger, "OnClientUnregister", h.OnClientUnregister, client)
		}
	}
}

func (h *Hub) PublishToChat(chatId string, message []byte) {
	h.deliverToChat(chatId, message)
}

func (h *Hub) SendToUser(userId string, message []byte) {
	h.deliverToUser(userId, message)
}

func (h *Hub) Subscribe(client *UserClient, chatId string) {
	h.subscribe(client, chatId)
}

func (h *Hub) Unsubscribe(client *UserClient, chatId string) {
	h.unsubscribe(client, chatId)
}

func (h *Hub) GetClientCount() int {
	return h.count()
}

// RegisterClient makes client reachable before returning; the callbacks
// run on the hub goroutine.
func (h *Hub) RegisterClient(client *UserClient) {
	h.add(client)
	select {
	case h.Register <- client:
	case <-h.done:
		h.remove(client)
	}
}

// UnregisterClient is a no-op for a connection already replaced by a newer one.
func (h *Hub) UnregisterClient(client *UserClient) {
	if !h.remove(client) {
		return
	}
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) SetOnClientRegister(callback func(client *UserClient) error) {
	h.OnClientRegister = callback
}

func (h *Hub) SetOnClientUnregister(callback func(client *UserClient) error) {
	h.OnClientUnregister = callback
}

func runCallback(logger *slog.Logger, name string, callback func(*UserClient) error, client *UserClient) {
	if callback == nil {
		return
	}
	if err := callback(client); err != nil {
		logger.Error("hub callback failed", "callback", name, "userId", client.UserId, "error", err)
	}
}
