package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"wachat/internal/entity"
	"wachat/internal/repository"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]entity.User
	seq   int
}

func newFakeUserRepo(users ...entity.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[string]entity.User{}}
	for i, u := range users {
		u.CreatedAt = time.Unix(int64(i), 0)
		r.users[u.Id] = u
	}
	return r
}

func (r *fakeUserRepo) Get(_ context.Context, userId string) (entity.User, error) {
	return r.first(func(u entity.User) bool { return u.Id == userId })
}

func (r *fakeUserRepo) GetByLoginId(_ context.Context, loginId string) (entity.User, error) {
	return r.first(func(u entity.User) bool { return u.LoginId == loginId })
}

func (r *fakeUserRepo) GetByPhone(_ context.Context, phone string) (entity.User, error) {
	return r.first(func(u entity.User) bool { return u.PhoneNumber == phone })
}

func (r *fakeUserRepo) first(match func(entity.User) bool) (entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			return u, nil
		}
	}
	return entity.User{}, repository.ErrUserNotFound
}

func (r *fakeUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.first(func(u entity.User) bool { return u.Username == username })
	return err == nil, nil
}

func (r *fakeUserRepo) PhoneExists(ctx context.Context, phone string) (bool, error) {
	_, err := r.first(func(u entity.User) bool { return u.PhoneNumber == phone })
	return err == nil, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user entity.User) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	user.Id = "user-" + strconv.Itoa(r.seq)
	user.CreatedAt = time.Unix(int64(1000+r.seq), 0)
	r.users[user.Id] = user
	return user.Id, nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, userId string, req entity.UpdateProfileRequest) (entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userId]
	if !ok {
		return entity.User{}, repository.ErrUserNotFound
	}
	if req.DisplayName != nil {
		u.DisplayName = *req.DisplayName
	}
	if req.Status != nil {
		u.Status = *req.Status
	}
	r.users[userId] = u
	return u, nil
}

func (r *fakeUserRepo) SetPhoto(_ context.Context, userId, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userId]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PhotoURL = url
	r.users[userId] = u
	return nil
}

func (r *fakeUserRepo) SetPresence(_ context.Context, userId, presence string, lastSeen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userId]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Presence = presence
	u.LastSeen = lastSeen
	r.users[userId] = u
	return nil
}

func (r *fakeUserRepo) Search(_ context.Context, filter entity.UserSearchFilter, exclude string) ([]entity.User, error) {
	users := r.sorted(func(a, b entity.User) bool { return a.Username < b.Username })
	out := []entity.User{}
	for _, u := range users {
		if u.Id != exclude && strings.HasPrefix(u.Username, filter.Prefix) && len(out) < filter.Limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) List(_ context.Context, limit int, exclude string) ([]entity.User, error) {
	users := r.sorted(func(a, b entity.User) bool { return a.CreatedAt.After(b.CreatedAt) })
	out := []entity.User{}
	for _, u := range users {
		if u.Id != exclude && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) sorted(less func(a, b entity.User) bool) []entity.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]entity.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return less(users[i], users[j]) })
	return users
}

type fakeMessageRepo struct {
	mu        sync.Mutex
	messages  []entity.Message
	lastLimit int
}

func (r *fakeMessageRepo) Index(_ context.Context, filter entity.MessageIndexFilter) ([]entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = filter.Limit
	out := []entity.Message{}
	for _, m := range r.messages {
		if filter.ChatId == "" || m.ChatId == filter.ChatId {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) Get(_ context.Context, id string) (entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Id == id {
			return m, nil
		}
	}
	return entity.Message{}, repository.ErrMessageNotFound
}

func (r *fakeMessageRepo) Create(_ context.Context, m entity.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return m.Id, nil
}

func (r *fakeMessageRepo) MarkRead(_ context.Context, id, reader string) (entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.messages {
		if m.Id == id && m.ReceiverId == reader {
			r.messages[i].Status = entity.MessageStatusRead
			return r.messages[i], nil
		}
	}
	return entity.Message{}, repository.ErrMessageNotFound
}

type fakeChatRepo struct {
	mu    sync.Mutex
	rooms map[string]entity.ChatRoom
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{rooms: map[string]entity.ChatRoom{}}
}

func (r *fakeChatRepo) Upsert(_ context.Context, room entity.ChatRoom) (entity.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[room.Id]; ok {
		room.CreatedAt = existing.CreatedAt
		room.LastMessage = existing.LastMessage
		room.LastMessageTime = existing.LastMessageTime
	}
	r.rooms[room.Id] = room
	return room, nil
}

func (r *fakeChatRepo) Get(_ context.Context, id string) (entity.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return entity.ChatRoom{}, repository.ErrRoomNotFound
	}
	return room, nil
}

func (r *fakeChatRepo) Index(_ context.Context, userId string) ([]entity.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []entity.ChatRoom{}
	for _, room := range r.rooms {
		for _, p := range room.Participants {
			if p == userId {
				out = append(out, room)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func (r *fakeChatRepo) UpdateLastMessage(_ context.Context, m entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[entity.ConversationKey(m.SenderId, m.ReceiverId)]
	if !ok || room.LastMessageTime > m.CreatedAt {
		return nil
	}
	room.LastMessage = m.Text
	room.LastMessageTime = m.CreatedAt
	room.UpdatedAt = m.CreatedAt
	r.rooms[room.Id] = room
	return nil
}

type fakeInvitationRepo struct {
	mu          sync.Mutex
	invitations map[string]entity.Invitation
}

func newFakeInvitationRepo() *fakeInvitationRepo {
	return &fakeInvitationRepo{invitations: map[string]entity.Invitation{}}
}

func (r *fakeInvitationRepo) Create(_ context.Context, inv entity.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.invitations[inv.Id]; ok && existing.Status == entity.InvitationPending {
		return repository.ErrInvitationPending
	}
	r.invitations[inv.Id] = inv
	return nil
}

func (r *fakeInvitationRepo) Get(_ context.Context, id string) (entity.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok {
		return entity.Invitation{}, repository.ErrInvitationNotFound
	}
	return inv, nil
}

func (r *fakeInvitationRepo) Transition(_ context.Context, id string, status entity.InvitationStatus, at entity.Timestamp) (entity.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok {
		return entity.Invitation{}, repository.ErrInvitationNotFound
	}
	if inv.Status != entity.InvitationPending {
		return entity.Invitation{}, repository.ErrInvitationSettled
	}
	inv.Status = status
	inv.UpdatedAt = at
	r.invitations[id] = inv
	return inv, nil
}

func (r *fakeInvitationRepo) Pending(_ context.Context, userId string) ([]entity.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []entity.Invitation{}
	for _, inv := range r.invitations {
		if inv.ToUserId == userId && inv.Status == entity.InvitationPending {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

type published struct {
	target string
	event  entity.PushEvent
}

// recordingPublisher keeps decoded push events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	chats  []published
	direct []published
}

func (p *recordingPublisher) PublishToChat(chatId string, message []byte) {
	p.record(&p.chats, chatId, message)
}

func (p *recordingPublisher) SendToUser(userId string, message []byte) {
	p.record(&p.direct, userId, message)
}

func (p *recordingPublisher) record(into *[]published, target string, message []byte) {
	var event entity.PushEvent
	if err := json.Unmarshal(message, &event); err != nil {
		panic(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	*into = append(*into, published{target: target, event: event})
}

func (p *recordingPublisher) sentTo(userId, eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, d := range p.direct {
		if d.target == userId && d.event.Type == eventType {
			n++
		}
	}
	return n
}

// fixedClock returns successive instants one second apart.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}
