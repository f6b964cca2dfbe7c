package entity

import (
	"fmt"
	"sort"
	"strings"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "SENT"
	MessageStatusDelivered MessageStatus = "DELIVERED"
	MessageStatusRead      MessageStatus = "READ"
)

// ParseMessageStatus is case-insensitive; unknown values fall back to SENT
// because status is advisory only.
func ParseMessageStatus(raw string) MessageStatus {
	switch MessageStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case MessageStatusDelivered:
		return MessageStatusDelivered
	case MessageStatusRead:
		return MessageStatusRead
	default:
		return MessageStatusSent
	}
}

func (s MessageStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(string(s))), nil
}

func (s *MessageStatus) UnmarshalText(text []byte) error {
	*s = ParseMessageStatus(string(text))
	return nil
}

type Message struct {
	Id         string        `bson:"_id" json:"id"`
	ChatId     string        `bson:"chatId" json:"chatId,omitempty"`
	SenderId   string        `bson:"senderId" json:"senderId"`
	ReceiverId string        `bson:"receiverId" json:"receiverId"`
	Text       string        `bson:"message" json:"message"`
	Status     MessageStatus `bson:"status" json:"status"`
	CreatedAt  Timestamp     `bson:"createdAt" json:"createdAt"`
}

type MessageIndexFilter struct {
	ChatId string
	Limit  int
}

type SendMessageRequest struct {
	SenderId   string `json:"senderId"`
	ReceiverId string `json:"receiverId"`
	Message    string `json:"message"`
}

// ConversationKey derives the identifier of the conversation between two
// users. It does not depend on argument order.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("chat_%s_%s", a, b)
}

// Conversation identifies the active conversation from the point of view of
// the signed-in user.
type Conversation struct {
	SelfId string
	PeerId string
}

func (c Conversation) Key() string {
	return ConversationKey(c.SelfId, c.PeerId)
}

func (c Conversation) IsZero() bool {
	return c.SelfId == "" || c.PeerId == ""
}

// Includes reports whether m was exchanged between the two participants, in
// either direction.
func (c Conversation) Includes(m Message) bool {
	return (m.SenderId == c.SelfId && m.ReceiverId == c.PeerId) ||
		(m.SenderId == c.PeerId && m.ReceiverId == c.SelfId)
}

// Filter keeps the messages of this conversation, sorted ascending by
// CreatedAt. The sort is stable so equal timestamps keep feed order.
func (c Conversation) Filter(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if c.Includes(m) {
			out = append(out, m)
		}
	}
	SortMessages(out)
	return out
}

func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt < messages[j].CreatedAt
	})
}

// ConversationPeer returns the other participant of key when userId is one
// of its participants.
func ConversationPeer(key, userId string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "chat_")
	if !ok || userId == "" {
		return "", false
	}
	if peer, ok := strings.CutPrefix(rest, userId+"_"); ok && ConversationKey(userId, peer) == key {
		return peer, true
	}
	if peer, ok := strings.CutSuffix(rest, "_"+userId); ok && ConversationKey(userId, peer) == key {
		return peer, true
	}
	return "", false
}
