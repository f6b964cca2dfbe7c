package transport

import (
	"time"

	"wachat/internal/entity"
)

// Session is the signed-in identity handed explicitly to the client
// components that act on behalf of the user.
type Session struct {
	UserId      string
	Username    string
	PhoneNumber string
	AccessToken string
	ExpiresAt   time.Time
}

func NewSession(resp entity.AuthResponse) Session {
	return Session{
		UserId:      resp.User.Id,
		Username:    resp.User.Username,
		PhoneNumber: resp.User.PhoneNumber,
		AccessToken: resp.AccessToken,
		ExpiresAt:   time.UnixMilli(resp.ExpiresAt),
	}
}

func (s Session) Valid(now time.Time) bool {
	return s.UserId != "" && s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// Conversation returns the conversation between the session user and peerId.
func (s Session) Conversation(peerId string) entity.Conversation {
	return entity.Conversation{SelfId: s.UserId, PeerId: peerId}
}
