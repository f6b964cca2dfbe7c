package entity

const (
	PushTypeMessage    = "message"
	PushTypeInvitation = "invitation"
	PushTypeRoom       = "room"
	PushTypeRead       = "read"
	PushTypePong       = "pong"
	PushTypeError      = "error"
)

// PushEvent is the server to client frame of the push channel.
type PushEvent struct {
	Type       string      `json:"type"`
	ChatId     string      `json:"chatId,omitempty"`
	Message    *Message    `json:"message,omitempty"`
	Invitation *Invitation `json:"invitation,omitempty"`
	Room       *ChatRoom   `json:"room,omitempty"`
	MessageId  string      `json:"messageId,omitempty"`
	Error      string      `json:"error,omitempty"`
}

const (
	PushActionSubscribe   = "subscribe"
	PushActionUnsubscribe = "unsubscribe"
	PushActionRead        = "read"
	PushActionPing        = "ping"
)

// PushCommand is the client to server frame of the push channel.
type PushCommand struct {
	Action    string `json:"action"`
	ChatId    string `json:"chatId,omitempty"`
	UserId    string `json:"userId,omitempty"`
	MessageId string `json:"messageId,omitempty"`
}
