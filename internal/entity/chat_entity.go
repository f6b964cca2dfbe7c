package entity

import "fmt"

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

type Invitation struct {
	Id           string           `bson:"_id" json:"id"`
	FromUserId   string           `bson:"fromUserId" json:"fromUserId"`
	ToUserId     string           `bson:"toUserId" json:"toUserId"`
	FromUserName string           `bson:"fromUserName" json:"fromUserName"`
	ToUserName   string           `bson:"toUserName" json:"toUserName"`
	Message      string           `bson:"message,omitempty" json:"message,omitempty"`
	Status       InvitationStatus `bson:"status" json:"status"`
	CreatedAt    Timestamp        `bson:"createdAt" json:"createdAt"`
	UpdatedAt    Timestamp        `bson:"updatedAt" json:"updatedAt"`
}

// InvitationId is directional: an invitation from A to B is not the one from B to A.
func InvitationId(fromUserId, toUserId string) string {
	return fmt.Sprintf("%s_%s", fromUserId, toUserId)
}

type InviteRequest struct {
	ToUserId string `json:"toUserId"`
	Message  string `json:"message,omitempty"`
}

// ChatRoom is the summary projection of a conversation used by the
// conversation list. Its id is ConversationKey of the two participants.
type ChatRoom struct {
	Id               string            `bson:"_id" json:"id"`
	Participants     []string          `bson:"participants" json:"participants"`
	ParticipantNames map[string]string `bson:"participantNames" json:"participantNames"`
	LastMessage      string            `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	LastMessageTime  Timestamp         `bson:"lastMessageTime,omitempty" json:"lastMessageTime,omitempty"`
	CreatedAt        Timestamp         `bson:"createdAt" json:"createdAt"`
	UpdatedAt        Timestamp         `bson:"updatedAt" json:"updatedAt"`
}
