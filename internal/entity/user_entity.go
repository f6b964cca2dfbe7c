package entity

import "time"

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

type User struct {
	Id          string    `bson:"_id" json:"id"`
	Username    string    `bson:"username" json:"username"`
	LoginId     string    `bson:"loginId" json:"-"`
	PhoneNumber string    `bson:"phoneNumber" json:"phoneNumber"`
	Password    string    `bson:"password" json:"-"` // Don't expose password in JSON
	DisplayName string    `bson:"displayName,omitempty" json:"displayName,omitempty"`
	PhotoURL    string    `bson:"photoURL,omitempty" json:"photoURL,omitempty"`
	Status      string    `bson:"status,omitempty" json:"status,omitempty"`
	Presence    string    `bson:"presence,omitempty" json:"presence,omitempty"`
	LastSeen    time.Time `bson:"lastSeen,omitempty" json:"lastSeen,omitempty"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Name is what other users see.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

func (u User) Summary() UserSummary {
	return UserSummary{
		Id:          u.Id,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		PhoneNumber: u.PhoneNumber,
		PhotoURL:    u.PhotoURL,
		Status:      u.Status,
		Presence:    u.Presence,
	}
}

// UserSummary is the directory projection used for search and listing.
type UserSummary struct {
	Id          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	PhoneNumber string `json:"phoneNumber"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Status      string `json:"status,omitempty"`
	Presence    string `json:"presence,omitempty"`
}

type UserSearchFilter struct {
	Prefix string
	Limit  int
}

type UpdateProfileRequest struct {
	DisplayName *string `json:"displayName,omitempty"`
	Status      *string `json:"status,omitempty"`
}
