package database

import (
	"time"

	"github.com/parleychat/parley/internal/types"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	AutoReply    bool
	Persona      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Channel struct {
	Id          int
	ExternalId  string
	Name        string
	Description string
	OwnerId     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChannelWithUnread is a channel row joined with the requesting
// account's unread counter.
type ChannelWithUnread struct {
	Channel
	UnreadCount       int
	LastReadMessageId int
}

type ChannelMember struct {
	Id        int
	ChannelId int
	AccountId int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id          int
	Content     string
	AuthorId    int
	ChannelId   int
	RecipientId int
	ThreadId    int
	IsRead      bool
	Reactions   types.ReactionMap
	Attachments []Attachment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Attachment struct {
	Id        int
	MessageId int
	Name      string
	Size      int64
	MimeType  string
	Url       string
	CreatedAt time.Time
}

// DirectMessageUnread aggregates the unread direct messages a single
// peer has sent to the requesting account.
type DirectMessageUnread struct {
	PeerId        int
	PeerUsername  string
	UnreadCount   int
	LastMessageId int
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
	AutoReply    bool
	Persona      string
}

type CreateChannelParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerId     int    `json:"-"`
	ExternalId  string `json:"external_id"`
}

type CreateMessageParams struct {
	Content     string
	AuthorId    int
	ChannelId   int
	RecipientId int
	ThreadId    int
	Attachments []CreateAttachmentParams
}

type CreateAttachmentParams struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Url      string `json:"url"`
}
