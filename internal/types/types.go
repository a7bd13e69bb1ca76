package types

import (
	"slices"
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	AutoReply    bool      `json:"auto_reply,omitempty"`
	Persona      string    `json:"persona,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Channel struct {
	Id                int       `json:"id"`
	ExternalId        string    `json:"external_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	OwnerId           int       `json:"owner_id"`
	UnreadCount       int       `json:"unread_count"`
	LastReadMessageId int       `json:"last_read_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

type Attachment struct {
	Id       int    `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Url      string `json:"url"`
}

type Message struct {
	Id          int          `json:"id"`
	ChannelId   string       `json:"channel_id,omitempty"`
	AuthorId    int          `json:"author_id"`
	RecipientId int          `json:"recipient_id,omitempty"`
	ThreadId    int          `json:"thread_id,omitempty"`
	Content     string       `json:"content"`
	IsRead      bool         `json:"is_read,omitempty"`
	Reactions   ReactionMap  `json:"reactions,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type DirectMessageUnread struct {
	PeerId        int    `json:"peer_id"`
	PeerUsername  string `json:"peer_username"`
	UnreadCount   int    `json:"unread_count"`
	LastMessageId int    `json:"last_message_id"`
}

// ReactionMap maps an emoji key to the set of user ids who reacted with it.
type ReactionMap map[string][]int

// Toggle adds userId under emoji if absent and removes it if present.
// Keys with no remaining users are deleted. It reports whether the
// reaction is present after the call.
func (m ReactionMap) Toggle(emoji string, userId int) bool {
	users := m[emoji]
	if i := slices.Index(users, userId); i >= 0 {
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(m, emoji)
		} else {
			m[emoji] = users
		}
		return false
	}

	users = append(users, userId)
	slices.Sort(users)
	m[emoji] = users
	return true
}

// Has reports whether userId currently reacts to emoji.
func (m ReactionMap) Has(emoji string, userId int) bool {
	return slices.Contains(m[emoji], userId)
}
