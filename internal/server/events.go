package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/parleychat/parley/internal/types"
)

type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventPresenceChange        EventType = "presence_change"
	EventMessageCreated        EventType = "message_created"
	EventMessageEdited         EventType = "message_edited"
	EventMessageDeleted        EventType = "message_deleted"
	EventReactionChanged       EventType = "reaction_changed"
	EventChannelRead           EventType = "channel_read"
	EventDirectMessageRead     EventType = "dm_read"
	EventChannelCreated        EventType = "channel_created"
	EventTyping                EventType = "typing"
	EventError                 EventType = "error"
)

// Event is the envelope for every frame the server pushes to clients.
// SkipUserId excludes a user from fan-out, raw caches the serialized
// form so an event is marshalled at most once per broadcast.
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
	SkipUserId int       `json:"-"`

	raw []byte
}

// ClientEvent is the envelope for frames received from clients. The
// payload stays raw until the type is known.
type ClientEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ConnectionEstablishedPayload struct {
	SessionId     string     `json:"session_id"`
	User          types.User `json:"user"`
	OnlineUserIds []int      `json:"online_user_ids"`
}

type PresencePayload struct {
	UserId int  `json:"user_id"`
	Online bool `json:"online"`
}

type TypingPayload struct {
	UserId    int    `json:"user_id"`
	ChannelId string `json:"channel_id,omitempty"`
	PeerId    int    `json:"peer_id,omitempty"`
}

type MessageDeletedPayload struct {
	MessageId   int    `json:"message_id"`
	ChannelId   string `json:"channel_id,omitempty"`
	AuthorId    int    `json:"author_id,omitempty"`
	RecipientId int    `json:"recipient_id,omitempty"`
}

type ChannelReadPayload struct {
	ChannelId         string `json:"channel_id"`
	UserId            int    `json:"user_id"`
	LastReadMessageId int    `json:"last_read_message_id"`
}

type DirectMessageReadPayload struct {
	MessageId int `json:"message_id"`
	ReaderId  int `json:"reader_id"`
	AuthorId  int `json:"author_id"`
}

type ReactionPayload struct {
	MessageId int               `json:"message_id"`
	UserId    int               `json:"user_id"`
	Emoji     string            `json:"emoji"`
	Added     bool              `json:"added"`
	Reactions types.ReactionMap `json:"reactions"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewEvent(eventType EventType, payload any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: Now(),
		Payload:   payload,
	}
}

func NewErrorEvent(code int, message string) *Event {
	return &Event{
		Type:      EventError,
		Timestamp: Now(),
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

func ErrInvalidEvent() *Event {
	return NewErrorEvent(http.StatusBadRequest, "invalid event format")
}

func serializeEvent(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

func (ev *Event) bytes() ([]byte, error) {
	if ev.raw == nil {
		raw, err := serializeEvent(ev)
		if err != nil {
			return nil, err
		}
		ev.raw = raw
	}

	return ev.raw, nil
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
