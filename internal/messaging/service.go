// Package messaging implements the message mutation protocol: durable
// writes through the repository, unread bookkeeping, fan-out to live
// connections and avatar auto-replies.
package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode"

	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/types"
)

// maxReplyDepth bounds the auto-reply chain. An avatar answering a
// mention must not trigger another avatar.
const maxReplyDepth = 1

// Broadcaster fans an event out to live connections.
type Broadcaster interface {
	Broadcast(ev *server.Event)
}

// AvatarResponder produces an automated reply in a persona's voice.
type AvatarResponder interface {
	Reply(ctx context.Context, persona, message string) (string, error)
}

// BlobRemover deletes stored attachment content by URL.
type BlobRemover interface {
	Remove(ctx context.Context, url string) error
}

// NoopBlobRemover discards removal requests. It stands in when no
// blob store is configured.
type NoopBlobRemover struct{}

func (NoopBlobRemover) Remove(ctx context.Context, url string) error { return nil }

type MessageService struct {
	log       *log.Logger
	db        database.ChatRepository
	bc        Broadcaster
	responder AvatarResponder
	blobs     BlobRemover
}

func NewMessageService(logger *log.Logger, db database.ChatRepository, bc Broadcaster, responder AvatarResponder, blobs BlobRemover) *MessageService {
	if blobs == nil {
		blobs = NoopBlobRemover{}
	}

	return &MessageService{
		log:       logger,
		db:        db,
		bc:        bc,
		responder: responder,
		blobs:     blobs,
	}
}

type PostMessageParams struct {
	ChannelId   string                            `json:"channel_id,omitempty"`
	RecipientId int                               `json:"recipient_id,omitempty"`
	ThreadId    int                               `json:"thread_id,omitempty"`
	Content     string                            `json:"content"`
	Attachments []database.CreateAttachmentParams `json:"attachments,omitempty"`
}

// PostMessage stores a message addressed to a channel or a direct
// peer and fans it out to everyone but the author. A leading @mention
// of an account with auto-reply enabled feeds the avatar's answer
// back through the same pipeline as a thread reply.
func (ms *MessageService) PostMessage(ctx context.Context, authorId int, params PostMessageParams) (types.Message, error) {
	return ms.postMessage(ctx, authorId, params, 0)
}

func (ms *MessageService) postMessage(ctx context.Context, authorId int, params PostMessageParams, depth int) (types.Message, error) {
	if strings.TrimSpace(params.Content) == "" {
		return types.Message{}, fmt.Errorf("%w: content is required", errs.ErrBadRequest)
	}

	if (params.ChannelId == "") == (params.RecipientId == 0) {
		return types.Message{}, fmt.Errorf("%w: exactly one of channel_id and recipient_id is required", errs.ErrBadRequest)
	}

	create := database.CreateMessageParams{
		Content:     params.Content,
		AuthorId:    authorId,
		RecipientId: params.RecipientId,
		ThreadId:    params.ThreadId,
		Attachments: params.Attachments,
	}

	if params.ChannelId != "" {
		channel, err := ms.db.GetChannelByExternalId(params.ChannelId)
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, fmt.Errorf("channel %s: %w", params.ChannelId, errs.ErrNotFound)
		} else if err != nil {
			return types.Message{}, fmt.Errorf("get channel: %w", err)
		}

		member, err := ms.db.MemberExists(authorId, channel.Id)
		if err != nil {
			return types.Message{}, fmt.Errorf("check membership: %w", err)
		}
		if !member {
			return types.Message{}, fmt.Errorf("account %d is not a member of channel %s: %w", authorId, params.ChannelId, errs.ErrForbidden)
		}

		create.ChannelId = channel.Id
	} else {
		if _, err := ms.db.GetAccountById(params.RecipientId); errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, fmt.Errorf("account %d: %w", params.RecipientId, errs.ErrNotFound)
		} else if err != nil {
			return types.Message{}, fmt.Errorf("get recipient: %w", err)
		}
	}

	msg, err := ms.db.CreateMessage(create)
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	wire := WireMessage(msg, params.ChannelId)

	ev := server.NewEvent(server.EventMessageCreated, wire)
	ev.SkipUserId = authorId
	ms.bc.Broadcast(ev)

	if depth < maxReplyDepth {
		ms.autoReply(ctx, authorId, params, wire, depth)
	}

	return wire, nil
}

// autoReply posts an avatar-generated answer when the message opens
// with a mention of an auto-reply account. Failures are logged and
// never surfaced, the triggering message is already committed.
func (ms *MessageService) autoReply(ctx context.Context, authorId int, params PostMessageParams, msg types.Message, depth int) {
	username, ok := parseMention(params.Content)
	if !ok {
		return
	}

	account, err := ms.db.GetAccountByUsername(username)
	if errors.Is(err, sql.ErrNoRows) {
		return
	} else if err != nil {
		ms.log.Printf("auto-reply: get account %q: %v", username, err)
		return
	}

	if !account.AutoReply || account.Id == authorId {
		return
	}

	if ms.responder == nil {
		ms.log.Printf("auto-reply: no responder configured, skipping reply from %s", account.Username)
		return
	}

	reply, err := ms.responder.Reply(ctx, account.Persona, params.Content)
	if err != nil {
		ms.log.Printf("auto-reply: generate reply from %s: %v", account.Username, err)
		return
	}
	if strings.TrimSpace(reply) == "" {
		return
	}

	replyParams := PostMessageParams{
		ChannelId: params.ChannelId,
		ThreadId:  msg.Id,
		Content:   reply,
	}
	if params.RecipientId > 0 {
		replyParams.RecipientId = authorId
	}

	if _, err := ms.postMessage(ctx, account.Id, replyParams, depth+1); err != nil {
		ms.log.Printf("auto-reply: post reply from %s: %v", account.Username, err)
	}
}

// EditMessage replaces a message's content. Only the author may edit.
func (ms *MessageService) EditMessage(ctx context.Context, editorId, messageId int, content string) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, fmt.Errorf("%w: content is required", errs.ErrBadRequest)
	}

	msg, err := ms.loadOwnedMessage(messageId, editorId)
	if err != nil {
		return types.Message{}, err
	}

	externalId, err := ms.channelExternalId(msg)
	if err != nil {
		return types.Message{}, err
	}

	attachments, err := ms.db.ListAttachments([]int{messageId})
	if err != nil {
		return types.Message{}, fmt.Errorf("list attachments: %w", err)
	}

	updated, err := ms.db.UpdateMessageContent(messageId, content)
	if err != nil {
		return types.Message{}, fmt.Errorf("update message: %w", err)
	}
	updated.Attachments = attachments[messageId]

	wire := WireMessage(updated, externalId)

	ev := server.NewEvent(server.EventMessageEdited, wire)
	ev.SkipUserId = editorId
	ms.bc.Broadcast(ev)

	return wire, nil
}

// DeleteMessage removes a message together with its receipts and
// attachment rows. Attachment blobs are removed best-effort once the
// delete has committed.
func (ms *MessageService) DeleteMessage(ctx context.Context, actorId, messageId int) error {
	msg, err := ms.loadOwnedMessage(messageId, actorId)
	if err != nil {
		return err
	}

	externalId, err := ms.channelExternalId(msg)
	if err != nil {
		return err
	}

	attachments, err := ms.db.ListAttachments([]int{messageId})
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}

	if err := ms.db.DeleteMessage(messageId); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	for _, att := range attachments[messageId] {
		if err := ms.blobs.Remove(ctx, att.Url); err != nil {
			ms.log.Printf("remove attachment blob %s: %v", att.Url, err)
		}
	}

	ev := server.NewEvent(server.EventMessageDeleted, server.MessageDeletedPayload{
		MessageId:   messageId,
		ChannelId:   externalId,
		AuthorId:    msg.AuthorId,
		RecipientId: msg.RecipientId,
	})
	ev.SkipUserId = actorId
	ms.bc.Broadcast(ev)

	return nil
}

// ToggleReaction flips the caller's reaction on a message and returns
// the full updated map.
func (ms *MessageService) ToggleReaction(ctx context.Context, accountId, messageId int, emoji string) (types.ReactionMap, error) {
	if emoji == "" {
		return nil, fmt.Errorf("%w: emoji is required", errs.ErrBadRequest)
	}

	msg, err := ms.db.GetMessage(messageId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", messageId, errs.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	if err := ms.checkParticipant(msg, accountId); err != nil {
		return nil, err
	}

	reactions := msg.Reactions
	if reactions == nil {
		reactions = types.ReactionMap{}
	}
	added := reactions.Toggle(emoji, accountId)

	if _, err := ms.db.UpdateMessageReactions(messageId, reactions); err != nil {
		return nil, fmt.Errorf("update reactions: %w", err)
	}

	ev := server.NewEvent(server.EventReactionChanged, server.ReactionPayload{
		MessageId: messageId,
		UserId:    accountId,
		Emoji:     emoji,
		Added:     added,
		Reactions: reactions,
	})
	ev.SkipUserId = accountId
	ms.bc.Broadcast(ev)

	return reactions, nil
}

// MarkChannelRead zeroes the caller's unread counter for a channel
// and announces the new read cursor. Marking an empty channel is a
// no-op.
func (ms *MessageService) MarkChannelRead(ctx context.Context, accountId int, channelExternalId string) (int, error) {
	channel, err := ms.db.GetChannelByExternalId(channelExternalId)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("channel %s: %w", channelExternalId, errs.ErrNotFound)
	} else if err != nil {
		return 0, fmt.Errorf("get channel: %w", err)
	}

	member, err := ms.db.MemberExists(accountId, channel.Id)
	if err != nil {
		return 0, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return 0, fmt.Errorf("account %d is not a member of channel %s: %w", accountId, channelExternalId, errs.ErrForbidden)
	}

	lastId, err := ms.db.MarkChannelRead(channel.Id, accountId)
	if err != nil {
		return 0, fmt.Errorf("mark channel read: %w", err)
	}

	if lastId == 0 {
		return 0, nil
	}

	ev := server.NewEvent(server.EventChannelRead, server.ChannelReadPayload{
		ChannelId:         channelExternalId,
		UserId:            accountId,
		LastReadMessageId: lastId,
	})
	ev.SkipUserId = accountId
	ms.bc.Broadcast(ev)

	return lastId, nil
}

// MarkDirectMessageRead flags a direct message as read by its
// recipient and notifies the author.
func (ms *MessageService) MarkDirectMessageRead(ctx context.Context, readerId, messageId int) error {
	msg, err := ms.db.GetMessage(messageId)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %d: %w", messageId, errs.ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("get message: %w", err)
	}

	if msg.RecipientId != readerId {
		return fmt.Errorf("message %d is not addressed to account %d: %w", messageId, readerId, errs.ErrForbidden)
	}

	if err := ms.db.MarkDirectMessageRead(messageId, readerId); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}

	ev := server.NewEvent(server.EventDirectMessageRead, server.DirectMessageReadPayload{
		MessageId: messageId,
		ReaderId:  readerId,
		AuthorId:  msg.AuthorId,
	})
	ev.SkipUserId = readerId
	ms.bc.Broadcast(ev)

	return nil
}

func (ms *MessageService) loadOwnedMessage(messageId, accountId int) (database.Message, error) {
	msg, err := ms.db.GetMessage(messageId)
	if errors.Is(err, sql.ErrNoRows) {
		return database.Message{}, fmt.Errorf("message %d: %w", messageId, errs.ErrNotFound)
	} else if err != nil {
		return database.Message{}, fmt.Errorf("get message: %w", err)
	}

	if msg.AuthorId != accountId {
		return database.Message{}, fmt.Errorf("message %d is not owned by account %d: %w", messageId, accountId, errs.ErrForbidden)
	}

	return msg, nil
}

// checkParticipant rejects accounts with no stake in the message:
// channel messages require membership, directs require being a party.
func (ms *MessageService) checkParticipant(msg database.Message, accountId int) error {
	if msg.ChannelId > 0 {
		member, err := ms.db.MemberExists(accountId, msg.ChannelId)
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if !member {
			return fmt.Errorf("account %d is not a member of channel %d: %w", accountId, msg.ChannelId, errs.ErrForbidden)
		}

		return nil
	}

	if accountId != msg.AuthorId && accountId != msg.RecipientId {
		return fmt.Errorf("account %d is not part of the conversation: %w", accountId, errs.ErrForbidden)
	}

	return nil
}

// channelExternalId resolves the external id a stored message's
// channel is known by on the wire, or "" for direct messages.
func (ms *MessageService) channelExternalId(msg database.Message) (string, error) {
	if msg.ChannelId == 0 {
		return "", nil
	}

	channel, err := ms.db.GetChannelById(msg.ChannelId)
	if err != nil {
		return "", fmt.Errorf("get channel: %w", err)
	}

	return channel.ExternalId, nil
}

// parseMention extracts the username from a leading @mention.
func parseMention(content string) (string, bool) {
	if !strings.HasPrefix(content, "@") {
		return "", false
	}

	name := content[1:]
	if i := strings.IndexFunc(name, unicode.IsSpace); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimRight(name, ",.:;!?")

	if name == "" {
		return "", false
	}

	return name, true
}

// WireMessage converts a stored message to its wire form. Channels
// are referenced by external id outside the database layer.
func WireMessage(msg database.Message, channelExternalId string) types.Message {
	wire := types.Message{
		Id:          msg.Id,
		ChannelId:   channelExternalId,
		AuthorId:    msg.AuthorId,
		RecipientId: msg.RecipientId,
		ThreadId:    msg.ThreadId,
		Content:     msg.Content,
		IsRead:      msg.IsRead,
		Reactions:   msg.Reactions,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}

	for _, att := range msg.Attachments {
		wire.Attachments = append(wire.Attachments, types.Attachment{
			Id:       att.Id,
			Name:     att.Name,
			Size:     att.Size,
			MimeType: att.MimeType,
			Url:      att.Url,
		})
	}

	return wire
}
