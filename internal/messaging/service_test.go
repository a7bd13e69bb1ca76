package messaging

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/testutil"
	"github.com/parleychat/parley/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type fakeBroadcaster struct {
	events []*server.Event
}

func (b *fakeBroadcaster) Broadcast(ev *server.Event) {
	b.events = append(b.events, ev)
}

type mockResponder struct {
	mock.Mock
}

func (m *mockResponder) Reply(ctx context.Context, persona, message string) (string, error) {
	args := m.Called(persona, message)
	return args.String(0), args.Error(1)
}

type mockBlobRemover struct {
	mock.Mock
}

func (m *mockBlobRemover) Remove(ctx context.Context, url string) error {
	args := m.Called(url)
	return args.Error(0)
}

func TestPostMessage(t *testing.T) {
	t.Run("posts to a channel", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetChannelByExternalId", "chan123").Return(database.Channel{Id: 7, ExternalId: "chan123"}, nil)
		db.On("MemberExists", 1, 7).Return(true, nil)
		db.On("CreateMessage", database.CreateMessageParams{
			Content:   "hello",
			AuthorId:  1,
			ChannelId: 7,
		}).Return(database.Message{Id: 42, Content: "hello", AuthorId: 1, ChannelId: 7}, nil)

		msg, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			ChannelId: "chan123",
			Content:   "hello",
		})

		assert.NoError(t, err, "expected no error posting message")
		assert.Equal(t, 42, msg.Id, "expected stored message id")
		assert.Equal(t, "chan123", msg.ChannelId, "expected channel referenced by external id")

		if assert.Len(t, bc.events, 1, "expected one broadcast") {
			ev := bc.events[0]
			assert.Equal(t, server.EventMessageCreated, ev.Type, "expected message_created event")
			assert.Equal(t, 1, ev.SkipUserId, "expected the author to be excluded from fan-out")

			payload, ok := ev.Payload.(types.Message)
			assert.True(t, ok, "expected message payload")
			assert.Equal(t, 42, payload.Id, "expected payload to carry the stored message")
		}
	})

	t.Run("posts to a direct peer", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetAccountById", 2).Return(database.User{Id: 2, Username: "peer"}, nil)
		db.On("CreateMessage", database.CreateMessageParams{
			Content:     "hi there",
			AuthorId:    1,
			RecipientId: 2,
		}).Return(database.Message{Id: 9, Content: "hi there", AuthorId: 1, RecipientId: 2}, nil)

		msg, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			RecipientId: 2,
			Content:     "hi there",
		})

		assert.NoError(t, err, "expected no error posting direct message")
		assert.Empty(t, msg.ChannelId, "expected no channel id on a direct message")
		assert.Equal(t, 2, msg.RecipientId, "expected recipient to be set")

		if assert.Len(t, bc.events, 1, "expected one broadcast") {
			assert.Equal(t, 1, bc.events[0].SkipUserId, "expected the author to be excluded from fan-out")
		}
	})

	t.Run("rejects posting to an unknown channel", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetChannelByExternalId", "missing").Return(database.Channel{}, sql.ErrNoRows)

		_, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			ChannelId: "missing",
			Content:   "hello",
		})

		assert.ErrorIs(t, err, errs.ErrNotFound, "expected not found error")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})

	t.Run("rejects posting by a non-member", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetChannelByExternalId", "chan123").Return(database.Channel{Id: 7, ExternalId: "chan123"}, nil)
		db.On("MemberExists", 1, 7).Return(false, nil)

		_, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			ChannelId: "chan123",
			Content:   "hello",
		})

		assert.ErrorIs(t, err, errs.ErrForbidden, "expected forbidden error")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})

	t.Run("rejects posting to an unknown recipient", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetAccountById", 99).Return(database.User{}, sql.ErrNoRows)

		_, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			RecipientId: 99,
			Content:     "hello",
		})

		assert.ErrorIs(t, err, errs.ErrNotFound, "expected not found error")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})

	t.Run("surfaces store failure without broadcast", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetAccountById", 2).Return(database.User{Id: 2}, nil)
		db.On("CreateMessage", mock.Anything).Return(database.Message{}, errors.New("connection reset"))

		_, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			RecipientId: 2,
			Content:     "hello",
		})

		assert.Error(t, err, "expected store failure to surface")
		assert.NotErrorIs(t, err, errs.ErrNotFound, "expected a plain store failure")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})
}

func TestPostMessageValidation(t *testing.T) {
	tcases := []struct {
		name   string
		params PostMessageParams
	}{
		{
			name:   "empty content",
			params: PostMessageParams{ChannelId: "chan123", Content: "   "},
		},
		{
			name:   "no target",
			params: PostMessageParams{Content: "hello"},
		},
		{
			name:   "both targets",
			params: PostMessageParams{ChannelId: "chan123", RecipientId: 2, Content: "hello"},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)
			bc := &fakeBroadcaster{}
			ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

			_, err := ms.PostMessage(context.Background(), 1, tc.params)

			assert.ErrorIs(t, err, errs.ErrBadRequest, "expected bad request error")
			assert.Empty(t, bc.events, "expected no broadcast")
		})
	}
}

func TestPostMessageAutoReply(t *testing.T) {
	t.Run("posts the avatar's answer as a thread reply", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		responder := &mockResponder{}
		defer responder.AssertExpectations(t)
		ms := NewMessageService(testutil.TestLogger(t), db, bc, responder, nil)

		db.On("GetChannelByExternalId", "chan123").Return(database.Channel{Id: 7, ExternalId: "chan123"}, nil)
		db.On("MemberExists", 1, 7).Return(true, nil)
		db.On("MemberExists", 5, 7).Return(true, nil)
		db.On("GetAccountByUsername", "ava").Return(database.User{
			Id:        5,
			Username:  "ava",
			AutoReply: true,
			Persona:   "a helpful assistant",
		}, nil)
		db.On("CreateMessage", database.CreateMessageParams{
			Content:   "@ava how do I test this?",
			AuthorId:  1,
			ChannelId: 7,
		}).Return(database.Message{Id: 42, Content: "@ava how do I test this?", AuthorId: 1, ChannelId: 7}, nil)

		// The generated answer mentions another account. The depth
		// guard must stop the chain without even resolving it.
		responder.On("Reply", "a helpful assistant", "@ava how do I test this?").
			Return("@bob knows, ask them", nil).Once()
		db.On("CreateMessage", database.CreateMessageParams{
			Content:   "@bob knows, ask them",
			AuthorId:  5,
			ChannelId: 7,
			ThreadId:  42,
		}).Return(database.Message{Id: 43, Content: "@bob knows, ask them", AuthorId: 5, ChannelId: 7, ThreadId: 42}, nil)

		msg, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			ChannelId: "chan123",
			Content:   "@ava how do I test this?",
		})

		assert.NoError(t, err, "expected no error posting message")
		assert.Equal(t, 42, msg.Id, "expected the triggering message to be returned")

		if assert.Len(t, bc.events, 2, "expected the post and the reply to be broadcast") {
			assert.Equal(t, server.EventMessageCreated, bc.events[0].Type, "expected message_created for the post")
			assert.Equal(t, 1, bc.events[0].SkipUserId, "expected the author excluded from the first fan-out")

			assert.Equal(t, server.EventMessageCreated, bc.events[1].Type, "expected message_created for the reply")
			assert.Equal(t, 5, bc.events[1].SkipUserId, "expected the avatar excluded from the second fan-out")

			reply, ok := bc.events[1].Payload.(types.Message)
			assert.True(t, ok, "expected message payload")
			assert.Equal(t, 42, reply.ThreadId, "expected the reply to thread onto the post")
		}
	})

	t.Run("direct message reply goes back to the author", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		responder := &mockResponder{}
		defer responder.AssertExpectations(t)
		ms := NewMessageService(testutil.TestLogger(t), db, bc, responder, nil)

		db.On("GetAccountById", 5).Return(database.User{Id: 5, Username: "ava"}, nil)
		db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "testuser"}, nil)
		db.On("GetAccountByUsername", "ava").Return(database.User{
			Id:        5,
			Username:  "ava",
			AutoReply: true,
		}, nil)
		db.On("CreateMessage", database.CreateMessageParams{
			Content:     "@ava hello",
			AuthorId:    1,
			RecipientId: 5,
		}).Return(database.Message{Id: 50, Content: "@ava hello", AuthorId: 1, RecipientId: 5}, nil)

		responder.On("Reply", "", "@ava hello").Return("hello back", nil).Once()
		db.On("CreateMessage", database.CreateMessageParams{
			Content:     "hello back",
			AuthorId:    5,
			RecipientId: 1,
			ThreadId:    50,
		}).Return(database.Message{Id: 51, Content: "hello back", AuthorId: 5, RecipientId: 1, ThreadId: 50, IsRead: true}, nil)

		_, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			RecipientId: 5,
			Content:     "@ava hello",
		})

		assert.NoError(t, err, "expected no error posting message")
		assert.Len(t, bc.events, 2, "expected the post and the reply to be broadcast")
	})

	t.Run("skips accounts without auto-reply", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		responder := &mockResponder{}
		defer responder.AssertExpectations(t)
		ms := NewMessageService(testutil.TestLogger(t), db, bc, responder, nil)

		db.On("GetAccountById", 2).Return(database.User{Id: 2}, nil)
		db.On("GetAccountByUsername", "bob").Return(database.User{Id: 2, Username: "bob"}, nil)
		db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 60, AuthorId: 1, RecipientId: 2}, nil)

		_, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			RecipientId: 2,
			Content:     "@bob are you around?",
		})

		assert.NoError(t, err, "expected no error posting message")
		assert.Len(t, bc.events, 1, "expected only the post to be broadcast")
	})

	t.Run("ignores mentions of unknown accounts", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, &mockResponder{}, nil)

		db.On("GetAccountById", 2).Return(database.User{Id: 2}, nil)
		db.On("GetAccountByUsername", "ghost").Return(database.User{}, sql.ErrNoRows)
		db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 61, AuthorId: 1, RecipientId: 2}, nil)

		_, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			RecipientId: 2,
			Content:     "@ghost hello?",
		})

		assert.NoError(t, err, "expected no error posting message")
		assert.Len(t, bc.events, 1, "expected only the post to be broadcast")
	})

	t.Run("responder failure does not fail the post", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		responder := &mockResponder{}
		defer responder.AssertExpectations(t)
		ms := NewMessageService(testutil.TestLogger(t), db, bc, responder, nil)

		db.On("GetAccountById", 5).Return(database.User{Id: 5}, nil)
		db.On("GetAccountByUsername", "ava").Return(database.User{Id: 5, Username: "ava", AutoReply: true}, nil)
		db.On("CreateMessage", mock.Anything).Return(database.Message{Id: 62, AuthorId: 1, RecipientId: 5}, nil)

		responder.On("Reply", "", "@ava hello").Return("", errors.New("rate limited")).Once()

		msg, err := ms.PostMessage(context.Background(), 1, PostMessageParams{
			RecipientId: 5,
			Content:     "@ava hello",
		})

		assert.NoError(t, err, "expected the post to succeed")
		assert.Equal(t, 62, msg.Id, "expected the stored message to be returned")
		assert.Len(t, bc.events, 1, "expected only the post to be broadcast")
	})
}

func TestEditMessage(t *testing.T) {
	t.Run("successful edit", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 1, ChannelId: 7, Content: "old"}, nil)
		db.On("GetChannelById", 7).Return(database.Channel{Id: 7, ExternalId: "chan123"}, nil)
		db.On("ListAttachments", []int{42}).Return(map[int][]database.Attachment{
			42: {{Id: 3, MessageId: 42, Name: "notes.txt", Size: 12, MimeType: "text/plain", Url: "https://blobs/notes.txt"}},
		}, nil)
		db.On("UpdateMessageContent", 42, "new").Return(database.Message{Id: 42, AuthorId: 1, ChannelId: 7, Content: "new"}, nil)

		msg, err := ms.EditMessage(context.Background(), 1, 42, "new")

		assert.NoError(t, err, "expected no error editing message")
		assert.Equal(t, "new", msg.Content, "expected updated content")
		assert.Equal(t, "chan123", msg.ChannelId, "expected channel referenced by external id")
		assert.Len(t, msg.Attachments, 1, "expected attachments carried on the updated message")

		if assert.Len(t, bc.events, 1, "expected one broadcast") {
			assert.Equal(t, server.EventMessageEdited, bc.events[0].Type, "expected message_edited event")
			assert.Equal(t, 1, bc.events[0].SkipUserId, "expected the editor excluded from fan-out")
		}
	})

	t.Run("rejects a non-author", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 2}, nil)

		_, err := ms.EditMessage(context.Background(), 1, 42, "new")

		assert.ErrorIs(t, err, errs.ErrForbidden, "expected forbidden error")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})

	t.Run("unknown message", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{}, sql.ErrNoRows)

		_, err := ms.EditMessage(context.Background(), 1, 42, "new")

		assert.ErrorIs(t, err, errs.ErrNotFound, "expected not found error")
	})

	t.Run("rejects empty content", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		ms := NewMessageService(testutil.TestLogger(t), db, &fakeBroadcaster{}, nil, nil)

		_, err := ms.EditMessage(context.Background(), 1, 42, "  ")

		assert.ErrorIs(t, err, errs.ErrBadRequest, "expected bad request error")
	})
}

func TestDeleteMessage(t *testing.T) {
	t.Run("deletes and removes attachment blobs", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		blobs := &mockBlobRemover{}
		defer blobs.AssertExpectations(t)
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, blobs)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 1, RecipientId: 2}, nil)
		db.On("ListAttachments", []int{42}).Return(map[int][]database.Attachment{
			42: {{Id: 3, MessageId: 42, Url: "https://blobs/notes.txt"}},
		}, nil)
		db.On("DeleteMessage", 42).Return(nil)
		blobs.On("Remove", "https://blobs/notes.txt").Return(nil).Once()

		err := ms.DeleteMessage(context.Background(), 1, 42)

		assert.NoError(t, err, "expected no error deleting message")

		if assert.Len(t, bc.events, 1, "expected one broadcast") {
			assert.Equal(t, server.EventMessageDeleted, bc.events[0].Type, "expected message_deleted event")

			payload, ok := bc.events[0].Payload.(server.MessageDeletedPayload)
			assert.True(t, ok, "expected message deleted payload")
			assert.Equal(t, 42, payload.MessageId, "expected message id in payload")
			assert.Equal(t, 2, payload.RecipientId, "expected recipient id in payload")
			assert.Empty(t, payload.ChannelId, "expected no channel id for a direct message")
		}
	})

	t.Run("blob removal failure does not fail the delete", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		blobs := &mockBlobRemover{}
		defer blobs.AssertExpectations(t)
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, blobs)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 1, ChannelId: 7}, nil)
		db.On("GetChannelById", 7).Return(database.Channel{Id: 7, ExternalId: "chan123"}, nil)
		db.On("ListAttachments", []int{42}).Return(map[int][]database.Attachment{
			42: {{Id: 3, MessageId: 42, Url: "https://blobs/gone.png"}},
		}, nil)
		db.On("DeleteMessage", 42).Return(nil)
		blobs.On("Remove", "https://blobs/gone.png").Return(errors.New("not reachable")).Once()

		err := ms.DeleteMessage(context.Background(), 1, 42)

		assert.NoError(t, err, "expected the delete to succeed")
		assert.Len(t, bc.events, 1, "expected the delete to be broadcast")
	})

	t.Run("rejects a non-author", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 2}, nil)

		err := ms.DeleteMessage(context.Background(), 1, 42)

		assert.ErrorIs(t, err, errs.ErrForbidden, "expected forbidden error")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})
}

func TestToggleReaction(t *testing.T) {
	t.Run("adds a reaction", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 1, ChannelId: 7}, nil)
		db.On("MemberExists", 2, 7).Return(true, nil)
		db.On("UpdateMessageReactions", 42, types.ReactionMap{"🎉": {2}}).
			Return(database.Message{Id: 42, AuthorId: 1, ChannelId: 7, Reactions: types.ReactionMap{"🎉": {2}}}, nil)

		reactions, err := ms.ToggleReaction(context.Background(), 2, 42, "🎉")

		assert.NoError(t, err, "expected no error toggling reaction")
		assert.Equal(t, types.ReactionMap{"🎉": {2}}, reactions, "expected the full updated map")

		if assert.Len(t, bc.events, 1, "expected one broadcast") {
			assert.Equal(t, server.EventReactionChanged, bc.events[0].Type, "expected reaction_changed event")

			payload, ok := bc.events[0].Payload.(server.ReactionPayload)
			assert.True(t, ok, "expected reaction payload")
			assert.True(t, payload.Added, "expected the reaction to be reported as added")
			assert.Equal(t, types.ReactionMap{"🎉": {2}}, payload.Reactions, "expected the full map in the payload")
		}
	})

	t.Run("removes an existing reaction", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{
			Id:          42,
			AuthorId:    1,
			RecipientId: 2,
			Reactions:   types.ReactionMap{"🎉": {2, 3}},
		}, nil)
		db.On("UpdateMessageReactions", 42, types.ReactionMap{"🎉": {3}}).
			Return(database.Message{Id: 42, Reactions: types.ReactionMap{"🎉": {3}}}, nil)

		reactions, err := ms.ToggleReaction(context.Background(), 2, 42, "🎉")

		assert.NoError(t, err, "expected no error toggling reaction")
		assert.Equal(t, types.ReactionMap{"🎉": {3}}, reactions, "expected the caller's id removed")

		if assert.Len(t, bc.events, 1, "expected one broadcast") {
			payload, ok := bc.events[0].Payload.(server.ReactionPayload)
			assert.True(t, ok, "expected reaction payload")
			assert.False(t, payload.Added, "expected the reaction to be reported as removed")
		}
	})

	t.Run("rejects an outsider", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 1, RecipientId: 2}, nil)

		_, err := ms.ToggleReaction(context.Background(), 9, 42, "🎉")

		assert.ErrorIs(t, err, errs.ErrForbidden, "expected forbidden error")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})
}

func TestMarkChannelRead(t *testing.T) {
	t.Run("marks read and announces the cursor", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetChannelByExternalId", "chan123").Return(database.Channel{Id: 7, ExternalId: "chan123"}, nil)
		db.On("MemberExists", 1, 7).Return(true, nil)
		db.On("MarkChannelRead", 7, 1).Return(99, nil)

		lastId, err := ms.MarkChannelRead(context.Background(), 1, "chan123")

		assert.NoError(t, err, "expected no error marking channel read")
		assert.Equal(t, 99, lastId, "expected the newest message id")

		if assert.Len(t, bc.events, 1, "expected one broadcast") {
			assert.Equal(t, server.EventChannelRead, bc.events[0].Type, "expected channel_read event")
			assert.Equal(t, 1, bc.events[0].SkipUserId, "expected the reader excluded from fan-out")

			payload, ok := bc.events[0].Payload.(server.ChannelReadPayload)
			assert.True(t, ok, "expected channel read payload")
			assert.Equal(t, "chan123", payload.ChannelId, "expected channel external id")
			assert.Equal(t, 99, payload.LastReadMessageId, "expected the read cursor in the payload")
		}
	})

	t.Run("empty channel is a no-op", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetChannelByExternalId", "chan123").Return(database.Channel{Id: 7, ExternalId: "chan123"}, nil)
		db.On("MemberExists", 1, 7).Return(true, nil)
		db.On("MarkChannelRead", 7, 1).Return(0, nil)

		lastId, err := ms.MarkChannelRead(context.Background(), 1, "chan123")

		assert.NoError(t, err, "expected no error on an empty channel")
		assert.Zero(t, lastId, "expected no read cursor")
		assert.Empty(t, bc.events, "expected no broadcast for an empty channel")
	})

	t.Run("rejects a non-member", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetChannelByExternalId", "chan123").Return(database.Channel{Id: 7, ExternalId: "chan123"}, nil)
		db.On("MemberExists", 1, 7).Return(false, nil)

		_, err := ms.MarkChannelRead(context.Background(), 1, "chan123")

		assert.ErrorIs(t, err, errs.ErrForbidden, "expected forbidden error")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})
}

func TestMarkDirectMessageRead(t *testing.T) {
	t.Run("marks read and notifies the author", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 2, RecipientId: 1}, nil)
		db.On("MarkDirectMessageRead", 42, 1).Return(nil)

		err := ms.MarkDirectMessageRead(context.Background(), 1, 42)

		assert.NoError(t, err, "expected no error marking message read")

		if assert.Len(t, bc.events, 1, "expected one broadcast") {
			assert.Equal(t, server.EventDirectMessageRead, bc.events[0].Type, "expected dm_read event")

			payload, ok := bc.events[0].Payload.(server.DirectMessageReadPayload)
			assert.True(t, ok, "expected direct message read payload")
			assert.Equal(t, 42, payload.MessageId, "expected message id in payload")
			assert.Equal(t, 1, payload.ReaderId, "expected reader id in payload")
			assert.Equal(t, 2, payload.AuthorId, "expected author id in payload")
		}
	})

	t.Run("rejects a non-recipient", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		bc := &fakeBroadcaster{}
		ms := NewMessageService(testutil.TestLogger(t), db, bc, nil, nil)

		db.On("GetMessage", 42).Return(database.Message{Id: 42, AuthorId: 2, RecipientId: 3}, nil)

		err := ms.MarkDirectMessageRead(context.Background(), 1, 42)

		assert.ErrorIs(t, err, errs.ErrForbidden, "expected forbidden error")
		assert.Empty(t, bc.events, "expected no broadcast on failure")
	})
}

func Test_parseMention(t *testing.T) {
	tcases := []struct {
		name     string
		content  string
		username string
		ok       bool
	}{
		{
			name:     "leading mention",
			content:  "@bob how are you",
			username: "bob",
			ok:       true,
		},
		{
			name:     "mention with trailing punctuation",
			content:  "@bob, got a minute?",
			username: "bob",
			ok:       true,
		},
		{
			name:     "bare mention",
			content:  "@bob",
			username: "bob",
			ok:       true,
		},
		{
			name:    "mention not at the start",
			content: "hello @bob",
			ok:      false,
		},
		{
			name:    "bare at sign",
			content: "@ hello",
			ok:      false,
		},
		{
			name:    "no mention",
			content: "hello there",
			ok:      false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			username, ok := parseMention(tc.content)
			assert.Equal(t, tc.ok, ok, "expected mention detection to match")
			assert.Equal(t, tc.username, username, "expected extracted username to match")
		})
	}
}

func TestWireMessage(t *testing.T) {
	now := time.Now().UTC()
	msg := database.Message{
		Id:          42,
		Content:     "hello",
		AuthorId:    1,
		ChannelId:   7,
		ThreadId:    40,
		Reactions:   types.ReactionMap{"🎉": {2}},
		Attachments: []database.Attachment{{Id: 3, MessageId: 42, Name: "notes.txt", Size: 12, MimeType: "text/plain", Url: "https://blobs/notes.txt"}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	wire := WireMessage(msg, "chan123")

	assert.Equal(t, 42, wire.Id, "expected id to be carried over")
	assert.Equal(t, "chan123", wire.ChannelId, "expected channel external id on the wire")
	assert.Equal(t, 40, wire.ThreadId, "expected thread id to be carried over")
	assert.Equal(t, types.ReactionMap{"🎉": {2}}, wire.Reactions, "expected reactions to be carried over")
	assert.Equal(t, now, wire.CreatedAt, "expected created timestamp to be carried over")

	if assert.Len(t, wire.Attachments, 1, "expected attachment to be carried over") {
		assert.Equal(t, "notes.txt", wire.Attachments[0].Name, "expected attachment name to be carried over")
		assert.Equal(t, "https://blobs/notes.txt", wire.Attachments[0].Url, "expected attachment url to be carried over")
	}
}
