package database

import (
	"github.com/parleychat/parley/internal/types"
)

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetAccountByUsername(username string) (User, error)
	CreateChannel(params CreateChannelParams) (Channel, error)
	DeleteChannel(id int) error
	GetChannelById(id int) (Channel, error)
	GetChannelByExternalId(externalId string) (Channel, error)
	ListChannels(accountId int) ([]ChannelWithUnread, error)
	GetChannelMembers(channelId int) ([]User, error)
	CreateChannelMember(accountId, channelId int) (ChannelMember, error)
	DeleteChannelMember(accountId, channelId int) error
	MemberExists(accountId, channelId int) (bool, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessage(id int) (Message, error)
	ListChannelMessages(channelId, since, before, limit int) ([]Message, error)
	ListDirectMessages(accountId, peerId, since, before, limit int) ([]Message, error)
	UpdateMessageContent(id int, content string) (Message, error)
	UpdateMessageReactions(id int, reactions types.ReactionMap) (Message, error)
	DeleteMessage(id int) error
	ListAttachments(messageIds []int) (map[int][]Attachment, error)
	MarkChannelRead(channelId, accountId int) (int, error)
	MarkDirectMessageRead(messageId, accountId int) error
	ListDirectMessageUnreads(accountId int) ([]DirectMessageUnread, error)
}
