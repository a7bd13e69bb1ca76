package database

import (
	"github.com/stretchr/testify/mock"

	"github.com/parleychat/parley/internal/types"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByUsername(username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	args := m.Called(params)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockChatRepository) DeleteChannel(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) GetChannelById(id int) (Channel, error) {
	args := m.Called(id)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockChatRepository) GetChannelByExternalId(externalId string) (Channel, error) {
	args := m.Called(externalId)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockChatRepository) ListChannels(accountId int) ([]ChannelWithUnread, error) {
	args := m.Called(accountId)
	return args.Get(0).([]ChannelWithUnread), args.Error(1)
}
func (m *MockChatRepository) GetChannelMembers(channelId int) ([]User, error) {
	args := m.Called(channelId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockChatRepository) CreateChannelMember(accountId, channelId int) (ChannelMember, error) {
	args := m.Called(accountId, channelId)
	return args.Get(0).(ChannelMember), args.Error(1)
}
func (m *MockChatRepository) DeleteChannelMember(accountId, channelId int) error {
	args := m.Called(accountId, channelId)
	return args.Error(0)
}
func (m *MockChatRepository) MemberExists(accountId, channelId int) (bool, error) {
	args := m.Called(accountId, channelId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(id int) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListChannelMessages(channelId, since, before, limit int) ([]Message, error) {
	args := m.Called(channelId, since, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) ListDirectMessages(accountId, peerId, since, before, limit int) ([]Message, error) {
	args := m.Called(accountId, peerId, since, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageContent(id int, content string) (Message, error) {
	args := m.Called(id, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageReactions(id int, reactions types.ReactionMap) (Message, error) {
	args := m.Called(id, reactions)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) ListAttachments(messageIds []int) (map[int][]Attachment, error) {
	args := m.Called(messageIds)
	return args.Get(0).(map[int][]Attachment), args.Error(1)
}
func (m *MockChatRepository) MarkChannelRead(channelId, accountId int) (int, error) {
	args := m.Called(channelId, accountId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) MarkDirectMessageRead(messageId, accountId int) error {
	args := m.Called(messageId, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) ListDirectMessageUnreads(accountId int) ([]DirectMessageUnread, error) {
	args := m.Called(accountId)
	return args.Get(0).([]DirectMessageUnread), args.Error(1)
}
