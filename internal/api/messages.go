package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/messaging"
	"github.com/parleychat/parley/internal/types"
)

type EditMessageRequest struct {
	MessageId int    `json:"message_id"`
	Content   string `json:"content"`
}

type ReactionRequest struct {
	MessageId int    `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type MessageReadRequest struct {
	MessageId int `json:"message_id"`
}

// queryInt parses an optional integer query parameter, zero when absent.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	return strconv.Atoi(raw)
}

// wireMessages loads attachments for a page of rows and converts them
// for the wire.
func (s *ParleyApp) wireMessages(messages []database.Message, channelExternalId string) ([]types.Message, error) {
	wired := make([]types.Message, 0, len(messages))
	if len(messages) == 0 {
		return wired, nil
	}

	ids := make([]int, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.Id)
	}

	attachments, err := s.db.ListAttachments(ids)
	if err != nil {
		return nil, err
	}

	for _, msg := range messages {
		msg.Attachments = attachments[msg.Id]
		wired = append(wired, messaging.WireMessage(msg, channelExternalId))
	}

	return wired, nil
}

func (s *ParleyApp) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var params messaging.PostMessageParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.ms.PostMessage(r.Context(), userId, params)
	if err != nil {
		errResp := fromServiceError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ParleyApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("channel_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.db.GetChannelByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.db.MemberExists(userId, channel.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !member {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	before, err := queryInt(r, "before")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	after, err := queryInt(r, "after")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.db.ListChannelMessages(channel.Id, after, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wired, err := s.wireMessages(messages, externalId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, wired)
}

func (s *ParleyApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.ms.EditMessage(r.Context(), userId, req.MessageId, req.Content)
	if err != nil {
		errResp := fromServiceError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *ParleyApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messageId, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil || messageId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.ms.DeleteMessage(r.Context(), userId, messageId); err != nil {
		errResp := fromServiceError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ParleyApp) reactToMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageId <= 0 || req.Emoji == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	reactions, err := s.ms.ToggleReaction(r.Context(), userId, req.MessageId, req.Emoji)
	if err != nil {
		errResp := fromServiceError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, reactions)
}

func (s *ParleyApp) markDirectMessageRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MessageReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.ms.MarkDirectMessageRead(r.Context(), userId, req.MessageId); err != nil {
		errResp := fromServiceError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ParleyApp) getDirectMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	peerId, err := strconv.Atoi(r.URL.Query().Get("peer_id"))
	if err != nil || peerId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	before, err := queryInt(r, "before")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	after, err := queryInt(r, "after")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.db.ListDirectMessages(userId, peerId, after, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wired, err := s.wireMessages(messages, "")
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, wired)
}

func (s *ParleyApp) getDirectMessageUnreads(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUnreads, err := s.db.ListDirectMessageUnreads(userId)
	if err != nil {
		s.log.Println("list direct message unreads:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	unreads := make([]types.DirectMessageUnread, 0, len(dbUnreads))
	for _, u := range dbUnreads {
		unreads = append(unreads, types.DirectMessageUnread{
			PeerId:        u.PeerId,
			PeerUsername:  u.PeerUsername,
			UnreadCount:   u.UnreadCount,
			LastMessageId: u.LastMessageId,
		})
	}

	s.writeJson(w, http.StatusOK, unreads)
}
