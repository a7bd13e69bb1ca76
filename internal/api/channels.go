package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parleychat/parley/internal/database"
	"github.com/parleychat/parley/internal/server"
	"github.com/parleychat/parley/internal/types"
)

// ChannelRequest references a channel by its public short id.
type ChannelRequest struct {
	ChannelId string `json:"channel_id"`
}

func wireChannel(ch database.Channel) types.Channel {
	return types.Channel{
		Id:          ch.Id,
		ExternalId:  ch.ExternalId,
		Name:        ch.Name,
		Description: ch.Description,
		OwnerId:     ch.OwnerId,
		CreatedAt:   ch.CreatedAt,
		UpdatedAt:   ch.UpdatedAt,
	}
}

func (s *ParleyApp) createChannel(w http.ResponseWriter, r *http.Request) {
	var params database.CreateChannelParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if params.Name == "" || params.Description == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params.OwnerId = userId
	params.ExternalId = sid

	newChannel, err := s.db.CreateChannel(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel := wireChannel(newChannel)

	ev := server.NewEvent(server.EventChannelCreated, channel)
	ev.SkipUserId = userId
	s.cs.Broadcast(ev)

	s.writeJson(w, http.StatusCreated, channel)
}

func (s *ParleyApp) listChannels(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbChannels, err := s.db.ListChannels(userId)
	if err != nil {
		s.log.Println("list channels:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channels := make([]types.Channel, 0, len(dbChannels))
	for _, ch := range dbChannels {
		channel := wireChannel(ch.Channel)
		channel.UnreadCount = ch.UnreadCount
		channel.LastReadMessageId = ch.LastReadMessageId
		channels = append(channels, channel)
	}

	s.writeJson(w, http.StatusOK, channels)
}

func (s *ParleyApp) deleteChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
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

	// Check if the user is the owner of the channel
	if channel.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteChannel(channel.Id); err != nil {
		s.log.Println("delete channel:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ParleyApp) joinChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.db.GetChannelByExternalId(req.ChannelId)
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

	if _, err := s.db.CreateChannelMember(userId, channel.Id); err != nil {
		s.log.Println("join channel:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, wireChannel(channel))
}

func (s *ParleyApp) leaveChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.db.GetChannelByExternalId(req.ChannelId)
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

	if err := s.db.DeleteChannelMember(userId, channel.Id); err != nil {
		s.log.Println("leave channel:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *ParleyApp) markChannelRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	lastReadId, err := s.ms.MarkChannelRead(r.Context(), userId, req.ChannelId)
	if err != nil {
		errResp := fromServiceError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, server.ChannelReadPayload{
		ChannelId:         req.ChannelId,
		UserId:            userId,
		LastReadMessageId: lastReadId,
	})
}
