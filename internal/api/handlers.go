package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/npezzotti/geochat/internal/auth"
	"github.com/npezzotti/geochat/internal/database"
	"github.com/npezzotti/geochat/internal/types"
)

const maxHistoryLimit = 100

type RoomResponse struct {
	types.Room
	CountryName *string `json:"countryName"`
	StateName   *string `json:"stateName"`
}

type CreateConversationRequest struct {
	UserId string `json:"userId"`
}

type CreateInviteRequest struct {
	MaxUses   *int       `json:"maxUses"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type RedeemInviteResponse struct {
	RoomId string `json:"roomId"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Printf("request failed: %v", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

// lookupError maps a store error to 404 for missing rows and 500 otherwise.
func lookupError(err error) *ApiError {
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError()
	}
	return NewInternalServerError(err)
}

func optional(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// canRead reports whether userId may look into room. Private rooms are
// visible to members only.
func (s *GoChatApp) canRead(ctx context.Context, room database.Room, userId string) *ApiError {
	if !room.IsPrivate {
		return nil
	}

	member, err := s.db.IsRoomMember(ctx, room.Id, userId)
	if err != nil {
		return NewInternalServerError(err)
	}
	if !member {
		return NewForbiddenError()
	}

	return nil
}

func (s *GoChatApp) readableRoom(ctx context.Context, roomId, userId string) *ApiError {
	room, err := s.db.GetRoomById(ctx, roomId)
	if err != nil {
		return lookupError(err)
	}

	return s.canRead(ctx, room, userId)
}

func (s *GoChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	userId, _ := auth.UserId(r.Context())
	roomId := chi.URLParam(r, "roomId")

	details, err := s.db.GetRoomWithDetails(r.Context(), roomId)
	if err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	if errResp := s.canRead(r.Context(), details.Room, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	room := details.Room.Public()
	room.MemberCount = details.MemberCount
	room.OnlineCount = len(s.cs.OnlineUsers(r.Context(), roomId))

	s.writeJson(w, http.StatusOK, &RoomResponse{
		Room:        room,
		CountryName: optional(details.CountryName),
		StateName:   optional(details.StateName),
	})
}

func (s *GoChatApp) getOnlineUsers(w http.ResponseWriter, r *http.Request) {
	userId, _ := auth.UserId(r.Context())
	roomId := chi.URLParam(r, "roomId")

	if errResp := s.readableRoom(r.Context(), roomId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, s.cs.OnlineUsers(r.Context(), roomId))
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := auth.UserId(r.Context())
	roomId := chi.URLParam(r, "roomId")

	var page database.MessagePage

	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err := time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			s.writeError(w, NewBadRequestError())
			return
		}
		page.Before = &before
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > maxHistoryLimit {
			s.writeError(w, NewBadRequestError())
			return
		}
		page.Limit = limit
	}

	if errResp := s.readableRoom(r.Context(), roomId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	messages, err := s.db.GetMessagesByRoom(r.Context(), roomId, page)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	var authorIds []string
	for _, msg := range messages {
		if msg.UserId.Valid && !slices.Contains(authorIds, msg.UserId.String) {
			authorIds = append(authorIds, msg.UserId.String)
		}
	}

	authors := make(map[string]types.User, len(authorIds))
	if len(authorIds) > 0 {
		users, err := s.db.GetPublicUsersByIds(r.Context(), authorIds)
		if err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}
		for _, u := range users {
			authors[u.Id] = u.Public()
		}
	}

	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		var author *types.User
		if u, ok := authors[msg.UserId.String]; ok && msg.UserId.Valid {
			author = &u
		}
		out = append(out, msg.Public(author))
	}

	s.writeJson(w, http.StatusOK, out)
}

func (s *GoChatApp) createConversation(w http.ResponseWriter, r *http.Request) {
	userId, _ := auth.UserId(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if req.UserId == "" || req.UserId == userId {
		s.writeError(w, NewBadRequestError())
		return
	}

	if _, err := s.db.GetPublicUser(r.Context(), req.UserId); err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	blocked, err := s.db.IsBlockedEither(r.Context(), userId, req.UserId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if blocked {
		s.writeError(w, NewForbiddenError().WithMessage("cannot start a conversation with this user"))
		return
	}

	conv, err := s.db.FindOrCreateConversation(r.Context(), userId, req.UserId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, conv.Public())
}

func (s *GoChatApp) createInvite(w http.ResponseWriter, r *http.Request) {
	userId, _ := auth.UserId(r.Context())
	roomId := chi.URLParam(r, "roomId")

	var req CreateInviteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, NewBadRequestError())
			return
		}
	}
	if req.MaxUses != nil && *req.MaxUses <= 0 {
		s.writeError(w, NewBadRequestError().WithMessage("maxUses must be positive"))
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		s.writeError(w, NewBadRequestError().WithMessage("expiresAt must be in the future"))
		return
	}

	if _, err := s.db.GetRoomById(r.Context(), roomId); err != nil {
		s.writeError(w, lookupError(err))
		return
	}

	role, err := s.db.GetMemberRole(r.Context(), roomId, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if role != database.RoleOwner && role != database.RoleAdmin {
		s.writeError(w, NewForbiddenError())
		return
	}

	invite, err := s.db.CreateInvite(r.Context(), database.CreateInviteParams{
		RoomId:    roomId,
		CreatedBy: userId,
		MaxUses:   req.MaxUses,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, invite.Public())
}

func (s *GoChatApp) redeemInvite(w http.ResponseWriter, r *http.Request) {
	userId, _ := auth.UserId(r.Context())
	code := chi.URLParam(r, "code")

	roomId, err := s.db.RedeemInvite(r.Context(), code, userId)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrInviteInvalid):
			s.writeError(w, NewNotFoundError().WithMessage(database.ErrInviteInvalid.Error()))
		case errors.Is(err, database.ErrBanned):
			s.writeError(w, NewForbiddenError().WithMessage(database.ErrBanned.Error()))
		default:
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusOK, &RedeemInviteResponse{RoomId: roomId})
}
