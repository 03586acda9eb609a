package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/auth"
	"github.com/mahaj/workspace-realtime/pkg/delivery"
	"github.com/mahaj/workspace-realtime/pkg/directory"
	"github.com/mahaj/workspace-realtime/pkg/logger"
	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/presence"
	"github.com/mahaj/workspace-realtime/pkg/rooms"
	"github.com/mahaj/workspace-realtime/pkg/snowflake"
)

const defaultHistoryLimit = 50

type api struct {
	auth      *auth.Manager
	dir       directory.Directory
	orch      *delivery.Orchestrator
	registry  *presence.Registry
	rooms     *rooms.Manager
	snowflake *snowflake.Node
	log       *zap.Logger
}

func newAPI(authManager *auth.Manager, dir directory.Directory, orch *delivery.Orchestrator, reg *presence.Registry, mgr *rooms.Manager, node *snowflake.Node) *api {
	return &api{
		auth:      authManager,
		dir:       dir,
		orch:      orch,
		registry:  reg,
		rooms:     mgr,
		snowflake: node,
		log:       logger.Named("api"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type LoginRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	token, err := a.auth.GenerateToken(req.UserID, req.Email)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

type CreateMessageRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	RoomType    model.RoomType  `json:"room_type"`
	RoomID      string          `json:"room_id"`
	Content     string          `json:"content"`
	ParentID    int64           `json:"parent_id,omitempty"`
	Mentions    []model.Mention `json:"mentions,omitempty"`
}

type CreateMessageResponse struct {
	Message     *model.Message `json:"message"`
	FailedSteps []string       `json:"failed_steps,omitempty"`
}

// handleCreateMessage persists a message and hands it to the delivery
// pipeline. Persistence failures are fatal to the request; a degraded fan-out
// is reported but the message stands.
func (a *api) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	room := model.RoomRef{Type: req.RoomType, ID: req.RoomID}
	if err := room.Validate(); err != nil || !room.IsConversation() {
		http.Error(w, "Invalid room", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	if req.WorkspaceID == "" {
		http.Error(w, "workspace_id is required", http.StatusBadRequest)
		return
	}

	if err := a.requireMember(w, r, room, claims.UserID); err != nil {
		return
	}

	msgType := model.TypeUser
	if room.Type == model.RoomDM {
		msgType = model.TypeDM
	}
	msg := &model.Message{
		ID:        a.snowflake.Generate(),
		Content:   req.Content,
		SenderID:  claims.UserID,
		Room:      room,
		ParentID:  req.ParentID,
		Type:      msgType,
		CreatedAt: time.Now(),
		Mentions:  req.Mentions,
	}

	if err := a.dir.CreateMessage(r.Context(), msg); err != nil {
		a.log.Error("persisting message", zap.Int64("id", msg.ID), zap.Error(err))
		http.Error(w, "Failed to store message", http.StatusInternalServerError)
		return
	}

	var failed []string
	for _, res := range a.orch.MessageCreated(r.Context(), req.WorkspaceID, msg) {
		if res.Err != nil {
			failed = append(failed, res.Step)
		}
	}
	writeJSON(w, http.StatusCreated, CreateMessageResponse{Message: msg, FailedSteps: failed})
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	room := model.RoomRef{
		Type: model.RoomType(r.URL.Query().Get("room_type")),
		ID:   r.URL.Query().Get("room_id"),
	}
	if err := room.Validate(); err != nil || !room.IsConversation() {
		http.Error(w, "Invalid room", http.StatusBadRequest)
		return
	}
	if err := a.requireMember(w, r, room, claims.UserID); err != nil {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := a.orch.RecentMessages(r.Context(), room, limit)
	if err != nil {
		a.log.Error("loading history", zap.String("room", room.Key()), zap.Error(err))
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleChannelUsers serves /channels/{id}/users from the live membership
// set.
func (a *api) handleChannelUsers(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 4 || parts[3] != "users" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	room := model.Channel(parts[2])

	users, err := a.rooms.Members(r.Context(), room)
	if err != nil {
		a.log.Error("fetching room users", zap.String("room", room.Key()), zap.Error(err))
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleWorkspacePresence serves /workspaces/{id}/presence as one merged
// user -> status map.
func (a *api) handleWorkspacePresence(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 4 || parts[3] != "presence" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	statuses, err := a.registry.BulkStatus(r.Context(), parts[2])
	if err != nil {
		a.log.Error("fetching presence", zap.String("workspace", parts[2]), zap.Error(err))
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (a *api) handleUnread(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	summary, err := a.orch.UnreadCounts(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "Failed to fetch unread counts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type ReadRequest struct {
	RoomType model.RoomType `json:"room_type"`
	RoomID   string         `json:"room_id"`
}

func (a *api) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := claimsFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req ReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	room := model.RoomRef{Type: req.RoomType, ID: req.RoomID}
	if err := a.orch.MarkRead(r.Context(), claims.UserID, room); err != nil {
		if errors.Is(err, model.ErrInvalidRoom) {
			http.Error(w, "Invalid room", http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to reset unread count", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// requireMember writes the response itself on failure so callers can just
// return.
func (a *api) requireMember(w http.ResponseWriter, r *http.Request, room model.RoomRef, userID string) error {
	ok, err := a.dir.IsMember(r.Context(), room, userID)
	if err != nil {
		a.log.Error("membership lookup", zap.String("room", room.Key()), zap.Error(err))
		http.Error(w, "Failed to verify membership", http.StatusInternalServerError)
		return err
	}
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return errors.New("not a member")
	}
	return nil
}
