// Package delivery runs the post-persist fan-out of a new message: cache,
// unread counters, mention notifications and the room broadcast. Steps run in
// order but independently; one failing step never blocks the others.
package delivery

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/directory"
	"github.com/mahaj/workspace-realtime/pkg/jobs"
	"github.com/mahaj/workspace-realtime/pkg/logger"
	"github.com/mahaj/workspace-realtime/pkg/model"
	"github.com/mahaj/workspace-realtime/pkg/rooms"
	"github.com/mahaj/workspace-realtime/pkg/store"
)

// Events the orchestrator emits.
const (
	EventNewMessage      = "newMessage"
	EventChannelActivity = "channelActivity"
	EventWorkspaceNotice = "workspaceNotice"
	EventReadStatusSync  = "readStatusSync"
)

const previewLimit = 120

type Orchestrator struct {
	store     store.Store
	rooms     *rooms.Manager
	dir       directory.Directory
	queue     jobs.Queue
	bc        Broadcaster
	ttl       store.TTLConfig
	maxRecent int64
	log       *zap.Logger
}

func NewOrchestrator(s store.Store, mgr *rooms.Manager, dir directory.Directory, queue jobs.Queue, bc Broadcaster, ttl store.TTLConfig, maxRecent int64) *Orchestrator {
	return &Orchestrator{
		store:     s,
		rooms:     mgr,
		dir:       dir,
		queue:     queue,
		bc:        bc,
		ttl:       ttl,
		maxRecent: maxRecent,
		log:       logger.Named("delivery"),
	}
}

// StepResult reports one fan-out step. The message is already persisted when
// the steps run, so a failed step is degraded delivery, not a lost message.
type StepResult struct {
	Step string
	Err  error
}

// MessageCreated fans out a freshly persisted message. Every step runs even
// when an earlier one fails; the caller gets one result per step.
func (o *Orchestrator) MessageCreated(ctx context.Context, workspaceID string, msg *model.Message) []StepResult {
	steps := []struct {
		name string
		run  func() error
	}{
		{"cache", func() error { return o.cacheMessage(ctx, msg) }},
		{"unread", func() error { return o.bumpUnread(ctx, msg) }},
		{"notify", func() error { return o.notifyMentions(ctx, workspaceID, msg) }},
		{"broadcast", func() error { return o.broadcastMessage(ctx, workspaceID, msg) }},
	}

	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		err := step.run()
		if err != nil {
			o.log.Error("fan-out step failed",
				zap.String("step", step.name),
				zap.Int64("message_id", msg.ID),
				zap.Error(err))
		}
		results = append(results, StepResult{Step: step.name, Err: err})
	}
	return results
}

// cacheMessage writes the by-id cache entry and prepends to the bounded
// per-room recent list.
func (o *Orchestrator) cacheMessage(ctx context.Context, msg *model.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := o.store.SetValue(ctx, store.MessageKey(msg.ID), string(raw), o.ttl.MessageCache); err != nil {
		return err
	}
	return o.store.ListPrepend(ctx, store.RecentMessagesKey(msg.Room), string(raw), o.maxRecent, o.ttl.RecentMessages)
}

// bumpUnread increments the per-user unread counter for everyone currently in
// the room except the sender.
func (o *Orchestrator) bumpUnread(ctx context.Context, msg *model.Message) error {
	members, err := o.rooms.Members(ctx, msg.Room)
	if err != nil {
		return err
	}
	for _, userID := range members {
		if userID == msg.SenderID {
			continue
		}
		if _, err := o.store.HashIncr(ctx, store.UnreadKey(userID, msg.Room.Type), msg.Room.ID, o.ttl.UnreadCount); err != nil {
			return err
		}
	}
	return nil
}

// notifyMentions resolves mentions two ways. The live notice goes to whoever
// is in the room right now; the durable job targets the full member roster so
// offline users still get a notification row.
func (o *Orchestrator) notifyMentions(ctx context.Context, workspaceID string, msg *model.Message) error {
	if len(msg.Mentions) == 0 {
		return nil
	}

	special := model.IsSpecial(msg.Mentions)

	live, err := o.resolveLive(ctx, msg, special)
	if err != nil {
		return err
	}
	if len(live) > 0 {
		notice := map[string]interface{}{
			"workspace_id": workspaceID,
			"room":         msg.Room,
			"message_id":   msg.ID,
			"sender_id":    msg.SenderID,
			"preview":      preview(msg.Content),
			"timestamp":    time.Now().UnixMilli(),
		}
		if err := o.bc.SendToUsers(ctx, live, EventWorkspaceNotice, notice); err != nil {
			return err
		}
	}

	durable, err := o.resolveDurable(ctx, msg, special)
	if err != nil {
		return err
	}
	if len(durable) == 0 {
		return nil
	}
	return o.queue.Enqueue(ctx, jobs.TypeNotification, jobs.NotificationJob{
		WorkspaceID: workspaceID,
		UserIDs:     durable,
		Kind:        "MENTION",
		RoomType:    msg.Room.Type,
		RoomID:      msg.Room.ID,
		MessageID:   msg.ID,
		Preview:     preview(msg.Content),
	})
}

func (o *Orchestrator) resolveLive(ctx context.Context, msg *model.Message, special bool) ([]string, error) {
	if special {
		members, err := o.rooms.Members(ctx, msg.Room)
		if err != nil {
			return nil, err
		}
		return exclude(members, msg.SenderID), nil
	}
	return mentionedIDs(msg), nil
}

func (o *Orchestrator) resolveDurable(ctx context.Context, msg *model.Message, special bool) ([]string, error) {
	if special {
		members, err := o.dir.RoomMemberIDs(ctx, msg.Room)
		if err != nil {
			return nil, err
		}
		return exclude(members, msg.SenderID), nil
	}
	return mentionedIDs(msg), nil
}

// broadcastMessage delivers the message to the room and, for channel traffic,
// raises an activity event on the parent workspace room.
func (o *Orchestrator) broadcastMessage(ctx context.Context, workspaceID string, msg *model.Message) error {
	payload := map[string]interface{}{
		"message":   msg,
		"is_new":    true,
		"timestamp": time.Now().UnixMilli(),
	}
	if err := o.bc.BroadcastToRoom(ctx, msg.Room, EventNewMessage, payload, ""); err != nil {
		return err
	}
	if msg.Room.Type != model.RoomChannel {
		return nil
	}
	activity := map[string]interface{}{
		"channel_id": msg.Room.ID,
		"message_id": msg.ID,
		"sender_id":  msg.SenderID,
		"timestamp":  msg.CreatedAt.UnixMilli(),
	}
	return o.bc.BroadcastToRoom(ctx, model.Workspace(workspaceID), EventChannelActivity, activity, msg.SenderID)
}

// MarkRead resets the unread counter for one room and syncs the reset to the
// user's other connections.
func (o *Orchestrator) MarkRead(ctx context.Context, userID string, room model.RoomRef) error {
	if err := room.Validate(); err != nil {
		return err
	}
	if err := o.store.HashDelete(ctx, store.UnreadKey(userID, room.Type), room.ID); err != nil {
		return err
	}
	sync := map[string]interface{}{
		"room":    room,
		"read_at": time.Now().UnixMilli(),
		"unread":  0,
	}
	return o.bc.SendToUsers(ctx, []string{userID}, EventReadStatusSync, sync)
}

// UnreadSummary is the per-room unread counts for one user, split by room
// type.
type UnreadSummary struct {
	Channels map[string]int64 `json:"channels"`
	DMs      map[string]int64 `json:"dms"`
}

func (o *Orchestrator) UnreadCounts(ctx context.Context, userID string) (*UnreadSummary, error) {
	channels, err := o.readUnread(ctx, store.UnreadKey(userID, model.RoomChannel))
	if err != nil {
		return nil, err
	}
	dms, err := o.readUnread(ctx, store.UnreadKey(userID, model.RoomDM))
	if err != nil {
		return nil, err
	}
	return &UnreadSummary{Channels: channels, DMs: dms}, nil
}

func (o *Orchestrator) readUnread(ctx context.Context, key string) (map[string]int64, error) {
	fields, err := o.store.HashGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(fields))
	for roomID, value := range fields {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		counts[roomID] = n
	}
	return counts, nil
}

// RecentMessages serves history from the cache and falls back to the durable
// store when the cache window expired.
func (o *Orchestrator) RecentMessages(ctx context.Context, room model.RoomRef, limit int) ([]model.Message, error) {
	if err := room.Validate(); err != nil {
		return nil, err
	}
	raw, err := o.store.ListRange(ctx, store.RecentMessagesKey(room), 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		msgs := make([]model.Message, 0, len(raw))
		for _, entry := range raw {
			var msg model.Message
			if err := json.Unmarshal([]byte(entry), &msg); err != nil {
				continue
			}
			msgs = append(msgs, msg)
		}
		return msgs, nil
	}
	return o.dir.RecentMessages(ctx, room, limit)
}

func mentionedIDs(msg *model.Message) []string {
	seen := make(map[string]struct{}, len(msg.Mentions))
	ids := make([]string, 0, len(msg.Mentions))
	for _, m := range msg.Mentions {
		if m.Type != model.MentionUser || m.UserID == "" || m.UserID == msg.SenderID {
			continue
		}
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		ids = append(ids, m.UserID)
	}
	return ids
}

func exclude(ids []string, skip string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit])
}
