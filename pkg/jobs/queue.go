// Package jobs hands deferred work to the durable job queue. The core only
// enqueues; workers consume elsewhere.
package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mahaj/workspace-realtime/pkg/model"
)

const TypeNotification = "notification"

// Job is the unit written to the queue topic.
type Job struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NotificationJob asks the worker to persist one notification per user.
type NotificationJob struct {
	WorkspaceID string         `json:"workspace_id"`
	UserIDs     []string       `json:"user_ids"`
	Kind        string         `json:"kind"`
	RoomType    model.RoomType `json:"room_type"`
	RoomID      string         `json:"room_id"`
	MessageID   int64          `json:"message_id"`
	Preview     string         `json:"preview"`
}

type Queue interface {
	// Enqueue is fire-and-forget from the core's perspective; a failure is
	// the caller's to log, never to retry inline.
	Enqueue(ctx context.Context, jobType string, payload interface{}) error
	Close() error
}

// MemoryQueue collects jobs in process, for tests.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func NewMemoryQueue() *MemoryQueue { return &MemoryQueue{} }

func (q *MemoryQueue) Enqueue(_ context.Context, jobType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, Job{Type: jobType, Payload: raw, EnqueuedAt: time.Now()})
	return nil
}

func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}

func (q *MemoryQueue) Close() error { return nil }
