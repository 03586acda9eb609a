package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/db"
	"github.com/mahaj/workspace-realtime/pkg/jobs"
	"github.com/mahaj/workspace-realtime/pkg/logger"
)

// Consumer drains the notification-job topic and persists one row per
// notified user. It runs in its own service so a slow write never stalls
// message delivery.
type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
	log    *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, session *db.Session) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, db: session, log: logger.Named("messaging")}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("reading job, retrying in 1s", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var job jobs.Job
		if err := json.Unmarshal(m.Value, &job); err != nil {
			c.log.Warn("malformed job", zap.Error(err))
			continue
		}

		switch job.Type {
		case jobs.TypeNotification:
			c.handleNotification(&job)
		default:
			c.log.Debug("skipping job", zap.String("type", job.Type))
		}
	}
}

func (c *Consumer) handleNotification(job *jobs.Job) {
	var n jobs.NotificationJob
	if err := json.Unmarshal(job.Payload, &n); err != nil {
		c.log.Warn("malformed notification payload", zap.Error(err))
		return
	}

	const q = `INSERT INTO notifications
		(user_id, message_id, workspace_id, kind, room_type, room_id, preview, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, userID := range n.UserIDs {
		err := c.db.Query(q, userID, n.MessageID, n.WorkspaceID, n.Kind,
			string(n.RoomType), n.RoomID, n.Preview, job.EnqueuedAt).Exec()
		if err != nil {
			c.log.Error("saving notification",
				zap.String("user", userID),
				zap.Int64("message_id", n.MessageID),
				zap.Error(err))
			continue
		}
	}
	c.log.Info("notifications stored",
		zap.Int64("message_id", n.MessageID),
		zap.Int("users", len(n.UserIDs)))
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
