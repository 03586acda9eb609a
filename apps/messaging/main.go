package main

import (
	"context"
	"fmt"

	"github.com/mahaj/workspace-realtime/pkg/config"
	"github.com/mahaj/workspace-realtime/pkg/db"
	"github.com/mahaj/workspace-realtime/pkg/logger"
)

const groupID = "messaging-service-group"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}

	// Schema creation should move to a migration tool; for now the worker
	// owns the table it writes.
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system")
	if err != nil {
		logger.Fatalf("connecting to scylla system keyspace: %v", err)
	}
	createKeyspace := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
		WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`,
		cfg.ScyllaKeyspace)
	if err := sysSession.Query(createKeyspace).Exec(); err != nil {
		logger.Fatalf("creating keyspace: %v", err)
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		logger.Fatalf("connecting to scylla: %v", err)
	}
	defer session.Close()

	err = session.Query(`CREATE TABLE IF NOT EXISTS notifications (
		user_id text,
		message_id bigint,
		workspace_id text,
		kind text,
		room_type text,
		room_id text,
		preview text,
		created_at timestamp,
		PRIMARY KEY (user_id, message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`).Exec()
	if err != nil {
		logger.Fatalf("creating notifications table: %v", err)
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.NotificationTopic, groupID, session)
	defer consumer.Close()

	logger.Infof("messaging worker consuming topic %s", cfg.NotificationTopic)
	consumer.Run(context.Background())
}
