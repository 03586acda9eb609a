// Command schema creates or drops the ScyllaDB tables the cluster uses.
//
//	go run ./scripts/schema -action create
//	go run ./scripts/schema -action drop
package main

import (
	"flag"

	"github.com/mahaj/workspace-realtime/pkg/config"
	"github.com/mahaj/workspace-realtime/pkg/db"
	"github.com/mahaj/workspace-realtime/pkg/logger"
)

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS room_members (
		room_type text,
		room_id text,
		user_id text,
		PRIMARY KEY ((room_type, room_id), user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_rooms (
		user_id text,
		workspace_id text,
		room_type text,
		room_id text,
		PRIMARY KEY ((user_id), workspace_id, room_type, room_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		room_type text,
		room_id text,
		id bigint,
		sender_id text,
		content text,
		message_type text,
		parent_id bigint,
		mentions text,
		created_at timestamp,
		PRIMARY KEY ((room_type, room_id), id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		user_id text,
		message_id bigint,
		workspace_id text,
		kind text,
		room_type text,
		room_id text,
		preview text,
		created_at timestamp,
		PRIMARY KEY (user_id, message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`,
}

var tables = []string{"room_members", "user_rooms", "messages", "notifications"}

func main() {
	action := flag.String("action", "create", "create or drop")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		logger.Fatalf("connecting to scylla: %v", err)
	}
	defer session.Close()

	switch *action {
	case "create":
		for _, stmt := range createStatements {
			if err := session.Query(stmt).Exec(); err != nil {
				logger.Fatalf("creating table: %v", err)
			}
		}
		logger.Infof("created %d tables in keyspace %s", len(createStatements), cfg.ScyllaKeyspace)
	case "drop":
		for _, table := range tables {
			if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
				logger.Fatalf("dropping %s: %v", table, err)
			}
		}
		logger.Infof("dropped %d tables", len(tables))
	default:
		logger.Fatalf("unknown action %q", *action)
	}
}
