package main

import (
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/mahaj/workspace-realtime/pkg/auth"
	"github.com/mahaj/workspace-realtime/pkg/bus"
	"github.com/mahaj/workspace-realtime/pkg/config"
	"github.com/mahaj/workspace-realtime/pkg/db"
	"github.com/mahaj/workspace-realtime/pkg/delivery"
	"github.com/mahaj/workspace-realtime/pkg/directory"
	"github.com/mahaj/workspace-realtime/pkg/jobs"
	"github.com/mahaj/workspace-realtime/pkg/logger"
	"github.com/mahaj/workspace-realtime/pkg/presence"
	"github.com/mahaj/workspace-realtime/pkg/rooms"
	"github.com/mahaj/workspace-realtime/pkg/snowflake"
	"github.com/mahaj/workspace-realtime/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	log := logger.Named("api")

	st, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("connecting to redis: %v", err)
	}
	defer st.Close()

	// The api holds no sockets; its broadcasts go out on the bus and the
	// gateways deliver them.
	fanout, err := bus.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ServerID)
	if err != nil {
		logger.Fatalf("connecting bus: %v", err)
	}
	defer fanout.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		logger.Fatalf("connecting to scylla: %v", err)
	}
	defer session.Close()
	dir := directory.NewScylla(session)

	queue := jobs.NewKafkaQueue(cfg.KafkaBrokers, cfg.NotificationTopic)
	defer queue.Close()

	node, err := snowflake.NewNode(int64(os.Getpid() % 1024))
	if err != nil {
		logger.Fatalf("initializing id generator: %v", err)
	}

	ttls := store.DefaultTTLs()
	ttls.Membership = cfg.MembershipTTL
	ttls.Typing = cfg.TypingTTL

	registry := presence.NewRegistry(st, ttls)
	manager := rooms.NewManager(st, registry, dir, ttls)
	orch := delivery.NewOrchestrator(st, manager, dir, queue,
		delivery.NewPublishBroadcaster(fanout), ttls, cfg.MaxRecentMessages)

	authManager := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)
	a := newAPI(authManager, dir, orch, registry, manager, node)

	mux := http.NewServeMux()
	mux.Handle("/login", CORSMiddleware(http.HandlerFunc(a.handleLogin)))

	protect := func(h http.HandlerFunc) http.Handler {
		return CORSMiddleware(AuthMiddleware(authManager, h))
	}
	mux.Handle("/messages", protect(a.handleCreateMessage))
	mux.Handle("/history", protect(a.handleHistory))
	mux.Handle("/channels/", protect(a.handleChannelUsers))
	mux.Handle("/workspaces/", protect(a.handleWorkspacePresence))
	mux.Handle("/unread", protect(a.handleUnread))
	mux.Handle("/read", protect(a.handleRead))

	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, mux); err != nil {
		logger.Fatalf("api server: %v", err)
	}
}
