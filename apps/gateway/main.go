package main

import (
	"context"
	"net/http"

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
	"github.com/mahaj/workspace-realtime/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	log := logger.Named("gateway")

	st, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("connecting to redis: %v", err)
	}
	defer st.Close()

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

	ttls := store.DefaultTTLs()
	ttls.Membership = cfg.MembershipTTL
	ttls.Typing = cfg.TypingTTL

	registry := presence.NewRegistry(st, ttls)
	manager := rooms.NewManager(st, registry, dir, ttls)

	gw := NewGateway(fanout, registry, manager, dir)
	gw.orch = delivery.NewOrchestrator(st, manager, dir, queue, gw, ttls, cfg.MaxRecentMessages)

	ctx := context.Background()
	if err := gw.Start(ctx); err != nil {
		logger.Fatalf("starting gateway: %v", err)
	}

	authManager := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		gw.serveWS(authManager, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	log.Info("gateway listening",
		zap.String("addr", cfg.GatewayAddr),
		zap.String("server_id", cfg.ServerID))
	if err := http.ListenAndServe(cfg.GatewayAddr, mux); err != nil {
		logger.Fatalf("gateway server: %v", err)
	}
}
