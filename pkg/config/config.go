package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every knob shared by the gateway, api and messaging
// processes. Values come from the environment with local-dev defaults.
type Config struct {
	ServerID string `env:"SERVER_ID"`

	GatewayAddr string `env:"GATEWAY_ADDR" envDefault:":8080"`
	APIAddr     string `env:"API_ADDR" envDefault:":8081"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers      []string `env:"KAFKA_BROKERS" envDefault:"localhost:19092"`
	NotificationTopic string   `env:"NOTIFICATION_TOPIC" envDefault:"chat-notifications"`

	ScyllaHosts    []string `env:"SCYLLA_HOSTS" envDefault:"localhost:9042"`
	ScyllaKeyspace string   `env:"SCYLLA_KEYSPACE" envDefault:"chat"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-only-secret"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	// MembershipTTL bounds how long a crashed process's room membership
	// entries can linger. Short values self-heal faster but churn idle
	// connections, so it is a tunable rather than a constant.
	MembershipTTL time.Duration `env:"MEMBERSHIP_TTL" envDefault:"24h"`
	TypingTTL     time.Duration `env:"TYPING_TTL" envDefault:"10s"`

	MaxRecentMessages int64 `env:"MAX_RECENT_MESSAGES" envDefault:"100"`
}

// Load parses the environment. ServerID falls back to a per-process value so
// bus dedup works even when the variable is unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.ServerID == "" {
		host, _ := os.Hostname()
		cfg.ServerID = fmt.Sprintf("server-%s-%d", host, os.Getpid())
	}
	return cfg, nil
}
