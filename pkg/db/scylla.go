package db

import (
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/workspace-realtime/pkg/logger"
)

type Session struct {
	*gocql.Session
}

// NewSession connects to the ScyllaDB cluster with the retry policy every
// service shares.
func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	logger.Info("connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}
