package store

import "time"

// TTLConfig bounds the lifetime of every transient key class. TTLs are
// refreshed on each write to a still-live key, not set once at creation, so
// they only expire state whose owner stopped writing.
type TTLConfig struct {
	Connection     time.Duration
	Status         time.Duration
	LastSeen       time.Duration
	Membership     time.Duration
	Typing         time.Duration
	MessageCache   time.Duration
	RecentMessages time.Duration
	UnreadCount    time.Duration
}

// DefaultTTLs mirrors the values the system has always run with.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		Connection:     24 * time.Hour,
		Status:         24 * time.Hour,
		LastSeen:       7 * 24 * time.Hour,
		Membership:     24 * time.Hour,
		Typing:         10 * time.Second,
		MessageCache:   time.Hour,
		RecentMessages: time.Hour,
		UnreadCount:    7 * 24 * time.Hour,
	}
}
