package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store with real TTL semantics, used by tests and
// single-node development. The clock is injectable so expiry is testable
// without sleeping.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
	sets   map[string]map[string]struct{}
	hashes map[string]map[string]int64
	lists  map[string][]string
	expiry map[string]time.Time

	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]string),
		sets:   make(map[string]map[string]struct{}),
		hashes: make(map[string]map[string]int64),
		lists:  make(map[string][]string),
		expiry: make(map[string]time.Time),
		Now:    time.Now,
	}
}

// expire drops the key if its TTL has elapsed. Callers hold the lock.
func (m *Memory) expire(key string) {
	deadline, ok := m.expiry[key]
	if !ok || m.Now().Before(deadline) {
		return
	}
	delete(m.values, key)
	delete(m.sets, key)
	delete(m.hashes, key)
	delete(m.lists, key)
	delete(m.expiry, key)
}

func (m *Memory) touch(key string, ttl time.Duration) {
	if ttl > 0 {
		m.expiry[key] = m.Now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *Memory) SetValue(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.touch(key, ttl)
	return nil
}

func (m *Memory) GetValue(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	val, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.sets, key)
		delete(m.hashes, key)
		delete(m.lists, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *Memory) SetAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	m.touch(key, ttl)
	return nil
}

func (m *Memory) SetRemove(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setMembersLocked(key), nil
}

func (m *Memory) SetsMembers(_ context.Context, keys ...string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(keys))
	for i, key := range keys {
		out[i] = m.setMembersLocked(key)
	}
	return out, nil
}

func (m *Memory) setMembersLocked(key string) []string {
	m.expire(key)
	set := m.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members
}

func (m *Memory) MoveBetweenSets(_ context.Context, member, target string, ttl time.Duration, others ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(target)
	set, ok := m.sets[target]
	if !ok {
		set = make(map[string]struct{})
		m.sets[target] = set
	}
	set[member] = struct{}{}
	m.touch(target, ttl)
	for _, key := range others {
		if other, ok := m.sets[key]; ok {
			delete(other, member)
		}
	}
	return nil
}

func (m *Memory) HashIncr(_ context.Context, key, field string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	hash, ok := m.hashes[key]
	if !ok {
		hash = make(map[string]int64)
		m.hashes[key] = hash
	}
	hash[field]++
	m.touch(key, ttl)
	return hash[field], nil
}

func (m *Memory) HashDelete(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	hash, ok := m.hashes[key]
	if !ok {
		return nil
	}
	for _, field := range fields {
		delete(hash, field)
	}
	return nil
}

func (m *Memory) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	out := make(map[string]string, len(m.hashes[key]))
	for field, val := range m.hashes[key] {
		out[field] = strconv.FormatInt(val, 10)
	}
	return out, nil
}

func (m *Memory) ListPrepend(_ context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	list := append([]string{value}, m.lists[key]...)
	if int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	m.lists[key] = list
	m.touch(key, ttl)
	return nil
}

func (m *Memory) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
