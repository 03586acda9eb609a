package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker connects in-process Bus instances so multi-process fan-out
// can run inside a test or a single-node deployment.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string][]*memorySub
}

type memorySub struct {
	serverID string
	handler  Handler
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memorySub)}
}

// Bus returns a Bus bound to one simulated process.
func (br *MemoryBroker) Bus(serverID string) Bus {
	return &memoryBus{broker: br, serverID: serverID, subscribed: make(map[string]struct{})}
}

func (br *MemoryBroker) publish(channel string, env *Envelope) {
	br.mu.Lock()
	subs := append([]*memorySub(nil), br.subs[channel]...)
	br.mu.Unlock()

	for _, sub := range subs {
		// Same dedup rule as the Redis bus: the origin process already did
		// its local emission.
		if sub.serverID == env.OriginServerID {
			continue
		}
		clone := *env
		sub.handler(&clone)
	}
}

type memoryBus struct {
	broker   *MemoryBroker
	serverID string

	mu         sync.Mutex
	subscribed map[string]struct{}
}

func (b *memoryBus) ServerID() string { return b.serverID }

func (b *memoryBus) Publish(_ context.Context, channel string, env *Envelope) error {
	env.OriginServerID = b.serverID
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	b.broker.publish(channel, env)
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribed[channel]; ok {
		return nil
	}
	b.subscribed[channel] = struct{}{}

	b.broker.mu.Lock()
	b.broker.subs[channel] = append(b.broker.subs[channel], &memorySub{serverID: b.serverID, handler: handler})
	b.broker.mu.Unlock()
	return nil
}

func (b *memoryBus) Close() error { return nil }
