// Package bus fans structured per-session events out to subscribers. A
// subscriber either follows one session id or everything. When a Redis client
// is supplied, events are additionally mirrored over pub/sub so that other
// instances see them; without one the bus is purely in-process.
package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-orchestrator-go/internal/model"
	redisclient "github.com/openclaw/wa-orchestrator-go/internal/redis"
)

const subscriberBuffer = 100

// Event is one structured log/status notification for a session.
type Event struct {
	ID     string          `json:"id"`
	TS     int64           `json:"ts"`
	Text   string          `json:"text"`
	Type   model.EventType `json:"type"`
	Origin string          `json:"origin,omitempty"`
}

// Subscriber receives events on a buffered channel until unsubscribed.
type Subscriber struct {
	id     string // empty means all sessions
	events chan Event
	done   chan struct{}
	bus    *Bus
	once   sync.Once
}

func (s *Subscriber) Events() <-chan Event {
	return s.events
}

func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) Unsubscribe() {
	s.bus.unsubscribe(s)
}

type Bus struct {
	redis    *redisclient.Client
	instance string

	mu       sync.RWMutex
	byID     map[string]map[*Subscriber]bool
	all      map[*Subscriber]bool
	relays   map[string]bool
	allRelay bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Bus. redisClient may be nil to disable mirroring.
func New(redisClient *redisclient.Client) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		redis:    redisClient,
		instance: newInstanceID(),
		byID:     make(map[string]map[*Subscriber]bool),
		all:      make(map[*Subscriber]bool),
		relays:   make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func newInstanceID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Publish delivers ev to local subscribers and mirrors it to Redis when
// configured. The timestamp is filled in if unset.
func (b *Bus) Publish(ev Event) {
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	b.deliver(ev, true, true)

	if b.redis == nil {
		return
	}
	ev.Origin = b.instance
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal bus event")
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, 2*time.Second)
	defer cancel()
	if err := b.redis.Publish(ctx, redisclient.LogChannel(ev.ID), data).Err(); err != nil {
		log.Warn().Err(err).Str("id", ev.ID).Msg("failed to mirror bus event to redis")
	}
}

// Subscribe follows one session id.
func (b *Bus) Subscribe(id string) *Subscriber {
	sub := &Subscriber{
		id:     id,
		events: make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
		bus:    b,
	}

	b.mu.Lock()
	if b.byID[id] == nil {
		b.byID[id] = make(map[*Subscriber]bool)
		if b.redis != nil && !b.relays[id] {
			b.relays[id] = true
			go b.relayChannel(id)
		}
	}
	b.byID[id][sub] = true
	count := len(b.byID[id])
	b.mu.Unlock()

	log.Debug().Str("id", id).Int("subscriberCount", count).Msg("bus subscriber added")
	return sub
}

// SubscribeAll follows every session.
func (b *Bus) SubscribeAll() *Subscriber {
	sub := &Subscriber{
		events: make(chan Event, subscriberBuffer),
		done:   make(chan struct{}),
		bus:    b,
	}

	b.mu.Lock()
	b.all[sub] = true
	if b.redis != nil && !b.allRelay {
		b.allRelay = true
		go b.relayPattern()
	}
	b.mu.Unlock()

	log.Debug().Msg("bus broadcast subscriber added")
	return sub
}

func (b *Bus) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if sub.id != "" {
		if subs, ok := b.byID[sub.id]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.byID, sub.id)
			}
		}
	} else {
		delete(b.all, sub)
	}
	b.mu.Unlock()

	sub.once.Do(func() { close(sub.done) })
}

// deliver routes ev to matching local subscribers, dropping on full buffers.
func (b *Bus) deliver(ev Event, toID, toAll bool) {
	b.mu.RLock()
	targets := make([]*Subscriber, 0, 4)
	if toID {
		for sub := range b.byID[ev.ID] {
			targets = append(targets, sub)
		}
	}
	if toAll {
		for sub := range b.all {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.events <- ev:
		default:
			log.Warn().Str("id", ev.ID).Msg("subscriber buffer full, dropping event")
		}
	}
}

// relayChannel forwards remote events for one id to its local subscribers.
func (b *Bus) relayChannel(id string) {
	pubsub := b.redis.Subscribe(b.ctx, redisclient.LogChannel(id))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.relayPayload(msg.Payload, true, false)
		}
	}
}

// relayPattern forwards remote events for any id to broadcast subscribers.
func (b *Bus) relayPattern() {
	pubsub := b.redis.PSubscribe(b.ctx, redisclient.LogPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.relayPayload(msg.Payload, false, true)
		}
	}
}

func (b *Bus) relayPayload(payload string, toID, toAll bool) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal relayed bus event")
		return
	}
	// Locally published events were already delivered.
	if ev.Origin == b.instance {
		return
	}
	b.deliver(ev, toID, toAll)
}

func (b *Bus) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.byID {
		for sub := range subs {
			sub.once.Do(func() { close(sub.done) })
		}
	}
	for sub := range b.all {
		sub.once.Do(func() { close(sub.done) })
	}
	b.byID = make(map[string]map[*Subscriber]bool)
	b.all = make(map[*Subscriber]bool)
}

// SubscriberCount reports local subscribers following id. The empty id
// counts broadcast subscribers.
func (b *Bus) SubscriberCount(id string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id == "" {
		return len(b.all)
	}
	return len(b.byID[id])
}
