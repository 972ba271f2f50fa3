package tabbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/redis"
)

// DefaultRedisTimeout bounds each Redis command issued by the bus.
const DefaultRedisTimeout = 3 * time.Second

// storageChannel carries change notifications for RedisStorage.
const storageChannel = "tab-bus-storage"

// frame is the Pub/Sub message body. From identifies the sending context
// so it can skip its own messages.
type frame struct {
	From     string          `json:"from"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Key      string          `json:"key,omitempty"`
	NewValue string          `json:"newValue,omitempty"`
	Removed  bool            `json:"removed,omitempty"`
}

// RedisBroadcaster is a Broadcaster over Redis Pub/Sub. Every Bus in every
// process connected to the same Redis joins the same channel.
type RedisBroadcaster struct {
	client  *redis.Client
	log     *logger.Logger
	timeout time.Duration
}

// NewRedisBroadcaster creates a broadcaster on client.
func NewRedisBroadcaster(client *redis.Client, log *logger.Logger) *RedisBroadcaster {
	if log == nil {
		log = logger.WithComponent("tabbus")
	}
	return &RedisBroadcaster{client: client, log: log, timeout: DefaultRedisTimeout}
}

// Open subscribes to the Redis channel for name.
func (b *RedisBroadcaster) Open(name string, onMessage func([]byte)) (BroadcastChannel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	channel := b.client.Key(name)
	ps, err := b.client.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	ch := &redisChannel{
		b:       b,
		id:      uuid.NewString(),
		channel: channel,
		ps:      ps,
	}
	go ch.listen(ps.Channel(), func(f frame) {
		if len(f.Payload) > 0 {
			onMessage(f.Payload)
		}
	})
	return ch, nil
}

type redisChannel struct {
	b       *RedisBroadcaster
	id      string
	channel string
	ps      *goredis.PubSub

	mu     sync.Mutex
	closed bool
}

func (c *redisChannel) Post(data []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	msg, err := json.Marshal(frame{From: c.id, Payload: data})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.b.timeout)
	defer cancel()
	return c.b.client.Publish(ctx, c.channel, msg)
}

func (c *redisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ps.Close()
}

func (c *redisChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// listen decodes frames from msgs, skipping this context's own, until the
// subscription is closed.
func (c *redisChannel) listen(msgs <-chan *goredis.Message, deliver func(frame)) {
	for msg := range msgs {
		var f frame
		if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
			c.b.log.Debug("Dropping malformed bus frame", logger.Fields(logger.FieldChannel, msg.Channel))
			continue
		}
		if f.From == c.id || c.isClosed() {
			continue
		}
		deliver(f)
	}
}

// RedisStorage is a Storage backed by Redis keys. Each change is followed
// by a Pub/Sub notification carrying the new value, so peers observe a
// write even when it is removed again before they could read it.
type RedisStorage struct {
	b *RedisBroadcaster
}

// NewRedisStorage creates a storage on client.
func NewRedisStorage(client *redis.Client, log *logger.Logger) *RedisStorage {
	return &RedisStorage{b: NewRedisBroadcaster(client, log)}
}

// Open subscribes to change notifications and returns a view.
func (s *RedisStorage) Open(onChange func(StorageEvent)) (StorageArea, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.b.timeout)
	defer cancel()
	channel := s.b.client.Key(storageChannel)
	ps, err := s.b.client.Subscribe(ctx, channel)
	if err != nil {
		return nil, err
	}
	a := &redisArea{redisChannel: redisChannel{
		b:       s.b,
		id:      uuid.NewString(),
		channel: channel,
		ps:      ps,
	}}
	go a.listen(ps.Channel(), func(f frame) {
		if f.Key == "" {
			return
		}
		onChange(StorageEvent{Key: f.Key, NewValue: f.NewValue, Removed: f.Removed})
	})
	return a, nil
}

type redisArea struct {
	redisChannel
}

func (a *redisArea) SetItem(key, value string) error {
	if a.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.b.timeout)
	defer cancel()
	if err := a.b.client.Set(ctx, a.b.client.Key(key), value, 0); err != nil {
		return fmt.Errorf("tabbus: set %s: %w", key, err)
	}
	return a.notify(ctx, frame{From: a.id, Key: key, NewValue: value})
}

func (a *redisArea) RemoveItem(key string) error {
	if a.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.b.timeout)
	defer cancel()
	if err := a.b.client.Del(ctx, a.b.client.Key(key)); err != nil {
		return fmt.Errorf("tabbus: remove %s: %w", key, err)
	}
	return a.notify(ctx, frame{From: a.id, Key: key, Removed: true})
}

func (a *redisArea) notify(ctx context.Context, f frame) error {
	msg, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return a.b.client.Publish(ctx, a.channel, msg)
}
