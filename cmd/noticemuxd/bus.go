package main

import (
	"fmt"
	"sync"

	"github.com/kbukum/noticemux/logger"
	"github.com/kbukum/noticemux/redis"
	"github.com/kbukum/noticemux/tabbus"
)

// redisBroadcaster defers to a RedisBroadcaster built from the redis
// component's client once it has started. Bus sockets opened before that
// fail with ErrClosed.
type redisBroadcaster struct {
	comp *redis.Component
	log  *logger.Logger

	mu sync.Mutex
	b  *tabbus.RedisBroadcaster
}

func (r *redisBroadcaster) Open(name string, onMessage func([]byte)) (tabbus.BroadcastChannel, error) {
	r.mu.Lock()
	if r.b == nil {
		client := r.comp.Client()
		if client == nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("redis not started: %w", tabbus.ErrClosed)
		}
		r.b = tabbus.NewRedisBroadcaster(client, r.log)
	}
	b := r.b
	r.mu.Unlock()
	return b.Open(name, onMessage)
}

// busEnv picks the transport behind the gateway's /bus endpoint: Redis
// Pub/Sub when a redis component is configured, in-process otherwise.
func busEnv(comp *redis.Component, log *logger.Logger) tabbus.Env {
	if comp == nil {
		return tabbus.Env{Broadcast: tabbus.NewMemoryBroadcaster()}
	}
	return tabbus.Env{Broadcast: &redisBroadcaster{comp: comp, log: log}}
}
