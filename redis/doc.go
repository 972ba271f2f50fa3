// Package redis provides a Redis client component built on go-redis with
// structured logging, key namespacing and lifecycle support.
//
// The tab bus uses it for cross-process delivery: Publish/Subscribe carry
// broadcast frames and Set/Del hold storage-fallback values.
//
//	comp := redis.NewComponent(redis.Config{Enabled: true, Addr: "localhost:6379"}, log)
//	registry.Register(comp)
//	...
//	client := comp.Client()
//	_ = client.Publish(ctx, client.Key("tab-bus:orders"), frame)
package redis
