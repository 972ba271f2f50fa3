// Package tabbus is a cross-context publish/subscribe channel.
//
// A Bus posts JSON object payloads to every other Bus opened on the same
// logical name. The transport is chosen once, at construction, from what
// the environment offers:
//
//   - a Broadcaster (native broadcast, one channel per name), preferred;
//   - a Storage (one shared key per name: post writes the payload and
//     removes it again, peers observe the change);
//   - neither, in which case posts go nowhere.
//
// In-process implementations of both live in this package; Redis backed
// ones let separate daemons share a bus.
//
//	bus := tabbus.New("orders", tabbus.Env{Broadcast: tabbus.NewMemoryBroadcaster()}, log)
//	defer bus.Close()
//	unsubscribe := bus.Subscribe(func(p tabbus.Payload) { ... })
//	_ = bus.Post(tabbus.Payload{"type": "close"})
package tabbus
