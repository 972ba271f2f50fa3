// Package testutil provides an in-memory Redis for tests, backed by
// miniredis.
//
//	client, mini := testutil.NewClient(t)
//	_ = client.Set(ctx, "key", "value", 0)
//	mini.FastForward(time.Minute)
package testutil
