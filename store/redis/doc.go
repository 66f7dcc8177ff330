// Package redis implements store.Store on Redis for deployments that
// already run Redis and do not want a SQL database in the path.
//
// Entities are stored as msgpack blobs under per-entity keys, with
// sorted sets indexing jobs and occurrences by their due instant. The
// claim, lease-renew, and owned-update operations run as Lua scripts
// that decode the blob server-side (cmsgpack), re-check claimability
// and lease ownership, and write back atomically, giving the same
// compare-and-swap guarantees as the SQL backends.
//
// Timestamps inside blobs and index scores are unix milliseconds so
// they survive Lua's float64 numbers without precision loss.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	st := redisstore.New(client)
//	if err := st.Ping(ctx); err != nil { ... }
package redis
