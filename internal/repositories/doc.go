// Package repositories implements persistence for per-session Spotify token pairs.
//
// Every store satisfies [auth.TokenStore] and reports a missing session as [shared.ErrSessionNotFound].
//
// Key Implementations:
//   - [MemoryTokenStore] : mutex-guarded map for tests and single-instance deploys
//   - [SQLiteTokenStore] : session_tokens table created by the embedded migrations
//   - [RedisTokenStore] : JSON values under <prefix>:<session id> with a sliding TTL
//
// [NewTokenStore] picks one from the [sessions] section of the configuration.
package repositories
