// Package services implements the resilient request executor for the Spotify Web API and typed endpoints on top of it.
//
// # Executor
//
// [Client.Execute] attaches a bearer token, performs the request and absorbs two upstream failure modes:
//   - 429 Too Many Requests : waits Retry-After (seconds or HTTP date) or exponential backoff, at most [RetryPolicy.MaxRateLimitRetries] times
//   - 401 Unauthorized : for session requests, refreshes the user token once and retries
//
// The credential is chosen per request: a non-nil [Request.Session] uses [UserTokens], otherwise [AppTokens].
//
// # Error Handling
//
// Every failure is a [shared.APIError] whose Kind is matched with errors.Is against the shared sentinels:
//   - [shared.ErrRateLimited] : 429 persisted past the retry budget
//   - [shared.ErrTokenExpired] : 401 persisted after the one refresh, or the refresh failed
//   - [shared.ErrAPIRequest] : any other non-2xx response, with status and body
//   - [shared.ErrNetwork] : transport failure or cancelled wait
//
// Token acquisition failures ([shared.ErrAuthFailed], [shared.ErrNotAuthenticated]) pass through unchanged.
//
// # Endpoints
//
// Playlist, track and profile lookups decode into the Spotify* response types. Paged playlist items are followed
// through their next links by [Client.AllPlaylistItems] and [Client.PlaylistWithItems].
package services
