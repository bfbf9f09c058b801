// Package auth owns the Spotify credentials used by the proxy.
//
// # App Credentials
//
// [AppTokenSupplier] performs the client-credentials grant and caches the resulting [AppToken]
// in an injected [AppTokenState]. The token is replaced wholesale and served only while
// now < ExpiresAt, where ExpiresAt already subtracts [ExpirySafetyMargin] from the upstream lifetime.
//
// # User Credentials
//
// [SessionManager] produces access tokens for a [Session]. A pair is fresh while
// now + [FreshnessMargin] < ExpiresAt; stale pairs are rotated with the refresh-token grant
// and written back to the [TokenStore]. When the upstream omits a new refresh token the old one is kept.
//
// # Errors
//
// Grant failures are returned as [shared.APIError] with [shared.KindAuth].
// A session without usable tokens yields [shared.KindUnauthenticated]; callers must not fall back
// to app credentials in that case.
package auth
