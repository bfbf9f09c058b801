// Package server exposes the proxy over HTTP.
//
// # Router
//
// [BasicRouter] registers method-aware [http.ServeMux] patterns behind a [Middleware] stack.
// The first middleware added is the outermost, so [Recover] wraps [Logging] which wraps the scs session loader.
//
// Handlers that serve several routes implement [Handler] and list their patterns from Routes.
//
// # Sessions
//
// Browser state lives in an scs cookie session holding two keys: the opaque session id ([SessionIDKey])
// and the pending OAuth state ([OAuthStateKey]). Token pairs are never written to the cookie.
//
// # Routes
//
//	GET  /auth/login             redirect to the authorize page
//	GET  /auth/callback          state check, code exchange, session bound
//	POST /auth/logout            clear stored tokens and destroy the cookie session
//	GET  /api/public/{path...}   upstream call with application credentials
//	GET  /api/me/{path...}       upstream call with the caller's session
//	GET  /api/collections?ids=   aggregated playlist metadata
//	GET  /metrics                Prometheus exposition
//	GET  /healthz                liveness
//
// Failures are rendered as JSON with the status chosen by [shared.HTTPStatus];
// rate limited responses carry a Retry-After header.
package server
