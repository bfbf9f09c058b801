package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/shared"
)

// Session keys held in the cookie session.
const (
	SessionIDKey  = "session_id"
	OAuthStateKey = "oauth_state"
)

const (
	loginPath    = "/auth/login"
	callbackPath = "/auth/callback"
	logoutPath   = "/auth/logout"
)

// AuthHandler runs the authorization code flow for browser sessions.
//
// The cookie session only holds an opaque session id; the token pair lives in the token store.
type AuthHandler struct {
	auth     Authenticator
	sessions *scs.SessionManager
	redirect string
	logger   *log.Logger
}

// NewAuthHandler creates an [AuthHandler]. After a successful callback the browser is sent to redirect.
func NewAuthHandler(a Authenticator, sessions *scs.SessionManager, redirect string, logger *log.Logger) *AuthHandler {
	if redirect == "" {
		redirect = "/"
	}
	return &AuthHandler{auth: a, sessions: sessions, redirect: redirect, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *AuthHandler) Routes() []string {
	return []string{
		"GET " + loginPath,
		"GET " + callbackPath,
		"POST " + logoutPath,
	}
}

func (h *AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case loginPath:
		h.login(w, r)
	case callbackPath:
		h.callback(w, r)
	case logoutPath:
		h.logout(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	state := shared.GenerateID()
	h.sessions.Put(r.Context(), OAuthStateKey, state)
	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
}

// callback validates state, exchanges the code and binds the token pair to the session id.
func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	expected := h.sessions.PopString(ctx, OAuthStateKey)
	if expected == "" || query.Get("state") != expected {
		writeError(w, h.logger, fmt.Errorf("%w: %w", shared.ErrInvalidArgument, shared.ErrInvalidState))
		return
	}

	code := query.Get("code")
	if code == "" {
		err := fmt.Errorf("%w: authorization denied: %s %s", shared.ErrInvalidArgument, query.Get("error"), query.Get("error_description"))
		writeError(w, h.logger, err)
		return
	}

	if err := h.sessions.RenewToken(ctx); err != nil {
		writeError(w, h.logger, fmt.Errorf("failed to renew session: %w", err))
		return
	}

	id := h.sessions.GetString(ctx, SessionIDKey)
	if id == "" {
		id = shared.GenerateID()
	}

	sess := &auth.Session{ID: id}
	if err := h.auth.Exchange(ctx, sess, code); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.sessions.Put(ctx, SessionIDKey, id)
	h.logger.Info("session authorized", "session", id)
	http.Redirect(w, r, h.redirect, http.StatusFound)
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if id := h.sessions.GetString(ctx, SessionIDKey); id != "" {
		if err := h.auth.Clear(ctx, &auth.Session{ID: id}); err != nil && !errors.Is(err, shared.ErrSessionNotFound) {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Info("session cleared", "session", id)
	}

	if err := h.sessions.Destroy(ctx); err != nil {
		writeError(w, h.logger, fmt.Errorf("failed to destroy session: %w", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
