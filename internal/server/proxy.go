package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/services"
	"github.com/desertthunder/spotproxy/internal/shared"
)

const (
	publicPrefix = "/api/public/"
	mePrefix     = "/api/me/"
)

// ProxyHandler forwards GET requests to the Web API.
//
// /api/public/ uses application credentials; /api/me/ uses the caller's session.
type ProxyHandler struct {
	upstream Executor
	auth     Authenticator
	sessions *scs.SessionManager
	logger   *log.Logger
}

// NewProxyHandler creates a [ProxyHandler].
func NewProxyHandler(upstream Executor, a Authenticator, sessions *scs.SessionManager, logger *log.Logger) *ProxyHandler {
	return &ProxyHandler{upstream: upstream, auth: a, sessions: sessions, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *ProxyHandler) Routes() []string {
	return []string{
		"GET " + publicPrefix + "{path...}",
		"GET " + mePrefix + "{path...}",
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" {
		writeError(w, h.logger, fmt.Errorf("%w: endpoint path is required", shared.ErrMissingArgument))
		return
	}

	endpoint := "/" + path
	if r.URL.RawQuery != "" {
		endpoint += "?" + r.URL.RawQuery
	}

	req := services.Request{Method: http.MethodGet, Endpoint: endpoint}
	if strings.HasPrefix(r.URL.Path, mePrefix) {
		sess, err := h.session(r.Context())
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		req.Session = sess
	}

	resp, err := h.upstream.Execute(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeUpstream(w, resp)
}

func (h *ProxyHandler) session(ctx context.Context) (*auth.Session, error) {
	id := h.sessions.GetString(ctx, SessionIDKey)
	if id == "" {
		return nil, &shared.APIError{Kind: shared.KindUnauthenticated, Err: errors.New("no session")}
	}
	return h.auth.Load(ctx, id)
}
