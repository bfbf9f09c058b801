package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/metrics"
	"github.com/desertthunder/spotproxy/internal/shared"
	"golang.org/x/oauth2"
)

// SessionManagerOpts configures a [SessionManager].
type SessionManagerOpts struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	Store        TokenStore
	HTTPClient   *http.Client
	Now          func() time.Time
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

// SessionManager produces user-level tokens for browser sessions and rotates them via the refresh-token grant.
type SessionManager struct {
	config     *oauth2.Config
	store      TokenStore
	httpClient *http.Client
	now        func() time.Time
	logger     *log.Logger
	metrics    *metrics.Metrics
}

// NewSessionManager creates a manager backed by store.
func NewSessionManager(opts SessionManagerOpts) (*SessionManager, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client_id and client_secret are required", shared.ErrMissingCredentials)
	}
	if opts.TokenURL == "" {
		return nil, fmt.Errorf("%w: token url is required", shared.ErrInvalidConfig)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: token store is required", shared.ErrInvalidConfig)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &SessionManager{
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:      opts.Store,
		httpClient: opts.HTTPClient,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}, nil
}

// AuthCodeURL returns the authorization URL the browser is redirected to for login.
func (m *SessionManager) AuthCodeURL(state string) string {
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Load returns the session for id with whatever tokens are stored. Unknown ids yield a session without tokens.
func (m *SessionManager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", shared.ErrMissingArgument)
	}

	tokens, err := m.store.Load(ctx, id)
	if errors.Is(err, shared.ErrSessionNotFound) {
		return &Session{ID: id}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return &Session{ID: id, Tokens: tokens}, nil
}

// Exchange trades an authorization code for a token pair and stores it on the session.
func (m *SessionManager) Exchange(ctx context.Context, s *Session, code string) error {
	tok, err := m.config.Exchange(m.oauthContext(ctx), code)
	if err != nil {
		m.metrics.TokenGrant("authorization_code", "error")
		return grantError("authorization code exchange", err)
	}
	m.metrics.TokenGrant("authorization_code", "ok")

	tokens := rotate(tok, "", m.now())
	if err := m.store.Save(ctx, s.ID, tokens); err != nil {
		return fmt.Errorf("failed to save session tokens: %w", err)
	}
	s.Tokens = tokens

	return nil
}

// UserToken returns a fresh access token for the session, refreshing it when stale.
func (m *SessionManager) UserToken(ctx context.Context, s *Session) (string, error) {
	if s == nil {
		return "", unauthenticated(errors.New("no session"))
	}
	if s.Tokens.Fresh(m.now()) {
		return s.Tokens.AccessToken, nil
	}
	if !s.Tokens.CanRefresh() {
		return "", unauthenticated(shared.ErrNoRefreshToken)
	}

	return m.Refresh(ctx, s)
}

// Refresh exchanges the stored refresh token for a new pair, stores it, and returns the new access token.
//
// On failure the stored pair is left alone; the caller decides whether to [SessionManager.Clear] it.
func (m *SessionManager) Refresh(ctx context.Context, s *Session) (string, error) {
	if s == nil || !s.Tokens.CanRefresh() {
		return "", unauthenticated(shared.ErrNoRefreshToken)
	}

	prev := s.Tokens
	src := m.config.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: prev.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		m.metrics.TokenGrant("refresh_token", "error")
		m.logger.Warn("refresh token grant failed", "session", s.ID, "error", err)
		return "", grantError("refresh token grant", err)
	}
	m.metrics.TokenGrant("refresh_token", "ok")

	next := rotate(tok, prev.RefreshToken, m.now())
	s.Tokens = next
	if err := m.store.Save(ctx, s.ID, next); err != nil {
		m.logger.Warn("failed to persist rotated tokens", "session", s.ID, "error", err)
	}

	m.logger.Debug("user token refreshed", "session", s.ID, "rotated", next.RefreshToken != prev.RefreshToken)
	return next.AccessToken, nil
}

// Clear removes the session's token pair, forcing the user back through the authorization flow.
func (m *SessionManager) Clear(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	s.Tokens = nil
	if err := m.store.Delete(ctx, s.ID); err != nil && !errors.Is(err, shared.ErrSessionNotFound) {
		return fmt.Errorf("failed to clear session tokens: %w", err)
	}
	return nil
}

func (m *SessionManager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
