package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/metrics"
	"github.com/desertthunder/spotproxy/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AppTokenState holds the cached [AppToken]. It is owned by whoever constructs the supplier,
// so tests and multiple proxies in one process never share a hidden singleton.
type AppTokenState struct {
	mu    sync.RWMutex
	token *AppToken
}

// NewAppTokenState returns an empty state.
func NewAppTokenState() *AppTokenState {
	return &AppTokenState{}
}

// Get returns the current token, which may be nil.
func (s *AppTokenState) Get() *AppToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the current token.
func (s *AppTokenState) Set(t *AppToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = t
}

// Clear drops the current token.
func (s *AppTokenState) Clear() {
	s.Set(nil)
}

// SupplierOpts configures an [AppTokenSupplier].
type SupplierOpts struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
	State        *AppTokenState
	Now          func() time.Time
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

// AppTokenSupplier produces a valid app-level token, fetching a new one when the cached token has lapsed.
type AppTokenSupplier struct {
	config     *clientcredentials.Config
	state      *AppTokenState
	httpClient *http.Client
	now        func() time.Time
	logger     *log.Logger
	metrics    *metrics.Metrics
}

// NewAppTokenSupplier creates a supplier for the given application credentials.
func NewAppTokenSupplier(opts SupplierOpts) (*AppTokenSupplier, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client_id and client_secret are required", shared.ErrMissingCredentials)
	}
	if opts.TokenURL == "" {
		return nil, fmt.Errorf("%w: token url is required", shared.ErrInvalidConfig)
	}
	if opts.State == nil {
		opts.State = NewAppTokenState()
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

	return &AppTokenSupplier{
		config: &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		state:      opts.State,
		httpClient: opts.HTTPClient,
		now:        opts.Now,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}, nil
}

// AppToken returns the cached token value while it is valid, otherwise performs a client-credentials grant.
//
// Concurrent callers may both perform the grant; the last token stored wins.
func (s *AppTokenSupplier) AppToken(ctx context.Context) (string, error) {
	if current := s.state.Get(); current.Valid(s.now()) {
		return current.Value, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	tok, err := s.config.Token(ctx)
	if err != nil {
		s.metrics.TokenGrant("client_credentials", "error")
		s.logger.Error("client credentials grant failed", "error", err)
		return "", grantError("client credentials grant", err)
	}
	s.metrics.TokenGrant("client_credentials", "ok")

	next := &AppToken{Value: tok.AccessToken, ExpiresAt: expiresAt(tok, s.now())}
	s.state.Set(next)
	s.logger.Debug("app token refreshed", "expires_at", next.ExpiresAt)

	return next.Value, nil
}

// Current returns the cached token without refreshing it.
func (s *AppTokenSupplier) Current() *AppToken {
	return s.state.Get()
}

// Invalidate drops the cached token so the next call performs a fresh grant.
func (s *AppTokenSupplier) Invalidate() {
	s.state.Clear()
}
