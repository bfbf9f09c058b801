package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/metrics"
	"github.com/desertthunder/spotproxy/internal/shared"
)

const DefaultBaseURL = "https://api.spotify.com/v1"

// AppTokens supplies the application-level bearer token. Satisfied by [auth.AppTokenSupplier].
type AppTokens interface {
	AppToken(ctx context.Context) (string, error)
	Invalidate()
}

// UserTokens supplies per-session bearer tokens. Satisfied by [auth.SessionManager].
type UserTokens interface {
	UserToken(ctx context.Context, s *auth.Session) (string, error)
	Refresh(ctx context.Context, s *auth.Session) (string, error)
	Clear(ctx context.Context, s *auth.Session) error
}

// RetryPolicy bounds how the executor reacts to 429 responses.
type RetryPolicy struct {
	MaxRateLimitRetries int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
}

// DefaultRetryPolicy allows three retries with backoff of 1s, 2s, 4s capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRateLimitRetries: 3, BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}
}

// Backoff returns min(BaseBackoff * 2^n, MaxBackoff) for the n-th retry (zero-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.BaseBackoff
	for i := 0; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, p.MaxBackoff)
}

// Request describes one logical call to the Web API.
//
// Endpoint is a path relative to the base URL or an absolute URL under it (as returned in paging links).
// A nil Session selects application credentials.
type Request struct {
	Method   string
	Endpoint string
	Body     any
	Session  *auth.Session
}

// Response is the successful upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// ClientOpts configures a [Client].
type ClientOpts struct {
	BaseURL    string
	HTTPClient *http.Client
	App        AppTokens
	Users      UserTokens
	Retry      RetryPolicy
	Logger     *log.Logger
	Metrics    *metrics.Metrics
	// Sleep waits for d or until ctx is done. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Client executes authenticated Web API requests, absorbing rate limiting and token expiry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	app        AppTokens
	users      UserTokens
	retry      RetryPolicy
	logger     *log.Logger
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

// NewClient creates a new [Client]. App is required; Users may be nil when only public data is fetched.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.App == nil {
		return nil, fmt.Errorf("%w: app token supplier is required", shared.ErrInvalidConfig)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		app:        opts.App,
		users:      opts.Users,
		retry:      opts.Retry,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		sleep:      opts.Sleep,
		now:        opts.Now,
	}, nil
}

// Execute performs req until it succeeds or a failure class is final.
//
// 429 responses are retried up to the policy's budget, honoring Retry-After.
// A 401 on a session request triggers one refresh and retry, unless the stale
// session token was already refreshed before the first attempt.
// The two budgets are independent.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(req.Endpoint)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if req.Body != nil {
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("%w: failed to encode request body: %v", shared.ErrInvalidInput, err)
		}
	}

	token, refreshed, err := c.token(ctx, req.Session)
	if err != nil {
		return nil, err
	}

	rateLimited := 0
	for {
		resp, err := c.attempt(ctx, method, target, payload, token)
		if err != nil {
			return nil, &shared.APIError{Kind: shared.KindNetwork, Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait, hinted := retryAfter(resp.Header, c.now())
			if rateLimited >= c.retry.MaxRateLimitRetries {
				c.logger.Warn("rate limit retries exhausted", "endpoint", req.Endpoint, "retries", rateLimited)
				return nil, &shared.APIError{
					Kind:       shared.KindRateLimited,
					Status:     resp.StatusCode,
					Body:       resp.Body,
					RetryAfter: wait,
				}
			}
			if !hinted {
				wait = c.retry.Backoff(rateLimited)
			}
			rateLimited++
			c.metrics.RateLimitRetry()
			c.logger.Debug("rate limited, waiting", "endpoint", req.Endpoint, "wait", wait, "retry", rateLimited)

			if err := c.sleep(ctx, wait); err != nil {
				return nil, &shared.APIError{Kind: shared.KindNetwork, Err: err}
			}

		case resp.StatusCode == http.StatusUnauthorized && req.Session == nil:
			c.app.Invalidate()
			return nil, &shared.APIError{Kind: shared.KindUpstream, Status: resp.StatusCode, Body: resp.Body}

		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed || c.users == nil {
				c.clear(ctx, req.Session)
				return nil, &shared.APIError{Kind: shared.KindAuthExpired, Status: resp.StatusCode, Body: resp.Body}
			}
			refreshed = true

			c.logger.Debug("access token rejected, refreshing", "session", req.Session.ID)
			token, err = c.users.Refresh(ctx, req.Session)
			if err != nil {
				c.clear(ctx, req.Session)
				return nil, &shared.APIError{Kind: shared.KindAuthExpired, Status: resp.StatusCode, Body: resp.Body, Err: err}
			}

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, &shared.APIError{Kind: shared.KindUpstream, Status: resp.StatusCode, Body: resp.Body}

		default:
			return resp, nil
		}
	}
}

// Do executes req and decodes a JSON body into out when out is non-nil.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

// token selects the credential: the session's user token when a session is present, else the app token.
//
// refreshed reports whether obtaining a user token already spent the request's single refresh.
func (c *Client) token(ctx context.Context, s *auth.Session) (token string, refreshed bool, err error) {
	if s == nil {
		token, err = c.app.AppToken(ctx)
		return token, false, err
	}
	if c.users == nil {
		return "", false, &shared.APIError{Kind: shared.KindUnauthenticated, Err: errors.New("user sessions are not configured")}
	}

	before := s.Tokens
	token, err = c.users.UserToken(ctx, s)
	if kind, ok := shared.KindOf(err); ok && kind == shared.KindAuth {
		c.clear(ctx, s)
	}
	return token, err == nil && s.Tokens != before, err
}

func (c *Client) clear(ctx context.Context, s *auth.Session) {
	if c.users == nil || s == nil {
		return
	}
	if err := c.users.Clear(ctx, s); err != nil {
		c.logger.Warn("failed to clear session tokens", "session", s.ID, "error", err)
	}
}

// attempt performs one physical request. Only transport and read failures are returned as errors.
func (c *Client) attempt(ctx context.Context, method, target string, payload []byte, token string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(method, 0, time.Since(start))
		c.logger.Debug("upstream request failed", "method", method, "url", target, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	c.metrics.ObserveUpstream(method, resp.StatusCode, elapsed)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("upstream request", "method", method, "url", target, "status", resp.StatusCode, "elapsed", elapsed)

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}

	var jsonData any
	if len(raw) > 0 && json.Unmarshal(raw, &jsonData) == nil {
		out.IsJSON = true
		out.JSONData = jsonData
	}

	return out, nil
}

// resolve turns an endpoint into an absolute URL under the base URL.
func (c *Client) resolve(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return "", fmt.Errorf("%w: endpoint is required", shared.ErrMissingArgument)
	case strings.HasPrefix(endpoint, c.baseURL+"/") || endpoint == c.baseURL:
		return endpoint, nil
	case strings.Contains(endpoint, "://"):
		return "", fmt.Errorf("%w: endpoint %q is outside %s", shared.ErrInvalidInput, endpoint, c.baseURL)
	case strings.HasPrefix(endpoint, "/"):
		return c.baseURL + endpoint, nil
	default:
		return c.baseURL + "/" + endpoint, nil
	}
}

// retryAfter parses a Retry-After header given as delay-seconds or an HTTP date.
// The second result is false when the header is absent or unparseable.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
