package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/metrics"
	"github.com/desertthunder/spotproxy/internal/models"
	"github.com/desertthunder/spotproxy/internal/services"
	"github.com/desertthunder/spotproxy/internal/shared"
	"github.com/prometheus/client_golang/prometheus"
)

type stubAuth struct {
	mu        sync.Mutex
	tokens    map[string]*auth.UserTokens
	codes     []string
	cleared   []string
	exchangeE error
}

func newStubAuth() *stubAuth {
	return &stubAuth{tokens: map[string]*auth.UserTokens{}}
}

func (a *stubAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.test/authorize?state=" + url.QueryEscape(state)
}

func (a *stubAuth) Load(_ context.Context, id string) (*auth.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &auth.Session{ID: id, Tokens: a.tokens[id]}, nil
}

func (a *stubAuth) Exchange(_ context.Context, s *auth.Session, code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codes = append(a.codes, code)
	if a.exchangeE != nil {
		return a.exchangeE
	}
	s.Tokens = &auth.UserTokens{AccessToken: "user-" + code, RefreshToken: "refresh", ExpiresAt: time.Now().Add(time.Hour)}
	a.tokens[s.ID] = s.Tokens
	return nil
}

func (a *stubAuth) Clear(_ context.Context, s *auth.Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared = append(a.cleared, s.ID)
	delete(a.tokens, s.ID)
	return nil
}

type stubExecutor struct {
	mu       sync.Mutex
	requests []services.Request
	resp     *services.Response
	err      error
}

func (e *stubExecutor) Execute(_ context.Context, req services.Request) (*services.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if req.Session != nil && req.Session.Tokens == nil {
		return nil, &shared.APIError{Kind: shared.KindUnauthenticated, Err: shared.ErrNoRefreshToken}
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.resp != nil {
		return e.resp, nil
	}
	return &services.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:       []byte(`{"id":"abc"}`),
		IsJSON:     true,
	}, nil
}

func (e *stubExecutor) last() services.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

type stubCollections struct {
	mu  sync.Mutex
	ids []string
}

func (c *stubCollections) Collections(_ context.Context, ids []string) []models.CollectionMetadata {
	c.mu.Lock()
	c.ids = ids
	c.mu.Unlock()

	out := make([]models.CollectionMetadata, len(ids))
	for i, id := range ids {
		out[i] = models.CollectionMetadata{ID: id, Name: "Playlist " + id}
	}
	return out
}

type fixture struct {
	auth        *stubAuth
	upstream    *stubExecutor
	collections *stubCollections
	server      *httptest.Server
	client      *http.Client
}

func newFixture(t *testing.T, defaultIDs ...string) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics.New failed: %v", err)
	}
	m.CacheLookup("hit")

	f := &fixture{auth: newStubAuth(), upstream: &stubExecutor{}, collections: &stubCollections{}}
	srv, err := New(Opts{
		Auth:              f.auth,
		Upstream:          f.upstream,
		Collections:       f.collections,
		DefaultIDs:        defaultIDs,
		PostLoginRedirect: "/done",
		Gatherer:          reg,
		Logger:            shared.NewLogger(io.Discard),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New failed: %v", err)
	}
	f.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

// login walks the browser through /auth/login and /auth/callback.
func (f *fixture) login(t *testing.T, code string) {
	t.Helper()
	resp, _ := f.do(t, http.MethodGet, "/auth/login")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login: expected 302, got %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("bad Location: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("login redirect carries no state")
	}

	resp, body := f.do(t, http.MethodGet, "/auth/callback?code="+code+"&state="+url.QueryEscape(state))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Location"); got != "/done" {
		t.Fatalf("callback: expected redirect to /done, got %q", got)
	}
}

func TestAuthFlow(t *testing.T) {
	t.Run("login, callback, me, logout", func(t *testing.T) {
		f := newFixture(t)
		f.login(t, "abc")

		if !slices.Equal(f.auth.codes, []string{"abc"}) {
			t.Fatalf("expected one exchange with code abc, got %v", f.auth.codes)
		}

		resp, _ := f.do(t, http.MethodGet, "/api/me/me")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		req := f.upstream.last()
		if req.Session == nil || req.Session.Tokens == nil || req.Session.Tokens.AccessToken != "user-abc" {
			t.Fatalf("expected session with exchanged tokens, got %+v", req.Session)
		}
		sessionID := req.Session.ID

		resp, _ = f.do(t, http.MethodPost, "/auth/logout")
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
		}
		if !slices.Equal(f.auth.cleared, []string{sessionID}) {
			t.Errorf("expected session %s cleared, got %v", sessionID, f.auth.cleared)
		}

		resp, _ = f.do(t, http.MethodGet, "/api/me/me")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("after logout: expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("second login keeps the session id", func(t *testing.T) {
		f := newFixture(t)
		f.login(t, "one")
		f.do(t, http.MethodGet, "/api/me/me")
		first := f.upstream.last().Session.ID

		f.login(t, "two")
		f.do(t, http.MethodGet, "/api/me/me")
		second := f.upstream.last()

		if second.Session.ID != first {
			t.Errorf("expected session id %s to survive re-login, got %s", first, second.Session.ID)
		}
		if second.Session.Tokens.AccessToken != "user-two" {
			t.Errorf("expected new tokens, got %s", second.Session.Tokens.AccessToken)
		}
	})

	t.Run("callback without login is rejected", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodGet, "/auth/callback?code=abc&state=forged")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
		if len(f.auth.codes) != 0 {
			t.Errorf("expected no exchange, got %v", f.auth.codes)
		}
	})

	t.Run("callback with wrong state is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.do(t, http.MethodGet, "/auth/login")
		resp, _ := f.do(t, http.MethodGet, "/auth/callback?code=abc&state=forged")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("state is single use", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodGet, "/auth/login")
		location, _ := url.Parse(resp.Header.Get("Location"))
		state := location.Query().Get("state")

		f.do(t, http.MethodGet, "/auth/callback?code=abc&state="+state)
		resp, _ = f.do(t, http.MethodGet, "/auth/callback?code=abc&state="+state)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected replay to be rejected, got %d", resp.StatusCode)
		}
	})

	t.Run("denied authorization", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodGet, "/auth/login")
		location, _ := url.Parse(resp.Header.Get("Location"))
		state := location.Query().Get("state")

		resp, body := f.do(t, http.MethodGet, "/auth/callback?error=access_denied&state="+state)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, "access_denied") {
			t.Errorf("expected error detail in body, got %s", body)
		}
	})

	t.Run("failed exchange", func(t *testing.T) {
		f := newFixture(t)
		f.auth.exchangeE = &shared.APIError{Kind: shared.KindAuth, Status: http.StatusBadRequest, Err: errors.New("invalid_grant")}

		resp, _ := f.do(t, http.MethodGet, "/auth/login")
		location, _ := url.Parse(resp.Header.Get("Location"))
		resp, body := f.do(t, http.MethodGet, "/auth/callback?code=bad&state="+location.Query().Get("state"))
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, `"kind":"auth"`) {
			t.Errorf("expected auth kind in body, got %s", body)
		}
	})

	t.Run("logout without session", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodPost, "/auth/logout")
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("expected 204, got %d", resp.StatusCode)
		}
		if len(f.auth.cleared) != 0 {
			t.Errorf("expected nothing cleared, got %v", f.auth.cleared)
		}
	})

	t.Run("logout requires POST", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodGet, "/auth/logout")
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
	})
}

func TestProxy(t *testing.T) {
	t.Run("public uses app credentials", func(t *testing.T) {
		f := newFixture(t)
		resp, body := f.do(t, http.MethodGet, "/api/public/playlists/abc?market=US&limit=5")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if body != `{"id":"abc"}` {
			t.Errorf("expected upstream body relayed, got %s", body)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("expected upstream content type, got %q", ct)
		}

		req := f.upstream.last()
		if req.Session != nil {
			t.Error("public request should not carry a session")
		}
		if req.Endpoint != "/playlists/abc?market=US&limit=5" {
			t.Errorf("unexpected endpoint %q", req.Endpoint)
		}
		if req.Method != http.MethodGet {
			t.Errorf("unexpected method %q", req.Method)
		}
	})

	t.Run("me without session is unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		resp, body := f.do(t, http.MethodGet, "/api/me/me/playlists")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, `"kind":"unauthenticated"`) {
			t.Errorf("expected unauthenticated kind, got %s", body)
		}
		if len(f.upstream.requests) != 0 {
			t.Errorf("expected no upstream call, got %d", len(f.upstream.requests))
		}
	})

	t.Run("empty path", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodGet, "/api/public/")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("only GET", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodPost, "/api/public/playlists/abc")
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", resp.StatusCode)
		}
	})

	t.Run("error mapping", func(t *testing.T) {
		tests := []struct {
			name       string
			err        error
			status     int
			retryAfter string
		}{
			{"rate limited", &shared.APIError{Kind: shared.KindRateLimited, Status: 429, RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, "2"},
			{"auth expired", &shared.APIError{Kind: shared.KindAuthExpired, Status: 401}, http.StatusUnauthorized, ""},
			{"auth", &shared.APIError{Kind: shared.KindAuth, Status: 400}, http.StatusBadGateway, ""},
			{"upstream keeps status", &shared.APIError{Kind: shared.KindUpstream, Status: 404}, http.StatusNotFound, ""},
			{"network", &shared.APIError{Kind: shared.KindNetwork, Err: errors.New("dial tcp")}, http.StatusBadGateway, ""},
			{"plain error", errors.New("boom"), http.StatusInternalServerError, ""},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t)
				f.upstream.err = tt.err

				resp, body := f.do(t, http.MethodGet, "/api/public/tracks/1")
				if resp.StatusCode != tt.status {
					t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
				}
				if got := resp.Header.Get("Retry-After"); got != tt.retryAfter {
					t.Errorf("expected Retry-After %q, got %q", tt.retryAfter, got)
				}

				var decoded errorBody
				if err := json.Unmarshal([]byte(body), &decoded); err != nil {
					t.Fatalf("error body is not JSON: %s", body)
				}
				if decoded.Error == "" {
					t.Error("expected error message")
				}
			})
		}
	})

	t.Run("no content", func(t *testing.T) {
		f := newFixture(t)
		f.upstream.resp = &services.Response{StatusCode: http.StatusNoContent}
		resp, body := f.do(t, http.MethodGet, "/api/public/me/player")
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("expected 204, got %d", resp.StatusCode)
		}
		if body != "" {
			t.Errorf("expected empty body, got %q", body)
		}
	})
}

func TestCollections(t *testing.T) {
	t.Run("ids from query", func(t *testing.T) {
		f := newFixture(t, "default")
		resp, body := f.do(t, http.MethodGet, "/api/collections?ids=a,%20b,,c")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if !slices.Equal(f.collections.ids, []string{"a", "b", "c"}) {
			t.Errorf("unexpected ids %v", f.collections.ids)
		}

		var got []models.CollectionMetadata
		if err := json.Unmarshal([]byte(body), &got); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(got) != 3 || got[1].ID != "b" {
			t.Errorf("unexpected collections %+v", got)
		}
	})

	t.Run("default ids", func(t *testing.T) {
		f := newFixture(t, "x", "y")
		resp, _ := f.do(t, http.MethodGet, "/api/collections")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if !slices.Equal(f.collections.ids, []string{"x", "y"}) {
			t.Errorf("expected default ids, got %v", f.collections.ids)
		}
	})

	t.Run("no ids", func(t *testing.T) {
		f := newFixture(t)
		resp, _ := f.do(t, http.MethodGet, "/api/collections")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestOperational(t *testing.T) {
	f := newFixture(t)

	t.Run("healthz", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, "/healthz")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, `"status":"ok"`) {
			t.Errorf("unexpected body %s", body)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, "/metrics")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if !strings.Contains(body, "spotproxy_") {
			t.Errorf("expected spotproxy metrics, got %s", body)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodGet, "/nope")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})
}

func TestRouter(t *testing.T) {
	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		router := NewBasicRouter()
		router.Use(mark("first"), mark("second"))
		router.Handle("get", "/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "handler")
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		if !slices.Equal(order, []string{"first", "second", "handler"}) {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("method mismatch", func(t *testing.T) {
		router := NewBasicRouter()
		router.Handle(http.MethodGet, "/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/x", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("patterns", func(t *testing.T) {
		router := NewBasicRouter()
		router.Handler(NewCollectionsHandler(&stubCollections{}, nil, shared.NewLogger(io.Discard)))
		router.Handle(http.MethodGet, "/healthz", http.HandlerFunc(Health))

		want := []string{"GET /api/collections", "GET /healthz"}
		if got := router.Patterns(); !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("recover", func(t *testing.T) {
		router := NewBasicRouter()
		router.Use(Recover(shared.NewLogger(io.Discard)))
		router.Handle(http.MethodGet, "/panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestSplitIDs(t *testing.T) {
	if got := SplitIDs(" a ,b,, "); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("unexpected %v", got)
	}
	if got := SplitIDs(""); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Opts{}); !errors.Is(err, shared.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
