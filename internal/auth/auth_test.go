package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/spotproxy/internal/shared"
	"golang.org/x/oauth2"
)

const (
	testClientID     = "test-client"
	testClientSecret = "test-secret"
)

// tokenServer is a fake accounts service. reply decides the response for each grant request.
type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
	mu    sync.Mutex
	forms []map[string]string
}

func newTokenServer(t *testing.T, reply func(grant string, n int) (int, map[string]any)) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(ts.calls.Add(1))

		id, secret, ok := r.BasicAuth()
		if !ok || id != testClientID || secret != testClientSecret {
			t.Errorf("expected basic auth credentials, got %q/%q (ok=%v)", id, secret, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}

		ts.mu.Lock()
		ts.forms = append(ts.forms, map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"refresh_token": r.PostForm.Get("refresh_token"),
			"code":          r.PostForm.Get("code"),
		})
		ts.mu.Unlock()

		status, body := reply(r.PostForm.Get("grant_type"), n)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) form(i int) map[string]string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.forms[i]
}

// memoryStore is a minimal TokenStore for package tests.
type memoryStore struct {
	mu      sync.Mutex
	tokens  map[string]*UserTokens
	saves   int
	deletes int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tokens: map[string]*UserTokens{}}
}

func (s *memoryStore) Load(_ context.Context, id string) (*UserTokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return tok, nil
}

func (s *memoryStore) Save(_ context.Context, id string, tokens *UserTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.tokens[id] = tokens
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if _, ok := s.tokens[id]; !ok {
		return shared.ErrSessionNotFound
	}
	delete(s.tokens, id)
	return nil
}

func approxEqual(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -2*time.Second && d < 2*time.Second
}

func TestTokens(t *testing.T) {
	now := time.Now()

	t.Run("AppToken Valid", func(t *testing.T) {
		var nilToken *AppToken
		if nilToken.Valid(now) {
			t.Error("expected nil token to be invalid")
		}
		if !(&AppToken{Value: "v", ExpiresAt: now.Add(time.Second)}).Valid(now) {
			t.Error("expected unexpired token to be valid")
		}
		if (&AppToken{Value: "v", ExpiresAt: now}).Valid(now) {
			t.Error("expected token at its expiry to be invalid")
		}
	})

	t.Run("UserTokens Fresh", func(t *testing.T) {
		tc := []struct {
			name   string
			tokens *UserTokens
			want   bool
		}{
			{name: "nil", tokens: nil, want: false},
			{name: "well within lifetime", tokens: &UserTokens{AccessToken: "a", ExpiresAt: now.Add(10 * time.Minute)}, want: true},
			{name: "inside freshness margin", tokens: &UserTokens{AccessToken: "a", ExpiresAt: now.Add(29 * time.Second)}, want: false},
			{name: "exactly at margin", tokens: &UserTokens{AccessToken: "a", ExpiresAt: now.Add(FreshnessMargin)}, want: false},
			{name: "missing access token", tokens: &UserTokens{ExpiresAt: now.Add(time.Hour)}, want: false},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if got := tt.tokens.Fresh(now); got != tt.want {
					t.Errorf("Fresh() = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("expires_in Parsing", func(t *testing.T) {
		tc := []struct {
			name  string
			raw   any
			want  time.Duration
			found bool
		}{
			{name: "json number", raw: map[string]any{"expires_in": float64(3600)}, want: time.Hour, found: true},
			{name: "form string", raw: url.Values{"expires_in": {"120"}}, want: 2 * time.Minute, found: true},
			{name: "missing", raw: map[string]any{}, found: false},
			{name: "zero", raw: map[string]any{"expires_in": float64(0)}, found: false},
			{name: "garbage", raw: url.Values{"expires_in": {"soon"}}, found: false},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				tok := (&oauth2.Token{AccessToken: "a"}).WithExtra(tt.raw)
				got, ok := expiresIn(tok)
				if got != tt.want || ok != tt.found {
					t.Errorf("expiresIn() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.found)
				}
			})
		}
	})
}

func TestAppTokenSupplier(t *testing.T) {
	newSupplier := func(t *testing.T, url string, now func() time.Time) *AppTokenSupplier {
		t.Helper()
		s, err := NewAppTokenSupplier(SupplierOpts{
			ClientID:     testClientID,
			ClientSecret: testClientSecret,
			TokenURL:     url,
			Now:          now,
		})
		if err != nil {
			t.Fatalf("NewAppTokenSupplier returned error: %v", err)
		}
		return s
	}

	t.Run("New", func(t *testing.T) {
		t.Run("Missing Credentials", func(t *testing.T) {
			_, err := NewAppTokenSupplier(SupplierOpts{TokenURL: "http://example.com"})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("Missing Token URL", func(t *testing.T) {
			_, err := NewAppTokenSupplier(SupplierOpts{ClientID: "id", ClientSecret: "secret"})
			if !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	})

	t.Run("Caches Within Freshness Window", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "Bearer", "expires_in": 3600}
		})
		supplier := newSupplier(t, ts.URL, time.Now)

		for i := 0; i < 5; i++ {
			tok, err := supplier.AppToken(context.Background())
			if err != nil {
				t.Fatalf("AppToken returned error: %v", err)
			}
			if tok != "app-token" {
				t.Errorf("expected app-token, got %s", tok)
			}
		}

		if got := ts.calls.Load(); got != 1 {
			t.Errorf("expected exactly 1 grant, got %d", got)
		}
		if grant := ts.form(0)["grant_type"]; grant != "client_credentials" {
			t.Errorf("expected client_credentials grant, got %s", grant)
		}
	})

	t.Run("ExpiresAt Subtracts Safety Margin", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "Bearer", "expires_in": 3600}
		})
		supplier := newSupplier(t, ts.URL, time.Now)

		issued := time.Now()
		if _, err := supplier.AppToken(context.Background()); err != nil {
			t.Fatalf("AppToken returned error: %v", err)
		}

		want := issued.Add(time.Hour - ExpirySafetyMargin)
		if got := supplier.Current().ExpiresAt; !approxEqual(got, want) {
			t.Errorf("expected ExpiresAt near %v, got %v", want, got)
		}
	})

	t.Run("Never Reuses Token Within Sixty Seconds Of Expiry", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "Bearer", "expires_in": 3600}
		})

		base := time.Now()
		var offset atomic.Int64
		clock := func() time.Time { return base.Add(time.Duration(offset.Load())) }
		supplier := newSupplier(t, ts.URL, clock)

		if _, err := supplier.AppToken(context.Background()); err != nil {
			t.Fatalf("AppToken returned error: %v", err)
		}

		// 59m30s later the upstream token still has 30s left, inside the 60s margin.
		offset.Store(int64(59*time.Minute + 30*time.Second))
		if _, err := supplier.AppToken(context.Background()); err != nil {
			t.Fatalf("AppToken returned error: %v", err)
		}

		if got := ts.calls.Load(); got != 2 {
			t.Errorf("expected refresh near expiry, got %d grants", got)
		}
	})

	t.Run("ExpiresAt Uses Only The Injected Clock", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "Bearer", "expires_in": 3600}
		})
		issued := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
		supplier := newSupplier(t, ts.URL, func() time.Time { return issued })

		if _, err := supplier.AppToken(context.Background()); err != nil {
			t.Fatalf("AppToken returned error: %v", err)
		}

		want := issued.Add(time.Hour - ExpirySafetyMargin)
		if got := supplier.Current().ExpiresAt; !got.Equal(want) {
			t.Errorf("expected ExpiresAt %v, got %v", want, got)
		}
	})

	t.Run("Missing expires_in Uses Default Lifetime", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "Bearer"}
		})
		supplier := newSupplier(t, ts.URL, time.Now)

		if _, err := supplier.AppToken(context.Background()); err != nil {
			t.Fatalf("AppToken returned error: %v", err)
		}

		want := time.Now().Add(defaultLifetime - ExpirySafetyMargin)
		if got := supplier.Current().ExpiresAt; !approxEqual(got, want) {
			t.Errorf("expected default lifetime, got %v", got)
		}
	})

	t.Run("Grant Failure Is An Auth Error", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusBadRequest, map[string]any{"error": "invalid_client"}
		})
		supplier := newSupplier(t, ts.URL, time.Now)

		_, err := supplier.AppToken(context.Background())
		if !errors.Is(err, shared.ErrAuthFailed) {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}

		var apiErr *shared.APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
			t.Errorf("expected upstream status 400 on error, got %+v", apiErr)
		}
		if supplier.Current() != nil {
			t.Error("expected no token to be cached after a failed grant")
		}
	})

	t.Run("Network Failure Is An Auth Error", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, nil
		})
		url := ts.URL
		ts.Close()

		supplier := newSupplier(t, url, time.Now)
		if _, err := supplier.AppToken(context.Background()); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("Invalidate Forces New Grant", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "Bearer", "expires_in": 3600}
		})
		supplier := newSupplier(t, ts.URL, time.Now)

		supplier.AppToken(context.Background())
		supplier.Invalidate()
		supplier.AppToken(context.Background())

		if got := ts.calls.Load(); got != 2 {
			t.Errorf("expected 2 grants, got %d", got)
		}
	})

	t.Run("Isolated States Do Not Share Tokens", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "app-token", "token_type": "Bearer", "expires_in": 3600}
		})
		a := newSupplier(t, ts.URL, time.Now)
		b := newSupplier(t, ts.URL, time.Now)

		a.AppToken(context.Background())
		b.AppToken(context.Background())

		if got := ts.calls.Load(); got != 2 {
			t.Errorf("expected each supplier to fetch its own token, got %d grants", got)
		}
	})
}

func TestSessionManager(t *testing.T) {
	newManager := func(t *testing.T, url string, store TokenStore) *SessionManager {
		t.Helper()
		m, err := NewSessionManager(SessionManagerOpts{
			ClientID:     testClientID,
			ClientSecret: testClientSecret,
			RedirectURL:  "http://127.0.0.1:3000/auth/callback",
			AuthURL:      url + "/authorize",
			TokenURL:     url,
			Scopes:       []string{"playlist-read-private"},
			Store:        store,
		})
		if err != nil {
			t.Fatalf("NewSessionManager returned error: %v", err)
		}
		return m
	}

	t.Run("New Requires Store", func(t *testing.T) {
		_, err := NewSessionManager(SessionManagerOpts{ClientID: "id", ClientSecret: "secret", TokenURL: "http://example.com"})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("AuthCodeURL", func(t *testing.T) {
		m := newManager(t, "http://accounts.example.com", newMemoryStore())
		url := m.AuthCodeURL("state-123")

		for _, want := range []string{"state=state-123", "client_id=test-client", "access_type=offline"} {
			if !strings.Contains(url, want) {
				t.Errorf("expected %q in auth url %s", want, url)
			}
		}
	})

	t.Run("UserToken", func(t *testing.T) {
		t.Run("Fresh Token Skips Refresh", func(t *testing.T) {
			ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
				return http.StatusOK, map[string]any{"access_token": "new"}
			})
			m := newManager(t, ts.URL, newMemoryStore())
			s := &Session{ID: "s1", Tokens: &UserTokens{AccessToken: "current", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}}

			tok, err := m.UserToken(context.Background(), s)
			if err != nil {
				t.Fatalf("UserToken returned error: %v", err)
			}
			if tok != "current" {
				t.Errorf("expected current token, got %s", tok)
			}
			if got := ts.calls.Load(); got != 0 {
				t.Errorf("expected no grant, got %d", got)
			}
		})

		t.Run("Stale Token Rotates Refresh Token", func(t *testing.T) {
			ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
				return http.StatusOK, map[string]any{"access_token": "new-access", "refresh_token": "new-refresh", "token_type": "Bearer", "expires_in": 3600}
			})
			store := newMemoryStore()
			m := newManager(t, ts.URL, store)
			s := &Session{ID: "s1", Tokens: &UserTokens{AccessToken: "old", RefreshToken: "old-refresh", ExpiresAt: time.Now().Add(-time.Minute)}}

			tok, err := m.UserToken(context.Background(), s)
			if err != nil {
				t.Fatalf("UserToken returned error: %v", err)
			}
			if tok != "new-access" {
				t.Errorf("expected new-access, got %s", tok)
			}
			if s.Tokens.RefreshToken != "new-refresh" {
				t.Errorf("expected rotated refresh token, got %s", s.Tokens.RefreshToken)
			}

			form := ts.form(0)
			if form["grant_type"] != "refresh_token" || form["refresh_token"] != "old-refresh" {
				t.Errorf("expected refresh grant with old-refresh, got %v", form)
			}

			stored, err := store.Load(context.Background(), "s1")
			if err != nil {
				t.Fatalf("expected rotated tokens to be stored: %v", err)
			}
			if stored.AccessToken != "new-access" {
				t.Errorf("expected stored access token new-access, got %s", stored.AccessToken)
			}
			if want := time.Now().Add(time.Hour - ExpirySafetyMargin); !approxEqual(stored.ExpiresAt, want) {
				t.Errorf("expected ExpiresAt near %v, got %v", want, stored.ExpiresAt)
			}
		})

		t.Run("Stale Token Preserves Refresh Token When Not Rotated", func(t *testing.T) {
			ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
				return http.StatusOK, map[string]any{"access_token": "new-access", "token_type": "Bearer", "expires_in": 3600}
			})
			m := newManager(t, ts.URL, newMemoryStore())
			s := &Session{ID: "s1", Tokens: &UserTokens{AccessToken: "old", RefreshToken: "keep-me", ExpiresAt: time.Now().Add(10 * time.Second)}}

			if _, err := m.UserToken(context.Background(), s); err != nil {
				t.Fatalf("UserToken returned error: %v", err)
			}
			if s.Tokens.RefreshToken != "keep-me" {
				t.Errorf("expected refresh token to be preserved, got %s", s.Tokens.RefreshToken)
			}
			if s.Tokens.AccessToken != "new-access" {
				t.Errorf("expected new access token, got %s", s.Tokens.AccessToken)
			}
		})

		t.Run("No Tokens Is Unauthenticated", func(t *testing.T) {
			m := newManager(t, "http://127.0.0.1:0", newMemoryStore())

			_, err := m.UserToken(context.Background(), &Session{ID: "s1"})
			if !errors.Is(err, shared.ErrNotAuthenticated) {
				t.Errorf("expected ErrNotAuthenticated, got %v", err)
			}
		})

		t.Run("Stale Token Without Refresh Token Is Unauthenticated", func(t *testing.T) {
			m := newManager(t, "http://127.0.0.1:0", newMemoryStore())
			s := &Session{ID: "s1", Tokens: &UserTokens{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Minute)}}

			_, err := m.UserToken(context.Background(), s)
			if !errors.Is(err, shared.ErrNotAuthenticated) {
				t.Errorf("expected ErrNotAuthenticated, got %v", err)
			}
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("Revoked Refresh Token Is An Auth Error", func(t *testing.T) {
			ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
				return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Refresh token revoked"}
			})
			store := newMemoryStore()
			m := newManager(t, ts.URL, store)
			original := &UserTokens{AccessToken: "old", RefreshToken: "revoked", ExpiresAt: time.Now().Add(-time.Minute)}
			s := &Session{ID: "s1", Tokens: original}

			_, err := m.Refresh(context.Background(), s)
			if !errors.Is(err, shared.ErrAuthFailed) {
				t.Fatalf("expected ErrAuthFailed, got %v", err)
			}
			if s.Tokens != original {
				t.Error("expected tokens to be untouched on failure")
			}
			if store.saves != 0 {
				t.Errorf("expected no saves, got %d", store.saves)
			}
		})
	})

	t.Run("Exchange Stores Tokens", func(t *testing.T) {
		ts := newTokenServer(t, func(grant string, n int) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "access", "refresh_token": "refresh", "token_type": "Bearer", "expires_in": 3600}
		})
		store := newMemoryStore()
		m := newManager(t, ts.URL, store)
		s := &Session{ID: "s1"}

		if err := m.Exchange(context.Background(), s, "auth-code"); err != nil {
			t.Fatalf("Exchange returned error: %v", err)
		}
		if form := ts.form(0); form["grant_type"] != "authorization_code" || form["code"] != "auth-code" {
			t.Errorf("expected authorization_code grant, got %v", form)
		}
		if s.Tokens == nil || s.Tokens.RefreshToken != "refresh" {
			t.Errorf("expected session tokens to be set, got %+v", s.Tokens)
		}

		loaded, err := m.Load(context.Background(), "s1")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if loaded.Tokens == nil || loaded.Tokens.AccessToken != "access" {
			t.Errorf("expected stored tokens on load, got %+v", loaded.Tokens)
		}
	})

	t.Run("Load Unknown Session", func(t *testing.T) {
		m := newManager(t, "http://127.0.0.1:0", newMemoryStore())
		s, err := m.Load(context.Background(), "missing")
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if s.Tokens != nil {
			t.Error("expected no tokens for unknown session")
		}

		if _, err := m.Load(context.Background(), ""); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument for empty id, got %v", err)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store := newMemoryStore()
		store.Save(context.Background(), "s1", &UserTokens{AccessToken: "a"})
		m := newManager(t, "http://127.0.0.1:0", store)
		s := &Session{ID: "s1", Tokens: &UserTokens{AccessToken: "a"}}

		if err := m.Clear(context.Background(), s); err != nil {
			t.Fatalf("Clear returned error: %v", err)
		}
		if s.Tokens != nil {
			t.Error("expected session tokens to be cleared")
		}
		if _, err := store.Load(context.Background(), "s1"); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected stored tokens to be deleted, got %v", err)
		}

		if err := m.Clear(context.Background(), &Session{ID: "never-stored"}); err != nil {
			t.Errorf("expected clearing an unknown session to succeed, got %v", err)
		}
	})
}
