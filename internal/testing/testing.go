// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/spotproxy/internal/auth"
)

// StubAppTokens is a test double for the app token supplier.
type StubAppTokens struct {
	mu            sync.Mutex
	Token         string
	Err           error
	Calls         int
	Invalidations int
}

func (s *StubAppTokens) AppToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	return s.Token, s.Err
}

func (s *StubAppTokens) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalidations++
}

// StubUserTokens is a test double for the session manager.
//
// UserToken returns Token; Refresh returns Refreshed (or RefreshErr) and installs it on the session.
type StubUserTokens struct {
	mu         sync.Mutex
	Token      string
	Err        error
	Refreshed  string
	RefreshErr error
	Refreshes  int
	Clears     int
}

func (s *StubUserTokens) UserToken(_ context.Context, _ *auth.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Token, s.Err
}

func (s *StubUserTokens) Refresh(_ context.Context, sess *auth.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Refreshes++
	if s.RefreshErr != nil {
		return "", s.RefreshErr
	}
	sess.Tokens = &auth.UserTokens{AccessToken: s.Refreshed, RefreshToken: "refresh", ExpiresAt: time.Now().Add(time.Hour)}
	return s.Refreshed, nil
}

func (s *StubUserTokens) Clear(_ context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clears++
	sess.Tokens = nil
	return nil
}

// RecordingSleeper records requested waits instead of sleeping.
type RecordingSleeper struct {
	mu    sync.Mutex
	Waits []time.Duration
}

func (r *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.Waits = append(r.Waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Recorded returns a copy of the recorded waits.
func (r *RecordingSleeper) Recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.Waits...)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
