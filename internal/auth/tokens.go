package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/desertthunder/spotproxy/internal/shared"
	"golang.org/x/oauth2"
)

const (
	// ExpirySafetyMargin is subtracted from the declared token lifetime when computing ExpiresAt.
	ExpirySafetyMargin = 60 * time.Second
	// FreshnessMargin must remain before ExpiresAt for a user access token to be reused.
	FreshnessMargin = 30 * time.Second

	defaultLifetime = time.Hour
)

// AppToken is the client-credentials token representing the application itself.
type AppToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can be handed out at now.
func (t *AppToken) Valid(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// UserTokens is the OAuth token pair for one end-user session.
type UserTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Fresh reports whether the access token can be reused at now.
func (t *UserTokens) Fresh(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Add(FreshnessMargin).Before(t.ExpiresAt)
}

// CanRefresh reports whether a refresh-token grant is possible.
func (t *UserTokens) CanRefresh() bool {
	return t != nil && t.RefreshToken != ""
}

// Session is the per-request view of an authenticated browser session.
//
// Tokens is nil until the user completes the authorization flow and is replaced, never edited, on rotation.
type Session struct {
	ID     string
	Tokens *UserTokens
}

// TokenStore persists token pairs keyed by an opaque session id.
//
// Load returns [shared.ErrSessionNotFound] when nothing is stored for id.
type TokenStore interface {
	Load(ctx context.Context, id string) (*UserTokens, error)
	Save(ctx context.Context, id string, tokens *UserTokens) error
	Delete(ctx context.Context, id string) error
}

// expiresAt computes issue time + declared lifetime - safety margin.
//
// The lifetime is read from the raw expires_in field so that only the caller's clock is involved.
func expiresAt(tok *oauth2.Token, now time.Time) time.Time {
	lifetime := defaultLifetime
	if d, ok := expiresIn(tok); ok {
		lifetime = d
	}
	return now.Add(lifetime - ExpirySafetyMargin)
}

// expiresIn returns the positive expires_in of a grant response. JSON bodies decode it as a number,
// form-encoded bodies as a string.
func expiresIn(tok *oauth2.Token) (time.Duration, bool) {
	var secs float64
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		secs = f
	default:
		return 0, false
	}
	if secs <= 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// rotate builds the replacement pair from a grant response, keeping prevRefresh when none was issued.
func rotate(tok *oauth2.Token, prevRefresh string, now time.Time) *UserTokens {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}
	return &UserTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt(tok, now),
	}
}

// grantError wraps a failed grant as a [shared.KindAuth] error, keeping the upstream status and body.
func grantError(op string, err error) error {
	apiErr := &shared.APIError{Kind: shared.KindAuth, Err: fmt.Errorf("%s: %w", op, err)}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		apiErr.Status = retrieveErr.Response.StatusCode
		apiErr.Body = retrieveErr.Body
	}

	return apiErr
}

func unauthenticated(err error) error {
	return &shared.APIError{Kind: shared.KindUnauthenticated, Err: err}
}
