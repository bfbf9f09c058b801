package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"
)

type tokenInfo struct {
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int       `json:"expires_in"`
	Token     string    `json:"access_token,omitempty"`
}

// Token performs a client-credentials grant and reports when the token lapses.
//
// The token value is only printed with --show.
func (r *Runner) Token(ctx context.Context, cmd *cli.Command) error {
	supplier, err := r.appTokens()
	if err != nil {
		return err
	}

	value, err := supplier.AppToken(ctx)
	if err != nil {
		return err
	}

	current := supplier.Current()
	info := tokenInfo{ExpiresAt: current.ExpiresAt.UTC()}
	info.ExpiresIn = int(time.Until(current.ExpiresAt).Round(time.Second).Seconds())
	if cmd.Bool("show") {
		info.Token = value
	}

	if cmd.Bool("json") {
		return r.writeJSON(info, true)
	}

	r.writeOK("app token valid until %s (%ds)", info.ExpiresAt.Format(time.RFC3339), info.ExpiresIn)
	if info.Token != "" {
		r.writePlain("%s\n", info.Token)
	}
	return nil
}
