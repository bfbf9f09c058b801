package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/desertthunder/spotproxy/internal/services"
	"github.com/desertthunder/spotproxy/internal/shared"
	"github.com/urfave/cli/v3"
)

// APIGet makes a direct GET request with application credentials
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	client, err := r.upstream(nil)
	if err != nil {
		return err
	}

	r.logger.Debug("GET request", "path", path)

	resp, err := client.Execute(ctx, services.Request{Method: http.MethodGet, Endpoint: path})
	if err != nil {
		return err
	}

	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, cmd.Bool("pretty"))
	}

	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}
