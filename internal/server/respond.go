package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/services"
	"github.com/desertthunder/spotproxy/internal/shared"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("failed to encode response", "error", err)
	}
}

// writeError maps err onto a status code; rate limited answers carry Retry-After.
func writeError(w http.ResponseWriter, logger *log.Logger, err error) {
	status := shared.HTTPStatus(err)
	body := errorBody{Error: err.Error()}

	var apiErr *shared.APIError
	if errors.As(err, &apiErr) {
		body.Kind = apiErr.Kind.String()
		if apiErr.Kind == shared.KindRateLimited && apiErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(apiErr.RetryAfter.Seconds()))))
		}
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// writeUpstream relays a successful upstream reply.
func writeUpstream(w http.ResponseWriter, resp *services.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else if resp.IsJSON {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 && resp.StatusCode != http.StatusNoContent {
		w.Write(resp.Body)
	}
}
