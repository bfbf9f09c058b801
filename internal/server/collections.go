package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/shared"
)

// CollectionsHandler serves aggregated playlist metadata.
type CollectionsHandler struct {
	source     CollectionSource
	defaultIDs []string
	logger     *log.Logger
}

// NewCollectionsHandler creates a [CollectionsHandler]. defaultIDs are used when the request names none.
func NewCollectionsHandler(source CollectionSource, defaultIDs []string, logger *log.Logger) *CollectionsHandler {
	return &CollectionsHandler{source: source, defaultIDs: defaultIDs, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *CollectionsHandler) Routes() []string {
	return []string{"GET /api/collections"}
}

func (h *CollectionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ids := SplitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		ids = h.defaultIDs
	}
	if len(ids) == 0 {
		writeError(w, h.logger, fmt.Errorf("%w: ids", shared.ErrMissingArgument))
		return
	}

	writeJSON(w, http.StatusOK, h.source.Collections(r.Context(), ids))
}

// SplitIDs splits a comma separated list, dropping blanks.
func SplitIDs(s string) []string {
	var ids []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
