package tasks

import (
	"fmt"

	"github.com/desertthunder/spotproxy/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	FetchCollections Phase = iota
	CollectionDone
	CollectionFailed
	ExportPlaylist
)

func (p Phase) String() string {
	switch p {
	case FetchCollections:
		return "fetch_collections"
	case CollectionDone:
		return "collection_done"
	case CollectionFailed:
		return "collection_failed"
	case ExportPlaylist:
		return "export_playlist"
	default:
		return ""
	}
}

// sendProgress sends without blocking; a full or nil channel drops the update.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func fetchingCollectionsUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchCollections,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Fetching %d collections from Spotify...", total),
	}
}

func collectionDoneUpdate(step, total int, m models.CollectionMetadata) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CollectionDone,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d tracks)", step, total, m.Name, m.TrackCount),
		Data:    m,
	}
}

func collectionFailedUpdate(step, total int, id string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CollectionFailed,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, id, err),
	}
}

func exportingPlaylistUpdate(id string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    0,
		Total:   1,
		Message: fmt.Sprintf("Exporting playlist %s...", id),
	}
}

func exportCompletedUpdate(name string, tracks int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlaylist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✓ %s (%d tracks)", name, tracks),
	}
}
