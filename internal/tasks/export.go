package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/models"
	"github.com/desertthunder/spotproxy/internal/services"
	"github.com/desertthunder/spotproxy/internal/shared"
)

// ExportResult holds one playlist flattened to rows.
type ExportResult struct {
	Collection models.CollectionMetadata
	Tracks     []models.Track
}

// Export reads every item of a playlist and converts it to track rows. Items without a track
// (removed or unavailable) are skipped. A nil session uses application credentials.
func (a *Aggregator) Export(ctx context.Context, s *auth.Session, playlist string, progress chan<- ProgressUpdate) (*ExportResult, error) {
	id := models.ParsePlaylistID(playlist)
	if id == "" {
		return nil, fmt.Errorf("%w: playlist id is required", shared.ErrMissingArgument)
	}

	sendProgress(progress, exportingPlaylistUpdate(id))

	pl, items, err := a.fetcher.PlaylistWithItems(ctx, s, id, a.limiter.Wait)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist %s: %w", id, err)
	}

	result := &ExportResult{
		Collection: Normalize(pl, items),
		Tracks:     TrackRows(items),
	}
	sendProgress(progress, exportCompletedUpdate(result.Collection.Name, len(result.Tracks)))

	return result, nil
}

// TrackRows converts playlist items to [models.Track] rows, skipping items without a track.
func TrackRows(items []services.SpotifyPlaylistTrack) []models.Track {
	rows := make([]models.Track, 0, len(items))
	for _, item := range items {
		if item.Track == nil || (item.Track.ID == "" && item.Track.Name == "") {
			continue
		}

		tr := item.Track
		artists := make([]string, 0, len(tr.Artists))
		for _, artist := range tr.Artists {
			artists = append(artists, artist.Name)
		}

		row := models.Track{
			ID:         tr.ID,
			Title:      tr.Name,
			Artists:    artists,
			Album:      tr.Album.Name,
			DurationMS: tr.DurationMS,
			ISRC:       tr.ExternalIDs.ISRC,
			URL:        tr.ExternalURLs.Spotify,
			URI:        tr.URI,
		}
		if t, ok := parseAddedAt(item.AddedAt); ok {
			row.AddedAt = &t
		}
		rows = append(rows, row)
	}
	return rows
}
