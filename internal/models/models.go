package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	playlistURLPattern = regexp.MustCompile(`playlist/([A-Za-z0-9]+)`)
	playlistURIPattern = regexp.MustCompile(`spotify:playlist:([A-Za-z0-9]+)`)
)

// CollectionMetadata is the normalized summary of one playlist.
type CollectionMetadata struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Owner       string     `json:"owner,omitempty"`
	TrackCount  int        `json:"track_count"`
	ImageURL    string     `json:"image_url,omitempty"`
	URL         string     `json:"url,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"` // earliest added_at across the items
	Unavailable bool       `json:"unavailable,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Unavailable builds the placeholder returned in place of a collection whose fetch failed.
func Unavailable(id string, err error) CollectionMetadata {
	m := CollectionMetadata{
		ID:          id,
		Name:        fmt.Sprintf("Unavailable (%s)", id),
		Unavailable: true,
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// Track is one row of a playlist export.
type Track struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Artists    []string   `json:"artists"`
	Album      string     `json:"album"`
	DurationMS int        `json:"duration_ms"`
	ISRC       string     `json:"isrc,omitempty"`
	AddedAt    *time.Time `json:"added_at,omitempty"`
	URL        string     `json:"spotify_url,omitempty"`
	URI        string     `json:"spotify_uri,omitempty"`
}

// Duration formats DurationMS as m:ss.
func (t Track) Duration() string {
	total := t.DurationMS / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// ArtistNames joins the artist names with ", ".
func (t Track) ArtistNames() string {
	return strings.Join(t.Artists, ", ")
}

// ParsePlaylistID accepts an open.spotify.com URL, a spotify:playlist: URI, or a bare id.
func ParsePlaylistID(s string) string {
	if m := playlistURLPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := playlistURIPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}

// EarliestTime returns the earliest of the given times, or nil when there are none.
func EarliestTime(times []time.Time) *time.Time {
	var earliest *time.Time
	for i := range times {
		if earliest == nil || times[i].Before(*earliest) {
			earliest = &times[i]
		}
	}
	if earliest == nil {
		return nil
	}
	t := *earliest
	return &t
}
