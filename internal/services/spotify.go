// Typed Web API endpoints built on [Client.Do]
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/shared"
)

const (
	maxPageLimit     = 50
	maxSeveralTracks = 50
)

// ExternalURLs holds the open.spotify.com link of a resource.
type ExternalURLs struct {
	Spotify string `json:"spotify"`
}

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	Explicit     bool            `json:"explicit"`
	ExternalIDs  externalIDs     `json:"external_ids"`
	Popularity   int             `json:"popularity"`
	URI          string          `json:"uri"`
	ExternalURLs ExternalURLs    `json:"external_urls"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	TotalTracks int             `json:"total_tracks"`
	Images      []SpotifyImage  `json:"images"`
	URI         string          `json:"uri"`
}

// Owner is the public profile attached to playlists and playlist items.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// SpotifyPaginatedPlaylistTracks is one page of playlist items.
type SpotifyPaginatedPlaylistTracks struct {
	Items    []SpotifyPlaylistTrack `json:"items"`
	Total    int                    `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
	Next     *string                `json:"next"`
	Previous *string                `json:"previous"`
}

// SpotifyPlaylist represents a Spotify playlist.
type SpotifyPlaylist struct {
	ID           string                         `json:"id"`
	Name         string                         `json:"name"`
	Description  string                         `json:"description"`
	Owner        Owner                          `json:"owner"`
	Public       bool                           `json:"public"`
	Tracks       SpotifyPaginatedPlaylistTracks `json:"tracks"`
	Images       []SpotifyImage                 `json:"images"`
	URI          string                         `json:"uri"`
	ExternalURLs ExternalURLs                   `json:"external_urls"`
	SnapshotID   string                         `json:"snapshot_id"`
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	AddedBy *Owner        `json:"added_by"`
	IsLocal bool          `json:"is_local"`
	Track   *SpotifyTrack `json:"track"`
}

// SpotifyPaginatedTracks represents a paginated response of saved tracks.
type SpotifyPaginatedTracks struct {
	Items    []SpotifySavedTrack `json:"items"`
	Total    int                 `json:"total"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
	Next     *string             `json:"next"`
	Previous *string             `json:"previous"`
}

// SpotifySavedTrack represents a track saved in the user's library.
type SpotifySavedTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// SpotifyPaginatedPlaylists represents a paginated response of playlists.
type SpotifyPaginatedPlaylists struct {
	Items    []SpotifySimplePlaylist `json:"items"`
	Total    int                     `json:"total"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
	Next     *string                 `json:"next"`
	Previous *string                 `json:"previous"`
}

type simplePlaylistTrack struct {
	Total int `json:"total"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Owner        Owner               `json:"owner"`
	Public       bool                `json:"public"`
	Tracks       simplePlaylistTrack `json:"tracks"`
	Images       []SpotifyImage      `json:"images"`
	URI          string              `json:"uri"`
	ExternalURLs ExternalURLs        `json:"external_urls"`
}

// CurrentUser retrieves the profile of the session's user.
func (c *Client) CurrentUser(ctx context.Context, s *auth.Session) (*SpotifyUser, error) {
	if s == nil {
		return nil, &shared.APIError{Kind: shared.KindUnauthenticated, Err: fmt.Errorf("%w: /me requires a session", shared.ErrMissingArgument)}
	}

	var user SpotifyUser
	if err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: "/me", Session: s}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Track retrieves a single track by ID.
func (c *Client) Track(ctx context.Context, s *auth.Session, trackID string) (*SpotifyTrack, error) {
	if err := requireID("track", trackID); err != nil {
		return nil, err
	}

	var track SpotifyTrack
	endpoint := fmt.Sprintf("/tracks/%s", url.PathEscape(trackID))
	if err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Session: s}, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// SeveralTracks retrieves multiple tracks by their IDs (up to 50).
func (c *Client) SeveralTracks(ctx context.Context, s *auth.Session, trackIDs []string) ([]SpotifyTrack, error) {
	if len(trackIDs) == 0 {
		return nil, fmt.Errorf("%w: no track IDs provided", shared.ErrMissingArgument)
	}
	if len(trackIDs) > maxSeveralTracks {
		return nil, fmt.Errorf("%w: maximum %d track IDs allowed", shared.ErrInvalidArgument, maxSeveralTracks)
	}

	endpoint := fmt.Sprintf("/tracks?ids=%s", url.QueryEscape(strings.Join(trackIDs, ",")))

	var response struct {
		Tracks []SpotifyTrack `json:"tracks"`
	}
	if err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Session: s}, &response); err != nil {
		return nil, err
	}

	return response.Tracks, nil
}

// SavedTracks retrieves one page of the session user's saved tracks.
func (c *Client) SavedTracks(ctx context.Context, s *auth.Session, limit, offset int) (*SpotifyPaginatedTracks, error) {
	endpoint := fmt.Sprintf("/me/tracks?limit=%d&offset=%d", clampLimit(limit), offset)

	var response SpotifyPaginatedTracks
	if err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Session: s}, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// CurrentUserPlaylists retrieves one page of the session user's playlists.
func (c *Client) CurrentUserPlaylists(ctx context.Context, s *auth.Session, limit, offset int) (*SpotifyPaginatedPlaylists, error) {
	endpoint := fmt.Sprintf("/me/playlists?limit=%d&offset=%d", clampLimit(limit), offset)

	var response SpotifyPaginatedPlaylists
	if err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Session: s}, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// Playlist retrieves a playlist by ID, including the first page of its items.
func (c *Client) Playlist(ctx context.Context, s *auth.Session, playlistID string) (*SpotifyPlaylist, error) {
	if err := requireID("playlist", playlistID); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/playlists/%s", url.PathEscape(playlistID))

	var playlist SpotifyPlaylist
	if err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Session: s}, &playlist); err != nil {
		return nil, err
	}

	return &playlist, nil
}

// PlaylistItems retrieves one page of a playlist's items.
func (c *Client) PlaylistItems(ctx context.Context, s *auth.Session, playlistID string, limit, offset int) (*SpotifyPaginatedPlaylistTracks, error) {
	if err := requireID("playlist", playlistID); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=%d&offset=%d", url.PathEscape(playlistID), clampLimit(limit), offset)
	return c.playlistPage(ctx, s, endpoint)
}

// Pacer is waited on before each request of a multi-page read. [rate.Limiter.Wait] satisfies it.
type Pacer func(ctx context.Context) error

func (p Pacer) wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	return nil
}

// AllPlaylistItems follows the next links until every item of the playlist has been read.
func (c *Client) AllPlaylistItems(ctx context.Context, s *auth.Session, playlistID string) ([]SpotifyPlaylistTrack, error) {
	page, err := c.PlaylistItems(ctx, s, playlistID, maxPageLimit, 0)
	if err != nil {
		return nil, err
	}
	return c.drain(ctx, s, page, nil)
}

// PlaylistWithItems retrieves a playlist and all of its items, reusing the first page embedded in the playlist object.
// pace, when non-nil, is waited on before the playlist request and before every further page.
func (c *Client) PlaylistWithItems(ctx context.Context, s *auth.Session, playlistID string, pace Pacer) (*SpotifyPlaylist, []SpotifyPlaylistTrack, error) {
	if err := pace.wait(ctx); err != nil {
		return nil, nil, err
	}
	playlist, err := c.Playlist(ctx, s, playlistID)
	if err != nil {
		return nil, nil, err
	}

	items, err := c.drain(ctx, s, &playlist.Tracks, pace)
	if err != nil {
		return nil, nil, err
	}
	return playlist, items, nil
}

func (c *Client) drain(ctx context.Context, s *auth.Session, page *SpotifyPaginatedPlaylistTracks, pace Pacer) ([]SpotifyPlaylistTrack, error) {
	items := append([]SpotifyPlaylistTrack(nil), page.Items...)
	for page.Next != nil && *page.Next != "" {
		if err := pace.wait(ctx); err != nil {
			return nil, err
		}
		next, err := c.playlistPage(ctx, s, *page.Next)
		if err != nil {
			return nil, err
		}
		items = append(items, next.Items...)
		page = next
	}
	return items, nil
}

func (c *Client) playlistPage(ctx context.Context, s *auth.Session, endpoint string) (*SpotifyPaginatedPlaylistTracks, error) {
	var page SpotifyPaginatedPlaylistTracks
	if err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Session: s}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return min(limit, maxPageLimit)
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", shared.ErrMissingArgument, kind)
	}
	return nil
}
