// package formatter renders aggregated collections and playlist exports as JSON, CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/spotproxy/internal/models"
	"github.com/desertthunder/spotproxy/internal/shared"
)

// Supported output formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

const dateLayout = "2006-01-02"

// Formats lists the accepted format names.
var Formats = []string{FormatJSON, FormatCSV, FormatMarkdown, FormatText}

// FormatCollections renders collections in the named format.
func FormatCollections(collections []models.CollectionMetadata, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return shared.MarshalJSON(collections, true)
	case FormatCSV:
		return CollectionsToCSV(collections)
	case FormatMarkdown, "md":
		return CollectionsToMarkdown(collections), nil
	case FormatText, "txt":
		return CollectionsToText(collections), nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q (want one of %s)", shared.ErrInvalidArgument, format, strings.Join(Formats, ", "))
	}
}

// CollectionsToCSV converts collections to CSV with columns: ID, Name, Owner, Tracks, Created, URL, Status
func CollectionsToCSV(collections []models.CollectionMetadata) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Name", "Owner", "Tracks", "Created", "URL", "Status"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, c := range collections {
		record := []string{
			c.ID,
			c.Name,
			c.Owner,
			strconv.Itoa(c.TrackCount),
			formatDate(c.CreatedAt),
			c.URL,
			status(c),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// CollectionsToMarkdown renders collections as a Markdown list, oldest-first order preserved from input
func CollectionsToMarkdown(collections []models.CollectionMetadata) []byte {
	var buf bytes.Buffer

	buf.WriteString("# Collections\n\n")
	for i, c := range collections {
		if c.Unavailable {
			fmt.Fprintf(&buf, "%d. ~~%s~~ (unavailable: %s)\n", i+1, c.ID, c.Error)
			continue
		}

		name := c.Name
		if c.URL != "" {
			name = fmt.Sprintf("[%s](%s)", c.Name, c.URL)
		}
		fmt.Fprintf(&buf, "%d. %s by %s, %d tracks", i+1, name, c.Owner, c.TrackCount)
		if c.CreatedAt != nil {
			fmt.Fprintf(&buf, ", since %s", formatDate(c.CreatedAt))
		}
		buf.WriteString("\n")
	}

	return buf.Bytes()
}

// CollectionsToText renders one line per collection
func CollectionsToText(collections []models.CollectionMetadata) []byte {
	var buf bytes.Buffer
	for _, c := range collections {
		if c.Unavailable {
			fmt.Fprintf(&buf, "- %s (unavailable)\n", c.ID)
			continue
		}
		fmt.Fprintf(&buf, "- %s (%s) - %d tracks\n", c.Name, c.ID, c.TrackCount)
	}
	return buf.Bytes()
}

// TracksToCSV converts track rows to CSV with columns:
// title, artists, album, duration_ms, duration_mm_ss, added_at, spotify_url, spotify_uri
func TracksToCSV(tracks []models.Track) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"title", "artists", "album", "duration_ms", "duration_mm_ss", "added_at", "spotify_url", "spotify_uri"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, tr := range tracks {
		addedAt := ""
		if tr.AddedAt != nil {
			addedAt = tr.AddedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			tr.Title,
			tr.ArtistNames(),
			tr.Album,
			strconv.Itoa(tr.DurationMS),
			tr.Duration(),
			addedAt,
			tr.URL,
			tr.URI,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders a playlist and its tracks with an optional cover image
func ExportToMarkdown(c models.CollectionMetadata, tracks []models.Track, imageFilename string) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", c.Name)

	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}

	if c.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", c.Description)
	}

	fmt.Fprintf(&buf, "**Owner**: %s\n", c.Owner)
	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(tracks))
	if c.CreatedAt != nil {
		fmt.Fprintf(&buf, "**Created**: %s\n", formatDate(c.CreatedAt))
	}
	buf.WriteString("\n## Tracks\n\n")

	for i, tr := range tracks {
		albumPart := ""
		if tr.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", tr.Album)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%s]\n", i+1, tr.ArtistNames(), tr.Title, albumPart, tr.Duration())
	}

	return buf.Bytes()
}

// ExportToText renders a playlist and its tracks as plain text
func ExportToText(c models.CollectionMetadata, tracks []models.Track) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", c.Name)
	if c.Description != "" {
		fmt.Fprintf(&buf, "Description: %s\n", c.Description)
	}
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(tracks))

	for i, tr := range tracks {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, tr.ArtistNames(), tr.Title)
	}

	return buf.Bytes()
}

// DownloadImage downloads an image from the given URL and returns the raw bytes
func DownloadImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL provided", shared.ErrMissingArgument)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}

// ExportFiles lists the files written by [WriteExport].
type ExportFiles struct {
	Directory  string
	Files      []string
	CoverImage string
}

// WriteExport writes a playlist export into outputDir in the named format.
//
// csv writes {id}_tracks.csv and {id}_metadata.json; markdown writes README.md and, when the collection has
// an image and client is non-nil, cover.jpg; text writes {id}_tracks.txt; json writes {id}.json.
func WriteExport(ctx context.Context, client *http.Client, c models.CollectionMetadata, tracks []models.Track, format, outputDir string) (*ExportFiles, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &ExportFiles{Directory: outputDir, Files: []string{}}
	base := filepath.Join(outputDir, c.ID)

	write := func(path string, data []byte) error {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
		result.Files = append(result.Files, path)
		return nil
	}

	switch strings.ToLower(format) {
	case FormatCSV:
		csvData, err := TracksToCSV(tracks)
		if err != nil {
			return nil, fmt.Errorf("failed to generate CSV: %w", err)
		}
		if err := write(base+"_tracks.csv", csvData); err != nil {
			return nil, err
		}
		metadata, err := shared.MarshalJSON(c, true)
		if err != nil {
			return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
		}
		if err := write(base+"_metadata.json", metadata); err != nil {
			return nil, err
		}

	case FormatMarkdown, "md":
		var cover string
		if c.ImageURL != "" && client != nil {
			if data, err := DownloadImage(ctx, client, c.ImageURL); err == nil {
				path := filepath.Join(outputDir, "cover.jpg")
				if err := write(path, data); err == nil {
					cover = "cover.jpg"
					result.CoverImage = path
				}
			}
		}
		if err := write(filepath.Join(outputDir, "README.md"), ExportToMarkdown(c, tracks, cover)); err != nil {
			return nil, err
		}

	case FormatText, "txt":
		if err := write(base+"_tracks.txt", ExportToText(c, tracks)); err != nil {
			return nil, err
		}

	case "", FormatJSON:
		data, err := shared.MarshalJSON(struct {
			Collection models.CollectionMetadata `json:"collection"`
			Tracks     []models.Track            `json:"tracks"`
		}{c, tracks}, true)
		if err != nil {
			return nil, fmt.Errorf("JSON marshal failed: %w", err)
		}
		if err := write(base+".json", data); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}

	return result, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func status(c models.CollectionMetadata) string {
	if c.Unavailable {
		return "unavailable"
	}
	return "ok"
}
