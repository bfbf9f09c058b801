package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotproxy/internal/auth"
	"github.com/desertthunder/spotproxy/internal/cache"
	"github.com/desertthunder/spotproxy/internal/models"
	"github.com/desertthunder/spotproxy/internal/services"
	"github.com/desertthunder/spotproxy/internal/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultWorkers   = 5
	MaxWorkers       = 10
	DefaultRateLimit = 5.0
)

// PlaylistFetcher reads a playlist and all of its items, waiting on pace before each upstream request.
// Satisfied by [services.Client].
type PlaylistFetcher interface {
	PlaylistWithItems(ctx context.Context, s *auth.Session, playlistID string, pace services.Pacer) (*services.SpotifyPlaylist, []services.SpotifyPlaylistTrack, error)
}

// AggregatorOpts contains configuration for collection aggregation.
type AggregatorOpts struct {
	Fetcher    PlaylistFetcher
	Cache      *cache.Cache[models.CollectionMetadata] // nil disables caching
	NumWorkers int                                     // Concurrent workers (default: 5, max: 10)
	RateLimit  float64                                 // Upstream requests per second (default: 5)
	Logger     *log.Logger
}

// Aggregator resolves collection ids to normalized metadata using application credentials.
type Aggregator struct {
	fetcher PlaylistFetcher
	cache   *cache.Cache[models.CollectionMetadata]
	workers int
	limiter *rate.Limiter
	logger  *log.Logger
}

type collectionJob struct {
	index int
	id    string
}

// NewAggregator creates an [Aggregator].
func NewAggregator(opts AggregatorOpts) (*Aggregator, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("%w: playlist fetcher not initialized", shared.ErrServiceUnavailable)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = DefaultWorkers
	}
	if opts.NumWorkers > MaxWorkers {
		opts.NumWorkers = MaxWorkers
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &Aggregator{
		fetcher: opts.Fetcher,
		cache:   opts.Cache,
		workers: opts.NumWorkers,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		logger:  opts.Logger,
	}, nil
}

// Collections returns one record per id, in the same order. Ids whose lookup fails are replaced by placeholders.
func (a *Aggregator) Collections(ctx context.Context, ids []string) []models.CollectionMetadata {
	return a.CollectionsWithProgress(ctx, ids, nil)
}

// CollectionsWithProgress is [Aggregator.Collections] with progress updates sent to progress.
func (a *Aggregator) CollectionsWithProgress(ctx context.Context, ids []string, progress chan<- ProgressUpdate) []models.CollectionMetadata {
	results := make([]models.CollectionMetadata, len(ids))
	if len(ids) == 0 {
		return results
	}

	sendProgress(progress, fetchingCollectionsUpdate(len(ids)))

	jobs := make(chan collectionJob, len(ids))
	for i, id := range ids {
		jobs <- collectionJob{index: i, id: id}
	}
	close(jobs)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	workers := min(a.workers, len(ids))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				m, err := a.collection(ctx, job.id)
				if err != nil {
					a.logger.Warn("collection unavailable", "id", job.id, "error", err)
					m = models.Unavailable(job.id, err)
				}
				results[job.index] = m

				mu.Lock()
				completed++
				step := completed
				mu.Unlock()

				if err != nil {
					sendProgress(progress, collectionFailedUpdate(step, len(ids), job.id, err))
				} else {
					sendProgress(progress, collectionDoneUpdate(step, len(ids), m))
				}
			}
		}()
	}
	wg.Wait()

	return results
}

// collection returns the metadata for one id through the cache.
func (a *Aggregator) collection(ctx context.Context, id string) (models.CollectionMetadata, error) {
	id = models.ParsePlaylistID(id)
	if id == "" {
		return models.CollectionMetadata{}, fmt.Errorf("%w: empty collection id", shared.ErrInvalidInput)
	}
	if a.cache == nil {
		return a.fetch(ctx, id)
	}
	return a.cache.GetOrFetch(ctx, id, a.fetch)
}

// fetch reads and normalizes the playlist with application credentials, paced page by page by the limiter.
func (a *Aggregator) fetch(ctx context.Context, id string) (models.CollectionMetadata, error) {
	pl, items, err := a.fetcher.PlaylistWithItems(ctx, nil, id, a.limiter.Wait)
	if err != nil {
		return models.CollectionMetadata{}, err
	}
	return Normalize(pl, items), nil
}

// Normalize maps an upstream playlist to [models.CollectionMetadata].
// CreatedAt is the earliest parseable added_at across items.
func Normalize(pl *services.SpotifyPlaylist, items []services.SpotifyPlaylistTrack) models.CollectionMetadata {
	m := models.CollectionMetadata{
		ID:          pl.ID,
		Name:        pl.Name,
		Description: pl.Description,
		Owner:       pl.Owner.DisplayName,
		TrackCount:  pl.Tracks.Total,
		URL:         pl.ExternalURLs.Spotify,
	}
	if m.Owner == "" {
		m.Owner = pl.Owner.ID
	}
	if m.TrackCount == 0 {
		m.TrackCount = len(items)
	}
	if len(pl.Images) > 0 {
		m.ImageURL = pl.Images[0].URL
	}

	added := make([]time.Time, 0, len(items))
	for _, item := range items {
		if t, ok := parseAddedAt(item.AddedAt); ok {
			added = append(added, t)
		}
	}
	m.CreatedAt = models.EarliestTime(added)

	return m
}

func parseAddedAt(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
