// Package tasks fans collection lookups out to the Spotify Web API.
//
// # Aggregation
//
// [Aggregator.Collections] resolves a list of playlist ids to [models.CollectionMetadata] through a bounded
// worker pool. Upstream calls are paced by a token-bucket limiter and go through the metadata cache, so repeated
// ids within the cache TTL cost nothing.
//
// A failed lookup never fails the batch: its slot holds a [models.Unavailable] placeholder instead. The result
// always has one entry per requested id, in request order.
//
// # Progress Reporting
//
// Operations accept an optional progress channel. Updates use select with default so a slow or absent
// reader never blocks the workers.
//
// # Export
//
// [Aggregator.Export] reads every item of one playlist and flattens it to [models.Track] rows for the formatter.
package tasks
