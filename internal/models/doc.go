// Package models defines the records the proxy hands to browsers and the CLI.
//
//   - [CollectionMetadata] : normalized playlist summary produced by the collection aggregator
//   - [Track] : one exported playlist row
//
// A collection that could not be fetched is still represented, as an [Unavailable] placeholder,
// so callers always receive one record per requested id in request order.
package models
