// Package indexer talks to the tonapi v2 HTTP API.
//
// Fetcher is the rate-limit aware transport: a 429 response is retried with
// linear or exponential backoff and repeated warnings are throttled. Client
// decodes the two calls the watcher needs, listing recent item ids and
// fetching one item's details.
package indexer
