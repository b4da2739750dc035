// Package poller implements the fetch, classify, merge and persist cycle.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with per-request timeout and size limit
//   - [Fetcher]: Builds the conditional feed request and classifies the response
//   - [FetchResult]: Classification of one fetch (fresh, not modified, no change, failed)
//   - [Controller]: Runs at most one poll cycle at a time and publishes its outcome
//   - [Scheduler]: Triggers the controller periodically
//
// Users of the gitfeed library should not need to interact with this
// package directly. Configuration is done through the main gitfeed package.
package poller
