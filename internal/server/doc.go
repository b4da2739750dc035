// Package server provides the HTTP API consumed by gitfeed display clients.
//
// This package is internal to gitfeed and handles all HTTP concerns:
//
//   - REST API: "/api/events" for the current history, "/api/refresh" to
//     request a poll cycle
//   - Server-Sent Events: history and refresh notifications at "/api/sse"
//   - Operations: Prometheus metrics at "/metrics" and a "/healthz" probe
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the gitfeed library should not need to interact with this
// package directly. The server is started automatically by [gitfeed.GitFeed.Start].
package server
