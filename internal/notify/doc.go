// Package notify fans poll-cycle notifications out to interested consumers.
//
// Two notifications exist: "history changed", carrying the merged history,
// and "refresh completed", sent at the end of every cycle so that a
// display can stop its refresh spinner even when nothing changed or the
// fetch failed.
//
// The main components are:
//
//   - [Broker]: Interface defining publish and subscription operations
//   - [Hub]: In-memory implementation of Broker
//   - [Update]: A single notification
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the poll cycle).
package notify
