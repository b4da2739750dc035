// Package event defines the activity feed entry and its record codec.
//
// Records are semi-structured JSON objects in the shape of the GitHub
// repository events API. [Parse] extracts the fields the feed needs and keeps
// the complete record so [Event.Serialize] can write it back unchanged.
// Malformed records are reported with a parse error and are expected to be
// dropped by the caller, never treated as fatal.
package event
