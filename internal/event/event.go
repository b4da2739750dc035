package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Field paths read from a feed record. Paths use dot notation to navigate
// nested objects, e.g. "actor.avatar_url" reads {"actor": {"avatar_url": ...}}.
const (
	pathID         = "id"
	pathType       = "type"
	pathName       = "actor.display_login"
	pathLogin      = "actor.login"
	pathAvatar     = "actor.avatar_url"
	pathRepository = "repo.name"
)

// Parse errors. Records failing with any of these are dropped from a batch.
var (
	ErrNotObject   = errors.New("record is not an object")
	ErrMissingID   = errors.New("record has no usable id")
	ErrMissingType = errors.New("record has no usable type")
)

// Event is one entry of the activity feed.
//
// Event is immutable once returned by [Parse]: callers must not modify Raw.
// Raw holds the complete source record so that [Event.Serialize] can
// reproduce it for persistence.
type Event struct {
	// ID is the stable identifier from the source feed, used for dedup.
	ID string

	// Name is the display label of the actor.
	Name string

	// Repo is the name of the originating repository.
	Repo string

	// Action is the event kind as sent by the feed, e.g. "PushEvent".
	Action string

	// ImageURL is the actor's avatar URL, empty when absent or invalid.
	ImageURL string

	// Raw is the complete source record.
	Raw map[string]any
}

// Parse builds an [Event] from a decoded feed record.
//
// The record must carry a non-empty id (string or number) and a non-empty
// type. Actor name, repository and avatar are optional; an avatar that is
// not an absolute http(s) URL is ignored rather than rejecting the record.
func Parse(raw map[string]any) (Event, error) {
	if raw == nil {
		return Event{}, ErrNotObject
	}

	id := lookupString(raw, pathID)
	if id == "" {
		return Event{}, ErrMissingID
	}

	action := lookupString(raw, pathType)
	if action == "" {
		return Event{}, ErrMissingType
	}

	name := lookupString(raw, pathName)
	if name == "" {
		name = lookupString(raw, pathLogin)
	}

	return Event{
		ID:       id,
		Name:     name,
		Repo:     lookupString(raw, pathRepository),
		Action:   action,
		ImageURL: validImageURL(lookupString(raw, pathAvatar)),
		Raw:      raw,
	}, nil
}

// Serialize returns a record suitable for persistence.
//
// For an Event produced by [Parse] the result is a copy of the source
// record, so Parse(e.Serialize()) yields an equal Event. Fields that
// disagree with the record (or an Event built without one) are written
// into their canonical paths.
func (e Event) Serialize() map[string]any {
	out := copyRecord(e.Raw)
	if out == nil {
		out = make(map[string]any, 4)
	}

	if lookupString(out, pathID) != e.ID {
		out[pathID] = e.ID
	}
	if lookupString(out, pathType) != e.Action {
		out[pathType] = e.Action
	}

	name := lookupString(out, pathName)
	if name == "" {
		name = lookupString(out, pathLogin)
	}
	if name != e.Name {
		setPath(out, pathName, e.Name)
	}
	if lookupString(out, pathRepository) != e.Repo {
		setPath(out, pathRepository, e.Repo)
	}
	if validImageURL(lookupString(out, pathAvatar)) != e.ImageURL {
		setPath(out, pathAvatar, e.ImageURL)
	}

	return out
}

// Summary returns the detail line shown under the actor name, e.g.
// "ReactiveX/RxSwift, push" for a PushEvent.
func (e Event) Summary() string {
	kind := strings.ToLower(strings.ReplaceAll(e.Action, "Event", ""))
	if e.Repo == "" {
		return kind
	}
	return e.Repo + ", " + kind
}

// ParseBatch parses every record of a batch, dropping the ones that fail.
// It returns the parsed events in input order and the number of dropped records.
func ParseBatch(records []any) ([]Event, int) {
	events := make([]Event, 0, len(records))
	dropped := 0
	for _, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			dropped++
			continue
		}
		ev, err := Parse(obj)
		if err != nil {
			dropped++
			continue
		}
		events = append(events, ev)
	}
	return events, dropped
}

// Decode parses a JSON array of feed records.
//
// Numbers are kept as [json.Number] so records round-trip without losing
// precision. Returns an error if data is not a JSON array; individual
// records that fail [Parse] are dropped and counted.
func Decode(data []byte) ([]Event, int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var records []any
	if err := dec.Decode(&records); err != nil {
		return nil, 0, fmt.Errorf("decode records: %w", err)
	}

	events, dropped := ParseBatch(records)
	return events, dropped, nil
}

// Encode serializes events as a JSON array of records.
func Encode(events []Event) ([]byte, error) {
	records := make([]map[string]any, len(events))
	for i, ev := range events {
		records[i] = ev.Serialize()
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return data, nil
}

// validImageURL returns s if it is an absolute http(s) URL, else "".
func validImageURL(s string) string {
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return s
}
