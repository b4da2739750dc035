package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushRecord(id string) map[string]any {
	return map[string]any{
		"id":   id,
		"type": "PushEvent",
		"actor": map[string]any{
			"login":         "octocat",
			"display_login": "octo",
			"avatar_url":    "https://avatars.example.com/u/1",
		},
		"repo": map[string]any{
			"name": "ReactiveX/RxSwift",
		},
		"payload": map[string]any{
			"size":    json.Number("3"),
			"commits": []any{map[string]any{"sha": "abc"}},
		},
	}
}

func TestParse_WellFormed(t *testing.T) {
	ev, err := Parse(pushRecord("101"))
	require.NoError(t, err)

	assert.Equal(t, "101", ev.ID)
	assert.Equal(t, "octo", ev.Name)
	assert.Equal(t, "ReactiveX/RxSwift", ev.Repo)
	assert.Equal(t, "PushEvent", ev.Action)
	assert.Equal(t, "https://avatars.example.com/u/1", ev.ImageURL)
	assert.NotNil(t, ev.Raw)
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		wantErr error
	}{
		{name: "nil record", raw: nil, wantErr: ErrNotObject},
		{name: "missing id", raw: map[string]any{"type": "PushEvent"}, wantErr: ErrMissingID},
		{name: "empty id", raw: map[string]any{"id": "", "type": "PushEvent"}, wantErr: ErrMissingID},
		{name: "id is an object", raw: map[string]any{"id": map[string]any{}, "type": "PushEvent"}, wantErr: ErrMissingID},
		{name: "missing type", raw: map[string]any{"id": "1"}, wantErr: ErrMissingType},
		{name: "type not a string", raw: map[string]any{"id": "1", "type": true}, wantErr: ErrMissingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParse_Fallbacks(t *testing.T) {
	t.Run("numeric id", func(t *testing.T) {
		ev, err := Parse(map[string]any{"id": json.Number("4242"), "type": "ForkEvent"})
		require.NoError(t, err)
		assert.Equal(t, "4242", ev.ID)
	})

	t.Run("login when display_login is absent", func(t *testing.T) {
		ev, err := Parse(map[string]any{
			"id":    "1",
			"type":  "WatchEvent",
			"actor": map[string]any{"login": "octocat"},
		})
		require.NoError(t, err)
		assert.Equal(t, "octocat", ev.Name)
	})

	t.Run("invalid avatar is ignored", func(t *testing.T) {
		ev, err := Parse(map[string]any{
			"id":    "1",
			"type":  "WatchEvent",
			"actor": map[string]any{"avatar_url": "not a url"},
		})
		require.NoError(t, err)
		assert.Empty(t, ev.ImageURL)
	})
}

func TestSerialize_RoundTrip(t *testing.T) {
	records := []map[string]any{
		pushRecord("1"),
		{"id": json.Number("77"), "type": "ForkEvent"},
		{"id": "x", "type": "WatchEvent", "actor": map[string]any{"login": "a", "avatar_url": "ftp://nope"}},
	}

	for _, rec := range records {
		ev, err := Parse(rec)
		require.NoError(t, err)

		again, err := Parse(ev.Serialize())
		require.NoError(t, err)
		assert.Equal(t, ev, again)
	}
}

func TestSerialize_DoesNotAliasRaw(t *testing.T) {
	ev, err := Parse(pushRecord("1"))
	require.NoError(t, err)

	out := ev.Serialize()
	out["actor"].(map[string]any)["display_login"] = "changed"

	assert.Equal(t, "octo", ev.Raw["actor"].(map[string]any)["display_login"])
}

func TestSerialize_WithoutRaw(t *testing.T) {
	ev := Event{ID: "9", Name: "octo", Repo: "a/b", Action: "PushEvent", ImageURL: "https://x.example/a.png"}

	again, err := Parse(ev.Serialize())
	require.NoError(t, err)

	assert.Equal(t, ev.ID, again.ID)
	assert.Equal(t, ev.Name, again.Name)
	assert.Equal(t, ev.Repo, again.Repo)
	assert.Equal(t, ev.Action, again.Action)
	assert.Equal(t, ev.ImageURL, again.ImageURL)
}

func TestSummary(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Repo: "ReactiveX/RxSwift", Action: "PushEvent"}, "ReactiveX/RxSwift, push"},
		{Event{Repo: "a/b", Action: "PullRequestReviewEvent"}, "a/b, pullrequestreview"},
		{Event{Action: "ForkEvent"}, "fork"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.Summary())
	}
}

func TestDecode(t *testing.T) {
	body := []byte(`[
		{"id": "1", "type": "PushEvent", "repo": {"name": "a/b"}},
		{"type": "PushEvent"},
		"not an object",
		{"id": 2, "type": "ForkEvent"}
	]`)

	events, dropped, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, "2", events[1].ID)
}

func TestDecode_NotAnArray(t *testing.T) {
	_, _, err := Decode([]byte(`{"message": "Not Found"}`))
	assert.Error(t, err)

	_, _, err = Decode([]byte(`garbage`))
	assert.Error(t, err)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	first, err := Parse(pushRecord("1"))
	require.NoError(t, err)
	second, err := Parse(map[string]any{"id": json.Number("2"), "type": "ForkEvent"})
	require.NoError(t, err)

	data, err := Encode([]Event{first, second})
	require.NoError(t, err)

	events, dropped, err := Decode(data)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Equal(t, []Event{first, second}, events)
}
