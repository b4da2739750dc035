package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mockFeed holds the generated events of one repository, newest first.
type mockFeed struct {
	mu           sync.Mutex
	repo         string
	nextID       int
	events       []map[string]any
	lastModified time.Time
	nextEventAt  time.Time
}

var (
	mockActors = []string{"freak4pc", "kzaher", "sergdort", "jdkelley", "hmlongco"}
	mockTypes  = []string{"PushEvent", "WatchEvent", "ForkEvent", "IssuesEvent", "PullRequestEvent"}
)

// tick appends a new event once the scheduled time is reached.
// Each repository gains an event every 15-40 seconds.
func (f *mockFeed) tick(now time.Time) {
	if now.Before(f.nextEventAt) {
		return
	}

	f.nextID++
	actor := mockActors[rand.Intn(len(mockActors))]
	kind := mockTypes[rand.Intn(len(mockTypes))]
	record := map[string]any{
		"id":   fmt.Sprintf("%d", 1_000_000+f.nextID),
		"type": kind,
		"actor": map[string]any{
			"display_login": actor,
			"avatar_url":    "https://avatars.githubusercontent.com/" + actor,
		},
		"repo":       map[string]any{"name": f.repo},
		"created_at": now.UTC().Format(time.RFC3339),
	}

	f.events = append([]map[string]any{record}, f.events...)
	if len(f.events) > 30 {
		f.events = f.events[:30]
	}
	f.lastModified = now.UTC().Truncate(time.Second)
	f.nextEventAt = now.Add(time.Duration(15+rand.Intn(26)) * time.Second)

	slog.Info("mock event", "repo", f.repo, "id", record["id"], "type", kind, "actor", actor)
}

// StartMockFeedServer runs a mock events API at addr serving
// /repos/{owner}/{name}/events with Last-Modified / If-Modified-Since
// support. Call this in a goroutine before starting GitFeed.
func StartMockFeedServer(addr string) {
	var (
		feeds = make(map[string]*mockFeed)
		mu    sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		repo, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/repos/"), "/events")
		if !ok || strings.Count(repo, "/") != 1 {
			http.NotFound(w, r)
			return
		}

		// simulate small latency variance
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		feed, exists := feeds[repo]
		if !exists {
			feed = &mockFeed{repo: repo}
			feeds[repo] = feed
		}
		mu.Unlock()

		feed.mu.Lock()
		feed.tick(time.Now())
		lastModified := feed.lastModified.Format(http.TimeFormat)
		body, err := json.Marshal(feed.events)
		feed.mu.Unlock()

		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Last-Modified", lastModified)
		if r.Header.Get("If-Modified-Since") == lastModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(body); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
