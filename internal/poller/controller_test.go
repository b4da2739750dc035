package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jpalmerr/gitfeed/internal/event"
	"github.com/jpalmerr/gitfeed/internal/history"
	"github.com/jpalmerr/gitfeed/internal/metrics"
	"github.com/jpalmerr/gitfeed/internal/notify"
	"github.com/jpalmerr/gitfeed/internal/token"
)

const testResource = "ReactiveX/RxSwift"

type harness struct {
	dir        string
	controller *Controller
	history    *history.Store
	token      *token.Store
	hub        *notify.Hub
	updates    <-chan notify.Update
	registry   *prometheus.Registry
}

func (h *harness) historyPath() string { return filepath.Join(h.dir, "events.json") }
func (h *harness) tokenPath() string   { return filepath.Join(h.dir, "modifier.txt") }

// newHarness wires a controller against endpoint with stores in a temp dir.
// seed, when non-nil, is called before the stores are loaded.
func newHarness(t *testing.T, fetcher FeedFetcher, retry RetryPolicy, seed func(dir string)) *harness {
	t.Helper()

	dir := t.TempDir()
	if seed != nil {
		seed(dir)
	}

	h := &harness{dir: dir, hub: notify.NewHub(), registry: prometheus.NewRegistry()}
	h.history = history.New(history.NewFileBackend(h.historyPath()), history.DefaultMaxSize, testLogger())
	h.history.Load()
	h.token = token.New(h.tokenPath(), testLogger())
	h.token.Load()
	h.updates = h.hub.Subscribe()

	h.controller = NewController(ControllerConfig{
		Resource:  testResource,
		Fetcher:   fetcher,
		History:   h.history,
		Token:     h.token,
		Publisher: h.hub,
		Metrics:   metrics.New(h.registry),
		Retry:     retry,
		Logger:    testLogger(),
	})
	h.controller.Start(context.Background())

	t.Cleanup(func() {
		h.controller.Stop()
		h.hub.Close()
	})
	return h
}

// refresh triggers a cycle and collects updates until the cycle completes.
func (h *harness) refresh(t *testing.T) []notify.Update {
	t.Helper()
	if !h.controller.Refresh() {
		t.Fatal("Refresh() = false, want true")
	}
	return h.awaitCompletion(t)
}

func (h *harness) awaitCompletion(t *testing.T) []notify.Update {
	t.Helper()
	var got []notify.Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u := <-h.updates:
			got = append(got, u)
			if u.Kind == notify.KindRefreshCompleted {
				return got
			}
		case <-timeout:
			t.Fatalf("no refresh completed update, got %+v", got)
		}
	}
}

func eventsJSON(prefix string, n int) string {
	records := make([]string, n)
	for i := range records {
		records[i] = fmt.Sprintf(`{"id":"%s%d","type":"PushEvent","actor":{"display_login":"u"},"repo":{"name":"a/b"}}`, prefix, i)
	}
	return "[" + strings.Join(records, ",") + "]"
}

func seedHistory(prefix string, n int) func(dir string) {
	return func(dir string) {
		if err := os.WriteFile(filepath.Join(dir, "events.json"), []byte(eventsJSON(prefix, n)), 0o644); err != nil {
			panic(err)
		}
	}
}

func seedToken(value string) func(dir string) {
	return func(dir string) {
		if err := os.WriteFile(filepath.Join(dir, "modifier.txt"), []byte(value), 0o600); err != nil {
			panic(err)
		}
	}
}

func historyIDs(events []event.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

// TestController_FirstRun covers an empty history receiving three events
// and a token.
func TestController_FirstRun(t *testing.T) {
	server := feedServer(t, 200, eventsJSON("n", 3), "T1", nil)
	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: server.URL}), RetryPolicy{}, nil)

	updates := h.refresh(t)

	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2 (history then refresh)", len(updates))
	}
	if updates[0].Kind != notify.KindHistoryChanged {
		t.Errorf("updates[0].Kind = %v, want %v", updates[0].Kind, notify.KindHistoryChanged)
	}
	if got := historyIDs(updates[0].History); strings.Join(got, ",") != "n0,n1,n2" {
		t.Errorf("published history = %v, want [n0 n1 n2]", got)
	}
	if u := updates[1]; u.Outcome != string(OutcomeFresh) || !u.Changed || u.Error != "" {
		t.Errorf("refresh update = %+v, want fresh, changed, no error", u)
	}
	if updates[0].CycleID == "" || updates[0].CycleID != updates[1].CycleID {
		t.Errorf("cycle IDs = %q/%q, want equal and non-empty", updates[0].CycleID, updates[1].CycleID)
	}

	if h.history.Len() != 3 {
		t.Errorf("history length = %d, want 3", h.history.Len())
	}
	if v, ok := h.token.Value(); !ok || v != "T1" {
		t.Errorf("token = %q/%v, want T1", v, ok)
	}

	data, err := os.ReadFile(h.tokenPath())
	if err != nil || string(data) != "T1" {
		t.Errorf("token file = %q (%v), want T1", data, err)
	}
	persisted, _, err := event.Decode(mustRead(t, h.historyPath()))
	if err != nil || len(persisted) != 3 {
		t.Errorf("persisted history = %d events (%v), want 3", len(persisted), err)
	}
	if h.controller.State() != StateIdle {
		t.Errorf("State() = %v, want idle", h.controller.State())
	}
}

// TestController_MergeOverflow covers 48 stored events plus 5 new ones.
func TestController_MergeOverflow(t *testing.T) {
	server := feedServer(t, 200, eventsJSON("new", 5), "T2", nil)
	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: server.URL}), RetryPolicy{}, seedHistory("old", 48))

	h.refresh(t)

	items := h.history.Items()
	if len(items) != history.DefaultMaxSize {
		t.Fatalf("history length = %d, want %d", len(items), history.DefaultMaxSize)
	}
	if items[0].ID != "new0" || items[4].ID != "new4" || items[5].ID != "old0" {
		t.Errorf("head = %v, want new0..new4 then old0", historyIDs(items[:6]))
	}
	if last := items[len(items)-1].ID; last != "old44" {
		t.Errorf("last = %q, want old44", last)
	}
}

// TestController_NotModified covers a 304 with a new token.
func TestController_NotModified(t *testing.T) {
	var last *http.Request
	server := feedServer(t, 304, "", "T2", &last)
	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: server.URL}), RetryPolicy{},
		func(dir string) {
			seedHistory("old", 10)(dir)
			seedToken("T1")(dir)
		})
	before := mustRead(t, h.historyPath())

	updates := h.refresh(t)

	if got := last.Header.Get("If-Modified-Since"); got != "T1" {
		t.Errorf("If-Modified-Since = %q, want T1", got)
	}
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want only refresh completed", len(updates))
	}
	if u := updates[0]; u.Outcome != string(OutcomeNotModified) || u.Changed {
		t.Errorf("refresh update = %+v, want not_modified and unchanged", u)
	}
	if v, _ := h.token.Value(); v != "T2" {
		t.Errorf("token = %q, want T2", v)
	}
	if data := mustRead(t, h.tokenPath()); string(data) != "T2" {
		t.Errorf("token file = %q, want T2", data)
	}
	if after := mustRead(t, h.historyPath()); string(after) != string(before) {
		t.Error("history file changed on a not-modified response")
	}
	if h.history.Len() != 10 {
		t.Errorf("history length = %d, want 10", h.history.Len())
	}
}

// TestController_NetworkFailure covers an unreachable server.
func TestController_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: url}), RetryPolicy{},
		func(dir string) {
			seedHistory("old", 5)(dir)
			seedToken("T1")(dir)
		})

	updates := h.refresh(t)

	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if u := updates[0]; u.Outcome != string(OutcomeFailed) || u.Error == "" || u.Changed {
		t.Errorf("refresh update = %+v, want failed with error", u)
	}
	if h.history.Len() != 5 {
		t.Errorf("history length = %d, want 5", h.history.Len())
	}
	if v, _ := h.token.Value(); v != "T1" {
		t.Errorf("token = %q, want T1", v)
	}
	if h.controller.State() != StateIdle {
		t.Errorf("State() = %v, want idle", h.controller.State())
	}
}

// TestController_CorruptHistory covers recovery from an unreadable history
// file followed by a fresh fetch.
func TestController_CorruptHistory(t *testing.T) {
	server := feedServer(t, 200, eventsJSON("n", 2), "", nil)
	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: server.URL}), RetryPolicy{},
		func(dir string) {
			_ = os.WriteFile(filepath.Join(dir, "events.json"), []byte("not json at all"), 0o644)
		})

	if h.history.Len() != 0 {
		t.Fatalf("history length after corrupt load = %d, want 0", h.history.Len())
	}

	h.refresh(t)

	persisted, _, err := event.Decode(mustRead(t, h.historyPath()))
	if err != nil {
		t.Fatalf("history file not rewritten: %v", err)
	}
	if got := historyIDs(persisted); strings.Join(got, ",") != "n0,n1" {
		t.Errorf("persisted = %v, want [n0 n1]", got)
	}
	if _, ok := h.token.Value(); ok {
		t.Error("token set although the response carried none")
	}
}

// TestController_AtMostOneInFlight verifies a refresh during a running cycle
// is dropped, not queued.
func TestController_AtMostOneInFlight(t *testing.T) {
	var requests atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		entered <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: server.URL}), RetryPolicy{}, nil)

	if !h.controller.Refresh() {
		t.Fatal("first Refresh() = false, want true")
	}
	<-entered

	if h.controller.State() != StateFetching {
		t.Errorf("State() = %v, want fetching", h.controller.State())
	}
	if h.controller.Refresh() {
		t.Error("second Refresh() = true, want false while in flight")
	}

	close(release)
	h.awaitCompletion(t)

	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}

	expected := `
# HELP gitfeed_refresh_dropped_total Refresh requests dropped because a poll was already in flight
# TYPE gitfeed_refresh_dropped_total counter
gitfeed_refresh_dropped_total 1
`
	if err := testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "gitfeed_refresh_dropped_total"); err != nil {
		t.Error(err)
	}

	// a new cycle is accepted once idle
	if !h.controller.Refresh() {
		t.Error("Refresh() after completion = false, want true")
	}
	<-entered
	h.awaitCompletion(t)
}

// TestController_RetriesTransientFailures verifies 5xx responses are retried
// within a cycle.
func TestController_RetriesTransientFailures(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(eventsJSON("n", 1)))
	}))
	defer server.Close()

	retry := RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: server.URL}), retry, nil)

	updates := h.refresh(t)

	if got := requests.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
	if u := updates[len(updates)-1]; u.Outcome != string(OutcomeFresh) {
		t.Errorf("outcome = %q, want fresh", u.Outcome)
	}
}

// TestController_DoesNotRetryClientErrors verifies a 404 ends the cycle
// after one request.
func TestController_DoesNotRetryClientErrors(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	retry := RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond}
	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: server.URL}), retry, nil)

	updates := h.refresh(t)

	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
	if u := updates[0]; u.Outcome != string(OutcomeFailed) || !strings.Contains(u.Error, "404") {
		t.Errorf("refresh update = %+v, want failed with 404", u)
	}
}

// TestController_StopCancelsInFlight verifies Stop aborts a blocked fetch and
// rejects later refreshes.
func TestController_StopCancelsInFlight(t *testing.T) {
	entered := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-r.Context().Done()
	}))
	defer server.Close()

	h := newHarness(t, NewFetcher(FetcherConfig{Endpoint: server.URL, Timeout: time.Minute}), RetryPolicy{}, nil)

	h.controller.Refresh()
	<-entered

	done := make(chan struct{})
	go func() {
		h.controller.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return while a fetch was in flight")
	}

	updates := h.awaitCompletion(t)
	if u := updates[len(updates)-1]; u.Outcome != string(OutcomeFailed) {
		t.Errorf("outcome = %q, want failed", u.Outcome)
	}
	if h.controller.Refresh() {
		t.Error("Refresh() after Stop = true, want false")
	}
}

type panicFetcher struct{}

func (panicFetcher) Fetch(context.Context, string, string) FetchResult {
	panic("boom")
}

// TestController_PanicRecovery verifies a panicking cycle still completes
// and returns the controller to idle.
func TestController_PanicRecovery(t *testing.T) {
	h := newHarness(t, panicFetcher{}, RetryPolicy{}, nil)

	updates := h.refresh(t)

	u := updates[len(updates)-1]
	if u.Outcome != string(OutcomeFailed) || !strings.Contains(u.Error, "panic") {
		t.Errorf("refresh update = %+v, want failed panic", u)
	}
	if h.controller.State() != StateIdle {
		t.Errorf("State() = %v, want idle", h.controller.State())
	}
	if !h.controller.Refresh() {
		t.Error("Refresh() after panic = false, want true")
	}
	h.awaitCompletion(t)
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}
