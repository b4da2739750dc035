package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/gitfeed/internal/event"
	"github.com/jpalmerr/gitfeed/internal/notify"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// SSE event names.
	sseEventHistory = "history"
	sseEventRefresh = "refresh"
)

// HistoryView exposes the current history, newest first.
type HistoryView interface {
	History() []event.Event
}

// Refresher starts a poll cycle, reporting false when one is already in flight.
type Refresher interface {
	Refresh() bool
}

// EventView is the JSON shape of an event served to display clients.
type EventView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Repo     string `json:"repo"`
	Action   string `json:"action"`
	ImageURL string `json:"image_url,omitempty"`
	Summary  string `json:"summary"`
}

// NewEventViews converts events to their API view, preserving order.
func NewEventViews(events []event.Event) []EventView {
	views := make([]EventView, len(events))
	for i, ev := range events {
		views[i] = EventView{
			ID:       ev.ID,
			Name:     ev.Name,
			Repo:     ev.Repo,
			Action:   ev.Action,
			ImageURL: ev.ImageURL,
			Summary:  ev.Summary(),
		}
	}
	return views
}

// Server handles HTTP requests for the display API.
//
// Server provides these endpoints:
//   - GET /api/events: Returns the current history as JSON
//   - POST /api/refresh: Starts a poll cycle (202) or reports one in flight (409)
//   - GET /api/sse: Server-Sent Events stream of history and refresh updates
//   - GET /metrics: Prometheus metrics, when a gatherer is configured
//   - GET /healthz: Liveness probe
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	history   HistoryView
	refresher Refresher
	broker    notify.Broker
	gatherer  prometheus.Gatherer
	port      int
	logger    *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - history: Source of the current history
//   - refresher: Target of POST /api/refresh
//   - broker: Source of updates streamed over SSE
//   - gatherer: Metrics exposed at /metrics (may be nil to disable the route)
//   - port: TCP port to listen on
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(history HistoryView, refresher Refresher, broker notify.Broker, gatherer prometheus.Gatherer, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		history:   history,
		refresher: refresher,
		broker:    broker,
		gatherer:  gatherer,
		port:      port,
		logger:    logger,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/api/sse", s.handleSSE)
	mux.HandleFunc("/healthz", s.handleHealth)

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
		}))
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before [Server.Start].
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// handleEvents returns the current history as JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	views := NewEventViews(s.history.History())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")

	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.logger.Error("failed to encode events response", "error", err)
	}
}

// handleRefresh starts a poll cycle on request of the display client.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, state := http.StatusAccepted, "started"
	if !s.refresher.Refresh() {
		status, state = http.StatusConflict, "in_flight"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"refresh": state}); err != nil {
		s.logger.Error("failed to encode refresh response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// handleSSE streams history and refresh updates via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	// writeEvent writes one named SSE event with a deadline to prevent
	// blocking forever on a slow or disconnected client.
	writeEvent := func(name string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("failed to encode sse event", "event", name, "error", err)
			return nil
		}

		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before the snapshot so no update falls between the two
	ch := s.broker.Subscribe()
	defer s.broker.Unsubscribe(ch)

	if err := writeEvent(sseEventHistory, NewEventViews(s.history.History())); err != nil {
		return
	}

	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return
			}
			var err error
			switch update.Kind {
			case notify.KindHistoryChanged:
				err = writeEvent(sseEventHistory, NewEventViews(update.History))
			case notify.KindRefreshCompleted:
				err = writeEvent(sseEventRefresh, update)
			}
			if err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
