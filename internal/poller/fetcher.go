package poller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jpalmerr/gitfeed/internal/event"
)

const (
	defaultFetchTimeout   = 10 * time.Second
	defaultRequestHeader  = "If-Modified-Since"
	defaultResponseHeader = "Last-Modified"
)

// Outcome classifies a single fetch.
type Outcome string

const (
	// OutcomeFresh means the response carried at least one usable event.
	OutcomeFresh Outcome = "fresh"

	// OutcomeNotModified means nothing new arrived but the response
	// carried a freshness token.
	OutcomeNotModified Outcome = "not_modified"

	// OutcomeNoChange means nothing new arrived and no token was sent.
	OutcomeNoChange Outcome = "no_change"

	// OutcomeFailed covers transport errors, timeouts, unexpected status
	// codes and malformed bodies.
	OutcomeFailed Outcome = "failed"
)

// ErrMalformedBody is wrapped by failures to decode a 2xx response body.
var ErrMalformedBody = errors.New("malformed response body")

// StatusError reports a response whose status is outside 2xx and 3xx.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// FetchResult is the outcome of one [Fetcher.Fetch] call.
type FetchResult struct {
	// Outcome is the classification of the response.
	Outcome Outcome

	// Events holds the parsed events, in feed order. Only set for OutcomeFresh.
	Events []event.Event

	// Token is the freshness token from the response, empty if none was sent.
	// It is captured for every 2xx and 3xx response.
	Token string

	// StatusCode is the HTTP status, zero if no response was received.
	StatusCode int

	// Dropped counts records that failed to parse.
	Dropped int

	// Latency is the time taken by the request.
	Latency time.Duration

	// Err explains an OutcomeFailed result.
	Err error
}

// FetcherConfig configures a [Fetcher].
type FetcherConfig struct {
	// Endpoint is the feed base URL; requests go to <Endpoint>/<resource>/events.
	Endpoint string

	// RequestHeader carries the freshness token on requests.
	// Defaults to "If-Modified-Since".
	RequestHeader string

	// ResponseHeader is read from responses to obtain a new token.
	// Defaults to "Last-Modified".
	ResponseHeader string

	// Headers are sent with every request (e.g. Authorization).
	Headers map[string]string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
}

// Fetcher performs exactly one feed request per call and classifies it.
// It never retries; retry policy belongs to the [Controller].
type Fetcher struct {
	client         *Client
	endpoint       string
	requestHeader  string
	responseHeader string
	headers        http.Header
	timeout        time.Duration
}

// NewFetcher creates a [Fetcher] from cfg, applying defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		client:         NewClient(),
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		requestHeader:  cfg.RequestHeader,
		responseHeader: cfg.ResponseHeader,
		headers:        make(http.Header, len(cfg.Headers)+1),
		timeout:        cfg.Timeout,
	}
	if f.requestHeader == "" {
		f.requestHeader = defaultRequestHeader
	}
	if f.responseHeader == "" {
		f.responseHeader = defaultResponseHeader
	}
	if f.timeout <= 0 {
		f.timeout = defaultFetchTimeout
	}
	f.headers.Set("Accept", "application/json")
	for k, v := range cfg.Headers {
		f.headers.Set(k, v)
	}
	return f
}

// URL returns the request URL for resource.
func (f *Fetcher) URL(resource string) string {
	return f.endpoint + "/" + strings.Trim(resource, "/") + "/events"
}

// Fetch requests the events of resource, sending token when non-empty.
//
// Classification:
//   - 2xx with at least one parseable record: OutcomeFresh
//   - 2xx with no usable records, or 3xx: OutcomeNotModified when the
//     response carries a token, else OutcomeNoChange
//   - anything else, including a 2xx body that is not a JSON array: OutcomeFailed
//
// Records that fail to parse are dropped and counted in Dropped.
func (f *Fetcher) Fetch(ctx context.Context, resource, token string) FetchResult {
	headers := f.headers.Clone()
	if token != "" {
		headers.Set(f.requestHeader, token)
	}

	resp := f.client.Get(ctx, f.URL(resource), headers, f.timeout)

	result := FetchResult{
		StatusCode: resp.StatusCode,
		Latency:    resp.Latency,
	}

	if resp.Error != nil {
		result.Outcome = OutcomeFailed
		result.Err = resp.Error
		return result
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result.Token = strings.TrimSpace(resp.Header.Get(f.responseHeader))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(resp.Body)) == 0 {
			result.Outcome = unchanged(result.Token)
			return result
		}
		events, dropped, err := event.Decode(resp.Body)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("%w: %v", ErrMalformedBody, err)
			return result
		}
		result.Dropped = dropped
		if len(events) == 0 {
			result.Outcome = unchanged(result.Token)
			return result
		}
		result.Outcome = OutcomeFresh
		result.Events = events
		return result

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		result.Outcome = unchanged(result.Token)
		return result

	default:
		result.Outcome = OutcomeFailed
		result.Err = &StatusError{StatusCode: resp.StatusCode}
		return result
	}
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.client.Close()
}

func unchanged(token string) Outcome {
	if token != "" {
		return OutcomeNotModified
	}
	return OutcomeNoChange
}
