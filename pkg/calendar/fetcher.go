package calendar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
)

// icalMarker is the structural plausibility check for a fetched payload.
// A body without it is treated as a failed attempt even on HTTP 200.
const icalMarker = "BEGIN:VCALENDAR"

// Source identifies one configured calendar feed. Index is the stable
// ordinal position in the configured list.
type Source struct {
	Index int
	URL   string
	Name  string
}

// HTTPFetcher retrieves raw iCalendar payloads over HTTP. Every fetch is a
// bounded retry loop: up to attempts tries with linear backoff (attempt x
// step) and a per-attempt timeout. There is no caching; each call goes to
// the network.
type HTTPFetcher struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
}

// NewHTTPFetcher creates a feed fetcher. Zero values fall back to 3 attempts,
// 15s timeout and 1s backoff step.
func NewHTTPFetcher(timeout time.Duration, attempts int, backoff time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		backoff:  backoff,
	}
}

// Fetch retrieves the raw feed body, retrying transient failures. Timeouts,
// non-2xx statuses and implausible payloads all count as failed attempts;
// exhausting the attempts surfaces a single terminal error carrying the last
// underlying failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, src Source) ([]byte, error) {
	var body []byte
	attempt := 0

	retrier := repeater.NewBackoff(f.attempts, f.backoff, repeater.WithBackoffType(repeater.BackoffLinear))
	err := retrier.Do(ctx, func() error {
		attempt++
		b, err := f.fetchOnce(ctx, src)
		if err != nil {
			log.Printf("[WARN] fetch attempt %d/%d failed for feed %d (%s): %v",
				attempt, f.attempts, src.Index, redactURL(src.URL), err)
			return err
		}
		log.Printf("[INFO] fetched feed %d (%s), attempt %d, %d bytes",
			src.Index, redactURL(src.URL), attempt, len(b))
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed %d after %d attempts: %w", src.Index, attempt, err)
	}
	return body, nil
}

// fetchOnce performs a single HTTP GET bounded by the client timeout.
func (f *HTTPFetcher) fetchOnce(ctx context.Context, src Source) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if !bytes.Contains(body, []byte(icalMarker)) {
		return nil, fmt.Errorf("payload is not an iCalendar document")
	}
	return body, nil
}

// redactURL trims a feed URL to its host for logging, keeping private
// calendar tokens in paths and query strings out of the logs.
func redactURL(u string) string {
	rest := u
	if i := strings.Index(u, "://"); i >= 0 {
		rest = u[i+3:]
	}
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return u[:len(u)-len(rest)+j] + "/..."
	}
	return u
}
