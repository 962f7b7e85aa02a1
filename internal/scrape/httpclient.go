package scrape

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// ErrNotFoundPage marks a 404 so callers can feed the retry ledger instead
// of retrying.
var ErrNotFoundPage = fmt.Errorf("page not found")

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Client wraps http.Client with retries, backoff, and a per-host rate
// limit shared by every fetch of one scraper instance.
type Client struct {
	http    *http.Client
	retries int
	limiter *rate.Limiter
}

// NewClient builds a scraping client. requestsPerSec caps the outbound
// rate; retries is the attempt count for transient failures.
func NewClient(timeout time.Duration, retries int, requestsPerSec float64) *Client {
	if retries < 1 {
		retries = 1
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		retries: retries,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
	}
}

// FetchDocument gets a URL and parses it. Transient failures (timeouts,
// 5xx, 429) retry with exponential backoff and full jitter; 404 returns
// ErrNotFoundPage immediately.
func (c *Client) FetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			// Full jitter: sleep a random fraction of the doubled window.
			delay := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			backoff *= 2
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		doc, err := c.fetchOnce(ctx, url)
		if err == nil {
			return doc, nil
		}
		if err == ErrNotFoundPage {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch %s: %w", url, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "ja")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFoundPage
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}
