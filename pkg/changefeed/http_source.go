// ABOUTME: Change feed client reading the store's HTTP change feed endpoint
// ABOUTME: Transient failures are retried with backoff by go-retryablehttp

package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBatchSize is the number of entries requested per call
const DefaultBatchSize = 10

// HTTPSourceConfig configures an HTTPSource
type HTTPSourceConfig struct {
	BaseURL         string
	BatchSize       int
	IncludeMetadata bool
	Timeout         time.Duration
	RetryMax        int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
}

// HTTPSource reads entries from GET {BaseURL}/changefeed
type HTTPSource struct {
	cfg    HTTPSourceConfig
	client *retryablehttp.Client
}

// NewHTTPSource creates a change feed client
func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.Timeout
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}

	return &HTTPSource{cfg: cfg, client: client}
}

// Retrieve fetches the next batch after the given sequence.
func (s *HTTPSource) Retrieve(ctx context.Context, after int64) ([]Entry, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(after, 10))
	q.Set("limit", strconv.Itoa(s.cfg.BatchSize))
	q.Set("includemetadata", strconv.FormatBool(s.cfg.IncludeMetadata))
	u := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/changefeed?" + q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("changefeed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("changefeed: retrieve after %d: %w", after, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("changefeed: retrieve after %d: unexpected status %d", after, resp.StatusCode)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("changefeed: decode response: %w", err)
	}
	return entries, nil
}
