package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dirindex/internal/model"
	"dirindex/internal/retry"
)

// HTTPFetcher GETs a JSON object of the form {"<path>": {"title", "url", "record_type"}}.
type HTTPFetcher struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	// Retry applies within one Fetch. The default is a single attempt; the
	// cache's failure backoff paces retries across messages.
	Retry retry.Config
}

func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		URL:     strings.TrimSpace(url),
		Client:  &http.Client{},
		Timeout: timeout,
		Retry:   singleAttempt(),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (map[string]model.MappingEntry, error) {
	if f == nil || f.URL == "" {
		return nil, fmt.Errorf("mapping url is required")
	}
	return retry.DoWithResult(ctx, f.Retry, func() (map[string]model.MappingEntry, error) {
		return f.fetchOnce(ctx)
	})
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context) (map[string]model.MappingEntry, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("fetch mapping: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, retry.Retryable(fmt.Errorf("fetch mapping: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch mapping: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out map[string]model.MappingEntry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	return out, nil
}

func singleAttempt() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 1
	return cfg
}
