package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-doc-recognizer/pkg/validation"
)

// HTTPFileFetcher implements FileFetcher over plain HTTP with bounded retries.
type HTTPFileFetcher struct {
	client    *http.Client
	validator *validation.URLValidator
}

// NewHTTPFileFetcher creates an HTTP file fetcher tuned for single small
// result downloads.
func NewHTTPFileFetcher() *HTTPFileFetcher {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPFileFetcher{
		validator: validation.NewURLValidator(),
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
	}
}

// FetchText downloads a result file and returns its raw contents. Server
// errors are retried up to 3 attempts; client errors are not.
func (f *HTTPFileFetcher) FetchText(ctx context.Context, fileURL string) (string, error) {
	if err := f.validator.ValidateResultURL(fileURL); err != nil {
		return "", fmt.Errorf("rejected result file URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid result file URL: %w", err)
	}
	req.Header.Set("Accept", "text/plain, text/markdown, */*")

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return "", fmt.Errorf("failed to read result file: %w", err)
			}
			return string(data), nil
		}

		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors are non-retryable
			return "", fmt.Errorf("client error: status code %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("server error: status code %d", resp.StatusCode)
	}

	return "", fmt.Errorf("failed to fetch result file after 3 attempts: %w", lastErr)
}
