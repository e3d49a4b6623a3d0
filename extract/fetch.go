package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
)

// FetchError reports a failed fetch. Transient failures (network errors,
// 5xx, rate limiting) have already been retried up to the configured budget
// before surfacing here; permanent failures (other 4xx, malformed payloads)
// are never retried.
type FetchError struct {
	URL       string
	Status    int
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s fetch error for %s (status %d): %v", kind, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s fetch error for %s: %v", kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client wraps a retrying HTTP client. The retry policy covers connection
// errors, 5xx responses and 429 rate limiting; everything else propagates
// immediately.
type Client struct {
	HTTPClient *retryablehttp.Client
	Logger     *slog.Logger
}

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	client := retryablehttp.NewClient()
	client.RetryWaitMin = cfg.Extract.Backoff.RetryWaitMin
	client.RetryWaitMax = cfg.Extract.Backoff.RetryWaitMax
	client.RetryMax = cfg.Extract.Backoff.RetryMax
	client.HTTPClient.Timeout = cfg.Extract.Timeout
	client.Logger = logger

	return &Client{
		HTTPClient: client,
		Logger:     logger,
	}
}

// Get fetches the URL and returns the response body, classifying failures
// as transient or permanent.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Cancellation is the caller's decision, not a fetch failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// The retry budget is exhausted at this point: the client only
		// returns an error for conditions its policy considered retryable.
		return nil, &FetchError{URL: url, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Status: resp.StatusCode, Transient: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			URL:    url,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status %s: %s", resp.Status, truncate(body, 200)),
		}
	}

	return body, nil
}

// GetJSON fetches the URL and decodes the response body into v. A body that
// does not parse is a permanent failure.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &FetchError{URL: url, Err: fmt.Errorf("malformed JSON response: %w", err)}
	}

	return nil
}

// IsTransient reports whether err is a transient FetchError.
func IsTransient(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.Transient
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
