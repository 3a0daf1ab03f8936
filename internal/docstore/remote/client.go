package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aneuhold/taskd/internal/docstore/queue"
)

// SyncPath is the sync endpoint relative to the base URL.
const SyncPath = "/v1/sync"

// ClientConfig holds configuration for a Client.
type ClientConfig struct {
	// URL is the remote base URL (default: http://127.0.0.1:8080).
	URL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout bounds one HTTP attempt (default: 15s).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt (default: 3).
	MaxRetries int

	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client

	// Logger for retry activity (default: stderr logger).
	Logger *log.Logger
}

// Client is a queue.Remote over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *log.Logger
}

var _ queue.Remote = (*Client)(nil)

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
		logger:     cfg.Logger,
	}
}

// Apply implements queue.Remote.
func (c *Client) Apply(ctx context.Context, batch queue.Batch) (queue.Result, error) {
	var out queue.Result
	if err := c.doJSON(ctx, http.MethodPost, SyncPath, batch, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = queue.Result{}
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				c.logger.Printf("Retrying %s %s after transport error: %v", method, requestPath, err)
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Code: errPayload.Code, Message: errPayload.Message}

		if IsRetryable(httpErr) && attempt < c.maxRetries {
			c.logger.Printf("Retrying %s %s: %v", method, requestPath, httpErr)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return httpErr
	}
}

// retryDelay doubles from baseDelay per attempt, capped at maxDelay. A
// Retry-After header wins when present.
func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
