package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-2xx response from the remote.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is worth retrying: rate limiting and
// server errors are, client errors are not. Errors that are not HTTPErrors
// are treated as transport failures and are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return true
}
