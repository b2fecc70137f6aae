package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnavailable marks a transient failure: the server or the network could
// not complete the call, and retrying later may succeed.
var ErrUnavailable = errors.New("server unavailable")

// HTTPError is a non-2xx response that is not an authorization failure.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Terminal reports whether retrying the identical request is pointless.
func (e *HTTPError) Terminal() bool {
	switch e.StatusCode {
	case http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// apiError maps a response status to the error taxonomy. Authorization
// failures are handled before this is called.
func apiError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d: %s", ErrUnavailable, status, errorMessage(body))
	default:
		return &HTTPError{StatusCode: status, Message: errorMessage(body)}
	}
}

// errorMessage extracts the server's error detail, falling back to the raw
// body.
func errorMessage(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
