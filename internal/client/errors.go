package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// NetworkError means every attempt failed before an HTTP response arrived.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response from the gateway. Code, Message and
// Details are filled when the body uses the gateway's error format.
type HTTPError struct {
	Status     int
	StatusText string
	Body       string

	Code    string
	Message string
	Details map[string]any
}

func newHTTPError(status int, body []byte) *HTTPError {
	e := &HTTPError{
		Status:     status,
		StatusText: http.StatusText(status),
		Body:       strings.TrimSpace(string(body)),
	}
	var parsed struct {
		Error   string         `json:"error"`
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Code = parsed.Code
		e.Message = parsed.Error
		e.Details = parsed.Details
	}
	return e
}

func (e *HTTPError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%d %s: %s", e.Status, e.StatusText, e.Message)
	case e.Body != "":
		return fmt.Sprintf("%d %s: %s", e.Status, e.StatusText, excerpt(e.Body, excerptLimit))
	default:
		return fmt.Sprintf("%d %s", e.Status, e.StatusText)
	}
}

// MalformedResponseError is a 2xx response whose body is not the JSON the
// caller asked for.
type MalformedResponseError struct {
	Excerpt string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response (%v): %q", e.Err, e.Excerpt)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

const excerptLimit = 200

// excerpt keeps the first limit runes of s.
func excerpt(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
