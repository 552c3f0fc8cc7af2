package api

import (
	"errors"
	"fmt"
	"net/http"
)

// RequestFailure is returned for every response outside the 2xx range.
type RequestFailure struct {
	Endpoint   string
	StatusCode int
	Status     string
	// Detail is the "detail" field of the error body when the backend sent one.
	Detail string
}

func (e *RequestFailure) Error() string {
	text := e.Status
	if text == "" {
		text = http.StatusText(e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("API call failed: %d %s: %s", e.StatusCode, text, e.Detail)
	}
	return fmt.Sprintf("API call failed: %d %s", e.StatusCode, text)
}

// ParseError reports a 2xx body that could not be decoded or failed schema
// validation.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status of a RequestFailure, or 0.
func StatusCode(err error) int {
	var rf *RequestFailure
	if errors.As(err, &rf) {
		return rf.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 RequestFailure.
func IsNotFound(err error) bool { return StatusCode(err) == http.StatusNotFound }
