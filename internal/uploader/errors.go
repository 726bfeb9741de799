package uploader

import (
	"fmt"
	"strings"
)

// ValidationError is a user-correctable problem; nothing was sent.
type ValidationError struct {
	// File is set when the violation concerns a specific file.
	File    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "upload transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a response outside [200,300).
type ServerError struct {
	StatusCode int
	Status     string
	// Body is the response body as plain text, truncated.
	Body string
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("upload rejected: %s", e.Status)
	if e.Status == "" {
		msg = fmt.Sprintf("upload rejected: status %d", e.StatusCode)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + firstLine(body)
	}
	return msg
}

// Retryable reports whether a failed upload can be resubmitted unchanged.
// Validation errors need the user to change something first.
func Retryable(err error) bool {
	switch err.(type) {
	case *TransportError, *ServerError:
		return true
	default:
		return false
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
