package core

import (
	"fmt"
	"io"
	"net/http"
)

const maxErrorBodyLength = 2048

// APIError reports a non-success HTTP status from a remote service. Body holds
// the raw response so callers can tell validation failures from auth failures.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength] + "..."
	}

	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, body)
}

// ReadAPIError drains resp and returns it as an *APIError.
func ReadAPIError(operation string, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		body = []byte(fmt.Sprintf("<unreadable body: %v>", err))
	}

	return &APIError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
