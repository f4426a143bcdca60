package registry

import (
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of an error response is kept
const maxErrorBody = 4096

// HTTPError is returned when a registry answers with a non-2xx status.
type HTTPError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: registry returned %d: %s", e.Operation, e.StatusCode, e.Body)
}

// handleHTTPError reads the response body and returns an *HTTPError
// for non-2xx HTTP responses from registry APIs.
func handleHTTPError(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

func isSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
