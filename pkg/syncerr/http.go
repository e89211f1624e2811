package syncerr

import (
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBody is how much of an error response body is kept.
const maxErrorBody = 512

// HTTPError is a non-2xx response from a remote service.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// FromStatus maps an HTTP status onto the taxonomy. It returns nil for 2xx.
//
//	404       -> ErrNotYetPresent
//	410       -> ErrResourceGone
//	429, 5xx  -> *ConnectionError
//	other     -> *UnexpectedError
func FromStatus(service string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	httpErr := &HTTPError{Code: code, Body: strings.TrimSpace(string(body))}

	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotYetPresent, httpErr)
	case code == http.StatusGone:
		return fmt.Errorf("%w: %w", ErrResourceGone, httpErr)
	case code == http.StatusTooManyRequests, code >= 500:
		return NewConnectionError(service, "", httpErr)
	default:
		return Unexpected(service+" request", httpErr)
	}
}
