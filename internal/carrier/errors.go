package carrier

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the carrier's HTTP rejection verbatim so operators can see
// exactly what the carrier said. The adapter never retries on its own;
// recovery decisions belong to the orchestrator.
type Error struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("carrier: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("carrier: status %d", e.StatusCode)
}

// IsUnauthorized reports whether err is a carrier rejection for a stale or
// invalid access token.
func IsUnauthorized(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.StatusCode == http.StatusUnauthorized
}

// IsRejected reports whether err is any carrier-side rejection, as opposed to
// a transport failure.
func IsRejected(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
