package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable covers transport-level failures: connection refused,
// timeouts, DNS. Always transient.
var ErrUnavailable = errors.New("server unavailable")

// StatusError is any non-2xx response. The protocol is deliberately blunt:
// the success class is the only signal, bodies are advisory.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether the response is a rejection of the record itself
// (validation failure or conflict) rather than a connectivity problem.
// Permanent rejections freeze the record; everything else is retried.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsPermanent reports whether err is a permanent server rejection.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}
