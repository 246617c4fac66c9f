package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// TransientError is a failure worth retrying later: transport errors,
// timeouts, throttling and server errors
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient remote error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient remote error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a rejection retrying will not fix
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent remote error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent remote error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientError
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsPermanent reports whether err carries a PermanentError
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// classify maps a transport error or HTTP status to nil, transient or permanent
func classify(status int, body string, err error) error {
	if err != nil {
		return &TransientError{Err: err}
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return &TransientError{StatusCode: status, Err: fmt.Errorf("%s", bodyOrStatus(status, body))}
	default:
		return &PermanentError{StatusCode: status, Err: fmt.Errorf("%s", bodyOrStatus(status, body))}
	}
}

func bodyOrStatus(status int, body string) string {
	if body != "" {
		if len(body) > 256 {
			body = body[:256]
		}
		return body
	}
	return http.StatusText(status)
}
