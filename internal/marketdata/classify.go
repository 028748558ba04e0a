package marketdata

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// FailureClass is what callers branch on, never the raw status code.
type FailureClass int

const (
	ClassOK FailureClass = iota
	ClassAuthFailure
	ClassTransient
	ClassDataFailure
)

func (c FailureClass) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassAuthFailure:
		return "auth-failure"
	case ClassTransient:
		return "transient-failure"
	case ClassDataFailure:
		return "data-failure"
	default:
		return "unknown"
	}
}

// expiredSessionSignature appears in 200 bodies when the upstream lets a
// request through with a dead session instead of returning 401.
var expiredSessionSignature = []byte(`"error":"session expired"`)

// ErrRateLimited marks an upstream 429 despite local governing. It is
// transient, but the governor applies a penalty backoff before the next
// chunk.
var ErrRateLimited = errors.New("upstream rate limited")

// Failure pairs a payload key with its classified error.
type Failure struct {
	Key   string
	Class FailureClass
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Key, f.Class, f.Err)
}

// classify maps a transport error or HTTP response to a failure class.
// A nil error with ClassOK means the caller may parse the body; payload
// level field validation can still downgrade it to ClassDataFailure.
func classify(status int, body []byte, err error) (FailureClass, error) {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ClassTransient, fmt.Errorf("timeout: %w", err)
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return ClassTransient, fmt.Errorf("timeout: %w", err)
		}
		// Connection resets and other transport errors are retryable on
		// the next cycle.
		return ClassTransient, err
	}

	switch {
	case status == http.StatusUnauthorized:
		return ClassAuthFailure, fmt.Errorf("status %d", status)
	case status == http.StatusTooManyRequests:
		return ClassTransient, fmt.Errorf("status %d: %w", status, ErrRateLimited)
	case status >= 500:
		return ClassTransient, fmt.Errorf("status %d", status)
	case status != http.StatusOK:
		return ClassDataFailure, fmt.Errorf("status %d", status)
	}

	if bytes.Contains(body, expiredSessionSignature) {
		return ClassAuthFailure, errors.New("expired-session signature in body")
	}

	return ClassOK, nil
}
