package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelNotFound is returned by ResolveIdentity when no channel
	// matches the configured name exactly.
	ErrChannelNotFound = errors.New("channel not found")

	ErrNotFound          = errors.New("not found (404)")
	ErrForbidden         = errors.New("forbidden (403)")
	ErrCloudflareBlocked = errors.New("blocked by Cloudflare; try with cookies and a user agent")
	ErrAgeVerification   = errors.New("age verification required; configure cookies of a verified account")
)

// ErrorKind tags an adapter error as retryable or not.
type ErrorKind int

const (
	// Transient errors are retried after the poll interval.
	Transient ErrorKind = iota
	// Fatal errors stop the channel until it is reconfigured.
	Fatal
)

func (k ErrorKind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "transient"
}

// AdapterError is the error type returned by adapter operations.
type AdapterError struct {
	Kind ErrorKind
	Op   string // operation or endpoint, e.g. "live-detail"
	Err  error
}

func (e *AdapterError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// TransientError wraps err as a retryable adapter error.
func TransientError(op string, err error) error {
	return &AdapterError{Kind: Transient, Op: op, Err: err}
}

// FatalError wraps err as a non-retryable adapter error.
func FatalError(op string, err error) error {
	return &AdapterError{Kind: Fatal, Op: op, Err: err}
}

// IsFatal reports whether err carries a fatal adapter error.
func IsFatal(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == Fatal
}
