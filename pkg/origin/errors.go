package origin

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrOriginUnreachable is matched by every error Fetch returns.
var ErrOriginUnreachable = errors.New("origin unreachable")

// Error describes a failed origin fetch.
type Error struct {
	// Addr is the host:port that was dialed.
	Addr string

	// Op is the failing step: "dial", "write", "read" or "parse".
	Op string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("origin %s %s: %v", e.Addr, e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrOriginUnreachable.
func (e *Error) Is(target error) bool {
	return target == ErrOriginUnreachable
}

// Timeout reports whether the failure was a deadline expiry.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsTimeout reports whether err is an origin failure caused by a deadline.
func IsTimeout(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Timeout()
}
