// Package serial's error type is the one piece of low-level plumbing every
// port method funnels failures through; internal/endpoint classifies them
// into its OpenError taxonomy via IsClosed rather than re-deriving its own
// syscall-error wrapper.
package serial

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Error wraps a low-level syscall failure with the operation that produced
// it, the way callers further up the stack expect to log it.
type Error struct {
	msg string
	err error
}

func (e Error) Error() string {
	if e.msg != "" {
		msg := e.msg
		if e.err != nil {
			msg += ": " + e.err.Error()
		}
		return msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e Error) Unwrap() error {
	return e.err
}

func wrapErr(msg string, e error) error {
	if e == nil {
		return nil
	}
	return Error{
		msg: msg,
		err: e,
	}
}

var ErrClosed = Error{"port already closed", unix.EBADF}

// IsClosed reports whether err is ErrClosed, letting callers above this
// package (internal/endpoint's OpenError taxonomy) distinguish "the port
// was already closed" from a generic syscall failure without depending on
// unix.EBADF directly.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
