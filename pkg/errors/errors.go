// Package errors contains the error helpers shared by mirrord. Errors are
// wrapped with short context strings as they propagate up the stack so that
// the final message reads like a trace of what was being attempted, e.g.
// "reconcile: copy: open source: permission denied".
package errors

import (
	"errors"
	"fmt"
)

// New returns an error formatted according to the format specifier.
func New(format string, a ...interface{}) error {
	if len(a) == 0 {
		return errors.New(format)
	}
	return fmt.Errorf(format, a...)
}

type withContext struct {
	context string
	err     error
}

func (err withContext) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err withContext) Unwrap() error {
	return err.err
}

// WithContext annotates `err` with `context`. If `err` is nil, WithContext
// returns nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return withContext{context: context, err: err}
}

// RootCause unwraps `err` until it reaches an error that doesn't wrap any
// other error.
func RootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// Is and As are re-exported so that callers don't need to import both this
// package and the standard library package.
var (
	Is = errors.Is
	As = errors.As
)

// FriendlyError is an error whose message is meant to be read by users
// directly, without any of the context added while it propagated.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a FriendlyError with the formatted message.
func NewFriendlyError(format string, a ...interface{}) error {
	return FriendlyError{msg: fmt.Sprintf(format, a...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the message that should be shown to users.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

type friendlyErrorInterface interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the message that should be printed for `err`.
// If any error in the chain has a friendly message, it is used instead of
// the full error string.
func GetPrintableMessage(err error) string {
	var friendly friendlyErrorInterface
	if errors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
