package errors

import (
	"fmt"
)

// ErrFileChanged is returned when a source file is modified while it's being
// copied. The partial copy is discarded, and the next pass copies the new
// contents.
var ErrFileChanged = New("file contents changed during sync")

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// RootUnavailable is returned when a reconciliation pass can't proceed because
// one of the roots can't be used. Nothing is pruned from the replica once this
// error is returned.
type RootUnavailable struct {
	// Role is either "source" or "replica".
	Role string
	Path string
	Err  error
}

func (err RootUnavailable) Error() string {
	return fmt.Sprintf("%s root %q unavailable: %s", err.Role, err.Path, err.Err)
}

func (err RootUnavailable) Unwrap() error {
	return err.Err
}

// EntryError is a failure that only affects a single entry in the tree. A pass
// that hits an EntryError keeps processing the other entries.
type EntryError struct {
	Op   string
	Path string
	Err  error
}

func (err EntryError) Error() string {
	return fmt.Sprintf("%s %q: %s", err.Op, err.Path, err.Err)
}

func (err EntryError) Unwrap() error {
	return err.Err
}

// NotificationStreamError represents a failure of the filesystem watcher.
// Syncing continues on the periodic timer when it happens.
type NotificationStreamError struct {
	Err error
}

func (err NotificationStreamError) Error() string {
	if err.Err == nil {
		return "notification stream closed"
	}
	return fmt.Sprintf("notification stream: %s", err.Err)
}

func (err NotificationStreamError) Unwrap() error {
	return err.Err
}
