package google

import (
	"errors"
	"fmt"
)

// ErrAuthRequired means no usable token exists and none could be
// refreshed. A batch push aborts entirely on this error since nothing can
// proceed without a token.
var ErrAuthRequired = errors.New("google calendar authorization required, run the connect command")

// ErrConsentBlocked means the interactive consent flow was cancelled or
// produced no authorization code. It is surfaced separately from a
// generic auth failure so the user knows the flow itself never completed.
var ErrConsentBlocked = errors.New("google consent flow was blocked or cancelled")

// RemoteError wraps a calendar API rejection for a single item. During a
// batch push these are collected per item, not fatal to the batch.
type RemoteError struct {
	Op  string // "insert", "patch", "delete"
	Key string // localKey of the item, if any
	Err error
}

func (e *RemoteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("calendar %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("calendar %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
