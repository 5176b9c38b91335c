package kioku

import (
	"context"
	"errors"
)

var (
	// ErrStorageUnavailable reports a local disk failure. It is fatal to the
	// requested operation and surfaced to the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMalformedRecord reports one unparsable manifest or log line.
	// Readers skip such lines and keep going.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrPlaceholderCard reports a card file that exists but is empty or corrupt.
	ErrPlaceholderCard = errors.New("placeholder card")

	// ErrNotFound reports a missing card or blob.
	ErrNotFound = errors.New("not found")

	// ErrNetworkUnavailable reports that the remote store cannot be reached.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrTimeout reports a remote operation that exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrRemoteConflict reports an ambiguous local/remote timestamp comparison.
	ErrRemoteConflict = errors.New("remote conflict")

	// ErrSessionComplete is returned by a review session with nothing left to show.
	ErrSessionComplete = errors.New("review session complete")
)

// IsRecoverable reports whether a sync failure should be retried after a
// backoff rather than parking the deck in the error state. Only local storage
// failures are treated as non-recoverable.
func IsRecoverable(err error) bool {
	return !errors.Is(err, ErrStorageUnavailable)
}

// IsNetworkError reports whether err came from the remote side being
// unreachable or too slow.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
