package wlsel

import "errors"

// Sentinel errors returned by Store and Load operations. Transport and
// protocol failures that fit none of these surface as wrapped errors with
// the underlying cause intact.
var (
	// ErrNoSeat means no seat matches the request: either the compositor
	// has announced none, or the named seat does not exist.
	ErrNoSeat = errors.New("no seat available")

	// ErrPrimaryUnsupported means the compositor offers no primary
	// selection protocol. Primary operations fail with it immediately,
	// before any protocol traffic.
	ErrPrimaryUnsupported = errors.New("primary selection not supported by compositor")

	// ErrUnsupportedFormat means the current selection advertises no text
	// format this library can read.
	ErrUnsupportedFormat = errors.New("selection offers no supported text format")

	// ErrInvalidUTF8 means the selection owner delivered bytes that are not
	// valid UTF-8.
	ErrInvalidUTF8 = errors.New("selection content is not valid UTF-8")

	// ErrTimeout means a load ran out its deadline before the selection
	// owner delivered the content.
	ErrTimeout = errors.New("selection transfer timed out")

	// ErrDisconnected means the compositor connection is gone, either
	// through Close or a transport failure.
	ErrDisconnected = errors.New("compositor connection closed")

	// ErrEmpty means nothing currently owns the selection.
	ErrEmpty = errors.New("selection is empty")
)
