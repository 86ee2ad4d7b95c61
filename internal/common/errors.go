// Package common defines the sentinel errors shared by the storage, protocol
// and session layers of the file sharing server. Callers should use errors.Is
// to match these values; producers wrap them with fmt.Errorf("...: %w").
package common

import "errors"

var (
	// Validation errors.
	ErrInvalidName = errors.New("invalid name")

	// Storage errors.
	ErrNotFound        = errors.New("not found")
	ErrIncompleteWrite = errors.New("incomplete write")
	ErrIOFailure       = errors.New("i/o failure")

	// Codec errors. MalformedFrame and Truncated leave the byte stream
	// unparseable and are fatal to the session.
	ErrMalformedFrame = errors.New("malformed frame")
	ErrTruncated      = errors.New("truncated frame")
	ErrUnknownCommand = errors.New("unknown command")

	// Session errors.
	ErrProtocolViolation = errors.New("protocol violation")
)

// IsFatal reports whether err leaves the connection's byte stream in a state
// that can no longer be parsed reliably.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrProtocolViolation)
}
