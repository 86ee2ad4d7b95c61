package client

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fileshare/internal/protocol"
)

// ErrBroken is returned once a transport or framing failure has left the
// connection in an unknown state.
var ErrBroken = errors.New("connection broken")

// RemoteError is an ERROR response from the server.
type RemoteError struct {
	Code    protocol.Code
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server: %s", e.Code)
	}
	return fmt.Sprintf("server: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the sentinel error for the code.
func (e *RemoteError) Unwrap() error {
	return e.Code.Err()
}

func remoteError(payload []byte) error {
	code, msg, err := protocol.DecodeError(payload)
	if err != nil {
		return err
	}
	return &RemoteError{Code: code, Message: msg}
}
