package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/dmitrijs2005/fileshare/internal/common"
)

// Code is the first payload byte of an ERROR frame.
type Code byte

const (
	CodeInvalidName       Code = 0x01
	CodeNotFound          Code = 0x02
	CodeIncompleteWrite   Code = 0x03
	CodeMalformedFrame    Code = 0x04
	CodeTruncated         Code = 0x05
	CodeUnknownCommand    Code = 0x06
	CodeProtocolViolation Code = 0x07
	CodeIOFailure         Code = 0x08
)

// maxErrorMessage caps the human readable part of an ERROR frame.
const maxErrorMessage = 1024

var codeErrors = []struct {
	code Code
	err  error
}{
	// Order matters: errors may wrap several sentinels and the most specific
	// classification wins.
	{CodeInvalidName, common.ErrInvalidName},
	{CodeNotFound, common.ErrNotFound},
	{CodeProtocolViolation, common.ErrProtocolViolation},
	{CodeMalformedFrame, common.ErrMalformedFrame},
	{CodeTruncated, common.ErrTruncated},
	{CodeUnknownCommand, common.ErrUnknownCommand},
	{CodeIncompleteWrite, common.ErrIncompleteWrite},
	{CodeIOFailure, common.ErrIOFailure},
}

// CodeOf classifies err. Errors outside the taxonomy are reported as
// IOFailure.
func CodeOf(err error) Code {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeIOFailure
}

// Err returns the sentinel error matching c.
func (c Code) Err() error {
	for _, ce := range codeErrors {
		if ce.code == c {
			return ce.err
		}
	}
	return common.ErrIOFailure
}

func (c Code) String() string {
	for _, ce := range codeErrors {
		if ce.code == c {
			return ce.err.Error()
		}
	}
	return fmt.Sprintf("Code(0x%02x)", byte(c))
}

// ErrorFrame builds the ERROR response describing err.
func ErrorFrame(err error) Frame {
	msg := err.Error()
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
		for !utf8.ValidString(msg) {
			msg = msg[:len(msg)-1]
		}
	}
	payload := make([]byte, 1+len(msg))
	payload[0] = byte(CodeOf(err))
	copy(payload[1:], msg)
	return Frame{Command: CmdError, Payload: payload}
}

// DecodeError splits an ERROR payload into its code and message.
func DecodeError(p []byte) (Code, string, error) {
	if len(p) < 1 {
		return 0, "", fmt.Errorf("empty error payload: %w", common.ErrMalformedFrame)
	}
	return Code(p[0]), string(p[1:]), nil
}
