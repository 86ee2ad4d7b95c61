package common

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrMalformedFrame, true},
		{ErrTruncated, true},
		{fmt.Errorf("data frame: %w", ErrProtocolViolation), true},
		{ErrUnknownCommand, false},
		{ErrNotFound, false},
		{fmt.Errorf("put: %w", ErrIncompleteWrite), false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsFatal(tt.err), "IsFatal(%v)", tt.err)
	}
}
