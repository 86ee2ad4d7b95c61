package storage

import (
	"strings"
	"testing"

	"github.com/dmitrijs2005/fileshare/internal/common"
	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"plain", "a.txt", true},
		{"spaces and unicode", "отчёт 2024.pdf", true},
		{"max length", strings.Repeat("x", DefaultMaxNameLength), true},
		{"empty", "", false},
		{"too long", strings.Repeat("x", DefaultMaxNameLength+1), false},
		{"dot dot", "..", false},
		{"dot", ".", false},
		{"hidden", ".upload-123", false},
		{"traversal", "../etc/passwd", false},
		{"nested", "dir/file", false},
		{"absolute", "/etc/passwd", false},
		{"backslash", `..\win.ini`, false},
		{"nul", "a\x00b", false},
		{"newline", "a\nb", false},
		{"bad utf8", "a\xffb", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input, 0)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, common.ErrInvalidName)
			}
		})
	}
}

func TestValidateName_CustomLimit(t *testing.T) {
	assert.NoError(t, ValidateName("abcd", 4))
	assert.ErrorIs(t, ValidateName("abcde", 4), common.ErrInvalidName)
}
