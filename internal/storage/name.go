package storage

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/fileshare/internal/common"
)

// ValidateName checks name against the store's naming rules. Names are flat
// identifiers: no separators, no dot-prefixed names (those are reserved for
// backend temporaries) and no control characters.
func ValidateName(name string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxNameLength
	}
	switch {
	case name == "":
		return fmt.Errorf("empty name: %w", common.ErrInvalidName)
	case len(name) > maxLen:
		return fmt.Errorf("name longer than %d bytes: %w", maxLen, common.ErrInvalidName)
	case !utf8.ValidString(name):
		return fmt.Errorf("name is not valid utf-8: %w", common.ErrInvalidName)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("name %q starts with a dot: %w", name, common.ErrInvalidName)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("name %q contains a path separator: %w", name, common.ErrInvalidName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name %q contains a control character: %w", name, common.ErrInvalidName)
		}
	}
	return nil
}
