package storage

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxExtLen = 10

// NewStoredName returns a random token followed by ext.
func NewStoredName(ext string) string {
	return uuid.NewString() + ext
}

// CleanExt normalizes a client extension: lowercase, dot-prefixed and made
// only of letters and digits. Anything else yields "".
func CleanExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
