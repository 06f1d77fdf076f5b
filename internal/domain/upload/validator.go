package upload

import (
	"fmt"
	"strings"

	"mediavault/internal/pkg/mediatype"
)

// Validator checks an upload before anything touches the disk.
type Validator struct {
	maxBytes int64
	allowed  []string
}

// NewValidator builds a validator. Entries of allowed are exact MIME types
// or "type/*" wildcards; an empty list accepts every type.
func NewValidator(maxBytes int64, allowed []string) *Validator {
	list := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = mediatype.Base(a); a != "" {
			list = append(list, a)
		}
	}
	return &Validator{maxBytes: maxBytes, allowed: list}
}

// MaxBytes returns the configured size cap.
func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Validate returns the resolved content type of data, or a validation error.
func (v *Validator) Validate(data []byte, filename, contentTypeHint string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if v.maxBytes > 0 && int64(len(data)) > v.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(data), v.maxBytes)
	}

	contentType := mediatype.Resolve(data, filename, contentTypeHint)
	if !v.Allowed(contentType) {
		return "", fmt.Errorf("%w: %s", ErrTypeNotAllowed, contentType)
	}
	return contentType, nil
}

// Allowed reports whether contentType passes the allow-list.
func (v *Validator) Allowed(contentType string) bool {
	if len(v.allowed) == 0 {
		return true
	}
	ct := mediatype.Base(contentType)
	for _, a := range v.allowed {
		if a == ct || a == "*/*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(ct, prefix+"/") {
			return true
		}
	}
	return false
}
