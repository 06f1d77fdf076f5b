package upload

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service wraps exactly one of them.
var (
	ErrValidation      = errors.New("validation failed")
	ErrProcessing      = errors.New("processing failed")
	ErrStorage         = errors.New("storage failure")
	ErrNotFound        = errors.New("file not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConsistency     = errors.New("ledger and storage disagree")
)

// Validation details.
var (
	ErrEmptyFile       = fmt.Errorf("%w: file is empty", ErrValidation)
	ErrFileTooLarge    = fmt.Errorf("%w: file exceeds maximum allowed size", ErrValidation)
	ErrTypeNotAllowed  = fmt.Errorf("%w: file type is not allowed", ErrValidation)
	ErrInvalidCategory = fmt.Errorf("%w: unknown file type filter", ErrInvalidArgument)
	ErrInvalidPage     = fmt.Errorf("%w: page and per_page must be positive", ErrInvalidArgument)
)

// ErrDuplicate is returned by a Repository when the id or stored name is
// already recorded.
var ErrDuplicate = errors.New("record already exists")
