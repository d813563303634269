package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrExtraction         = errors.New("text extraction failed")
	ErrEmptyExtraction    = fmt.Errorf("%w: no text could be extracted", ErrExtraction)
	ErrDecoding           = errors.New("could not decode text with any supported encoding")
	ErrEmptyResult        = errors.New("no non-empty chunks produced")
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration")
	ErrDuplicateHash      = errors.New("document with this content hash already exists")
	ErrNotFound           = errors.New("not found")
	ErrBackendTimeout     = errors.New("backend timed out")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrFileTooLarge       = errors.New("file exceeds maximum size")
	ErrIndexEmpty         = errors.New("vector index is empty")
)
