package fileio

import "errors"

var (
	// ErrNotOpen is returned when writing to a closed writer.
	ErrNotOpen = errors.New("fileio: file not open")
	// ErrFrameTooLarge is returned for a record larger than the maximum file size.
	ErrFrameTooLarge = errors.New("fileio: frame exceeds max file size")
	// ErrInvalidCompression is returned for an unknown compression name.
	ErrInvalidCompression = errors.New("fileio: invalid compression")
	// ErrBadRecord is reported when a record header cannot be decoded.
	ErrBadRecord = errors.New("fileio: bad record")
)
