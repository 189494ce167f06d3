package hardware

import "errors"

var (
	// ErrOpen wraps every failure to acquire a hardware resource at construction.
	ErrOpen = errors.New("hardware: open failed")
	// ErrClosed is recorded on transactions and returned by calls after Close.
	ErrClosed = errors.New("hardware: closed")
	// ErrInvalidSize is returned for a zero map size or frame size.
	ErrInvalidSize = errors.New("hardware: invalid size")
	// ErrInvalidPollInterval is returned by WithPollInterval for an interval below MinPollInterval.
	ErrInvalidPollInterval = errors.New("hardware: invalid poll interval")
)
