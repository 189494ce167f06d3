package stream

import "errors"

var (
	// ErrNoPrimarySlave indicates that a frame was requested from a master without a primary slave.
	ErrNoPrimarySlave = errors.New("stream: no primary slave set")

	// ErrAllocFailed indicates that the primary slave could not satisfy a frame request.
	ErrAllocFailed = errors.New("stream: frame allocation failed")

	// ErrBufferOverflow indicates that a payload or reservation exceeds the buffer capacity.
	ErrBufferOverflow = errors.New("stream: buffer overflow")

	// ErrFrameOverflow indicates that an access exceeds the frame capacity.
	ErrFrameOverflow = errors.New("stream: frame overflow")

	// ErrFrameUnderflow indicates that a read exceeds the frame payload.
	ErrFrameUnderflow = errors.New("stream: frame underflow")

	// ErrInvalidFixedSize indicates that a fixed-size pool was configured with a zero size.
	ErrInvalidFixedSize = errors.New("stream: fixed buffer size must be greater than 0")

	// ErrPoolNil indicates that an option was applied to a nil pool.
	ErrPoolNil = errors.New("stream: pool is nil")
)
