package fileio

import (
	"github.com/arloliu/go-daq/logger"
)

// DefaultBufferSize is the write buffer size of a Writer.
const DefaultBufferSize = 4 * 1024 * 1024

type options struct {
	logger      logger.Logger
	compression Compression
	digest      bool
	bufferSize  uint32
	maxSize     uint64
	raw         bool
	dropErrors  bool
}

func applyOptions(opts []Option) (*options, error) {
	o := &options{
		logger:     logger.GetLogger(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return o, err
		}
	}

	return o, nil
}

// Option configures a Writer or Reader.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error {
	return f(o)
}

// WithLogger sets the logger. A nil logger keeps the package default.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l != nil {
			o.logger = l
		}
		return nil
	})
}

// WithCompression sets the compression of files opened by a Writer.
func WithCompression(c Compression) Option {
	return optFunc(func(o *options) error {
		if c > CompressionZstd {
			return ErrInvalidCompression
		}
		o.compression = c
		return nil
	})
}

// WithDigest makes a Writer keep a blake3 digest of every byte it writes.
func WithDigest() Option {
	return optFunc(func(o *options) error {
		o.digest = true
		return nil
	})
}

// WithBufferSize sets the write buffer size, 0 disables buffering.
func WithBufferSize(size uint32) Option {
	return optFunc(func(o *options) error {
		o.bufferSize = size
		return nil
	})
}

// WithMaxSize sets the size at which a Writer rolls over to the next file,
// 0 for unlimited.
func WithMaxSize(size uint64) Option {
	return optFunc(func(o *options) error {
		o.maxSize = size
		return nil
	})
}

// WithRaw makes a Writer store payloads without record headers.
func WithRaw() Option {
	return optFunc(func(o *options) error {
		o.raw = true
		return nil
	})
}

// WithDropErrors makes a Writer discard frames carrying an error code.
func WithDropErrors() Option {
	return optFunc(func(o *options) error {
		o.dropErrors = true
		return nil
	})
}
