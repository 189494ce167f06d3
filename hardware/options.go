package hardware

import (
	"time"

	"github.com/arloliu/go-daq/logger"
)

const (
	// DefaultFrameSize is the frame size a Device allocates for each read.
	DefaultFrameSize uint32 = 64 * 1024
	// DefaultPollInterval bounds every poll call so closing is observed promptly.
	DefaultPollInterval = 100 * time.Millisecond
)

type options struct {
	logger       logger.Logger
	create       bool
	mapOffset    int64
	frameSize    uint32
	pollInterval time.Duration
}

func applyOptions(opts []Option) (*options, error) {
	o := &options{
		logger:       logger.GetLogger(),
		frameSize:    DefaultFrameSize,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return o, err
		}
	}

	return o, nil
}

// Option configures a MemMap or Device.
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

// WithCreate makes MemMap create the backing file and grow it to the window
// size, for emulating a register window with a regular file.
func WithCreate() Option {
	return optFunc(func(o *options) error {
		o.create = true
		return nil
	})
}

// WithMapOffset sets the offset of the mapped window in the device. It must be
// a multiple of the system page size.
func WithMapOffset(offset int64) Option {
	return optFunc(func(o *options) error {
		if offset < 0 {
			return ErrInvalidSize
		}
		o.mapOffset = offset
		return nil
	})
}

// WithFrameSize sets the size of frames a Device reads into.
func WithFrameSize(size uint32) Option {
	return optFunc(func(o *options) error {
		if size == 0 {
			return ErrInvalidSize
		}
		o.frameSize = size
		return nil
	})
}

// MinPollInterval is the poll timeout resolution of the Device loops.
const MinPollInterval = time.Millisecond

// WithPollInterval sets the poll timeout of the Device loops. Intervals below
// MinPollInterval are rejected.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d < MinPollInterval {
			return ErrInvalidPollInterval
		}
		o.pollInterval = d
		return nil
	})
}
