package memory

import (
	"time"

	"github.com/arloliu/go-daq/logger"
)

const (
	// DefaultSplitLimit is the largest transaction a hub forwards without splitting.
	DefaultSplitLimit uint32 = 4096
	// DefaultSplitStride is the address distance between consecutive split children.
	DefaultSplitStride uint64 = 0x1000
	// DefaultTimeout is the transaction timeout used by a master.
	DefaultTimeout = time.Second
)

type options struct {
	logger  logger.Logger
	timeout time.Duration

	split  bool
	limit  uint32
	stride uint64
}

func defaultOptions() *options {
	return &options{
		logger:  logger.GetLogger(),
		timeout: DefaultTimeout,
		split:   true,
		limit:   DefaultSplitLimit,
		stride:  DefaultSplitStride,
	}
}

func applyOptions(opts []Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return o, err
		}
	}

	return o, nil
}

// Option configures a Master, Hub or Emulate.
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

// WithTimeout sets the timeout of transactions created by a master.
// Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d < 0 {
			return ErrInvalidTimeout
		}
		o.timeout = d
		return nil
	})
}

// WithSplit makes a hub split transactions larger than limit bytes into
// children placed stride bytes apart. Child i covers data bytes
// [i*limit, (i+1)*limit) of the parent at address + i*stride, so a stride
// larger than limit leaves address gaps between contiguous data chunks.
func WithSplit(limit uint32, stride uint64) Option {
	return optFunc(func(o *options) error {
		if limit == 0 || stride == 0 {
			return ErrInvalidSplit
		}
		o.split = true
		o.limit = limit
		o.stride = stride
		return nil
	})
}

// WithoutSplit makes a hub forward every transaction unchanged apart from the address.
func WithoutSplit() Option {
	return optFunc(func(o *options) error {
		o.split = false
		return nil
	})
}
