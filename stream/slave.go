package stream

import "time"

// Slave is the receiving side of a stream edge.
//
// AcceptReq serves frame requests from a master using this slave as its
// primary. AcceptFrame consumes a pushed frame; it may block up to timeout
// (0 waits forever) and must be safe for concurrent callers. An implementation
// that keeps the frame after returning calls frame.Retain.
type Slave interface {
	AcceptReq(size uint32, zeroCopyEn bool, timeout time.Duration) *Frame
	AcceptFrame(frame *Frame, timeout time.Duration) bool
}

// BaseSlave is the default slave: it allocates frames from its pool and rejects
// pushed frames. Sinks embed it and override AcceptFrame; hardware slaves
// override AcceptReq too.
type BaseSlave struct {
	*Pool
}

var _ Slave = (*BaseSlave)(nil)

// NewBaseSlave creates a BaseSlave over a new pool.
func NewBaseSlave(opts ...PoolOption) (*BaseSlave, error) {
	p, err := NewPool(opts...)
	if err != nil {
		return nil, err
	}

	return &BaseSlave{Pool: p}, nil
}

// AcceptFrame rejects the frame.
func (s *BaseSlave) AcceptFrame(_ *Frame, _ time.Duration) bool {
	return false
}

// AcceptFunc handles a pushed frame.
type AcceptFunc func(frame *Frame, timeout time.Duration) bool

// FuncSlave adapts a function to the Slave interface, allocating from its own pool.
type FuncSlave struct {
	*BaseSlave
	fn AcceptFunc
}

var _ Slave = (*FuncSlave)(nil)

// NewFuncSlave creates a slave calling fn for every pushed frame.
func NewFuncSlave(fn AcceptFunc, opts ...PoolOption) (*FuncSlave, error) {
	base, err := NewBaseSlave(opts...)
	if err != nil {
		return nil, err
	}

	return &FuncSlave{BaseSlave: base, fn: fn}, nil
}

// AcceptFrame calls the wrapped function.
func (s *FuncSlave) AcceptFrame(frame *Frame, timeout time.Duration) bool {
	if s.fn == nil {
		return s.BaseSlave.AcceptFrame(frame, timeout)
	}

	return s.fn(frame, timeout)
}
