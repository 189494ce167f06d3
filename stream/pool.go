package stream

import (
	"sync/atomic"
	"time"

	"github.com/arloliu/go-daq/internal/queue"
	"github.com/arloliu/go-daq/logger"
)

// noFreeMeta is the initial last-freed sentinel; it can never equal a real tag.
const noFreeMeta = 0xFFFFFFFF

// AllocFunc allocates raw buffer memory. Returning nil signals allocation failure.
type AllocFunc func(size uint32) []byte

// Pool allocates Buffers and Frames and takes buffers back when frames are released.
//
// Every buffer gets a 16-bit meta tag from the pool's counter. The pool keeps
// outstanding buffer count and bytes so leaks show up in AllocCount and
// AllocBytes. In fixed-size mode released memory is kept on a lock-free free
// list and reused by later allocations.
//
// Pool is safe for concurrent use.
type Pool struct {
	logger    logger.Logger
	allocFunc AllocFunc
	fixedSize uint32
	poolSize  uint32
	free      *queue.LockFree[[]byte]

	allocMeta  atomic.Uint32
	freeMeta   atomic.Uint32
	allocBytes atomic.Int64
	allocCount atomic.Int64
	frameSeq   atomic.Uint64

	metrics PoolMetrics
}

var _ BufferOwner = (*Pool)(nil)

// NewPool creates a pool with direct allocation, customized by opts.
func NewPool(opts ...PoolOption) (*Pool, error) {
	p := &Pool{
		logger:    logger.GetLogger(),
		allocFunc: func(size uint32) []byte { return make([]byte, size) },
		free:      queue.NewLockFree[[]byte](),
	}
	p.freeMeta.Store(noFreeMeta)

	for _, opt := range opts {
		if err := opt.apply(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Logger returns the pool logger.
func (p *Pool) Logger() logger.Logger { return p.logger }

// AllocBytes returns the outstanding allocated bytes.
func (p *Pool) AllocBytes() int64 { return p.allocBytes.Load() }

// AllocCount returns the number of outstanding buffers.
func (p *Pool) AllocCount() int64 { return p.allocCount.Load() }

// FixedSize returns the fixed buffer size, 0 in direct allocation mode.
func (p *Pool) FixedSize() uint32 { return p.fixedSize }

// FreeListLen returns the number of raw regions waiting for reuse.
func (p *Pool) FreeListLen() int { return p.free.Len() }

// Trim drops every recycled region so the memory can be collected. It
// returns the number of regions dropped.
func (p *Pool) Trim() int { return p.free.Drain() }

// Metrics returns the pool metrics.
func (p *Pool) Metrics() *PoolMetrics { return &p.metrics }

// AllocBuffer allocates a buffer of size bytes with a fresh meta tag.
//
// On allocation failure the returned buffer has zero size; callers must check
// RawSize. In fixed-size mode every buffer has the fixed capacity and requests
// above it fail.
func (p *Pool) AllocBuffer(size uint32) *Buffer {
	data := p.allocRaw(size)
	if data == nil {
		p.metrics.incAllocFailCount()
		p.logger.Debug("buffer allocation failed", "size", size, "fixed_size", p.fixedSize)
	} else {
		p.allocBytes.Add(int64(len(data)))
	}

	buf := NewBuffer(p, data, p.nextMeta())
	p.allocCount.Add(1)
	p.metrics.incBufferAllocCount()

	return buf
}

// WrapBuffer creates a zero-copy buffer over memory the caller owns. The pool
// counts the buffer but never frees or recycles data.
func (p *Pool) WrapBuffer(data []byte, meta uint32) *Buffer {
	buf := NewBuffer(p, data, (meta&^MetaTagMask)|MetaZeroCopy|(p.nextMeta()&MetaTagMask))
	p.allocCount.Add(1)
	p.metrics.incBufferAllocCount()

	return buf
}

// AllocFrame allocates a frame covering totSize bytes with buffers of buffSize.
//
// With compact set the last buffer is shrunk to the remainder so the frame size
// equals totSize exactly; otherwise every buffer is buffSize. If an allocation
// fails the frame is returned short: callers compare Size with totSize.
func (p *Pool) AllocFrame(totSize, buffSize uint32, compact bool, zeroCopy bool) *Frame {
	frame := NewFrame()
	frame.id = p.frameSeq.Add(1)
	frame.zeroCopy = zeroCopy

	if buffSize == 0 {
		buffSize = totSize
	}
	if p.fixedSize > 0 && buffSize > p.fixedSize {
		buffSize = p.fixedSize
	}

	var alloc uint32
	for alloc < totSize {
		bSize := buffSize
		if compact && totSize-alloc < buffSize {
			bSize = totSize - alloc
		}

		buf := p.AllocBuffer(bSize)
		if buf.RawSize() == 0 {
			p.RetBuffer(buf)
			break
		}
		if slack := buf.RawSize() - bSize; slack > 0 {
			// fixed-size regions are larger than a compacted remainder
			_ = buf.AdjustTail(int32(slack))
		}
		frame.AppendBuffer(buf)
		alloc += bSize
	}

	return frame
}

// AcceptReq serves a frame request with a frame sized exactly to the request.
// Slaves owning hardware buffers override it.
func (p *Pool) AcceptReq(size uint32, _ bool, _ time.Duration) *Frame {
	return p.AllocFrame(size, size, false, false)
}

// RetBuffer takes a buffer back.
//
// A buffer released twice is reported and ignored, so the outstanding totals of
// other buffers stay correct. A release carrying the same meta as the previous
// one is reported too: it points at tag reuse or a caller bug.
func (p *Pool) RetBuffer(buf *Buffer) {
	if buf == nil {
		return
	}

	if !buf.MarkReleased() {
		p.metrics.incDoubleReleaseCount()
		p.logger.Warn("buffer released twice", "meta", buf.Meta(), "raw_size", buf.RawSize())

		return
	}

	meta := buf.Meta()
	if p.freeMeta.Swap(meta) == meta {
		p.metrics.incMetaCollisionCount()
		p.logger.Warn("buffer return with duplicate meta", "meta", meta)
	}

	p.allocCount.Add(-1)
	p.metrics.incBufferFreeCount()

	if buf.IsZeroCopy() || buf.RawSize() == 0 {
		return
	}

	raw := buf.RawData()
	p.allocBytes.Add(-int64(len(raw)))
	p.recycle(raw)
}

func (p *Pool) nextMeta() uint32 {
	return (p.allocMeta.Add(1) - 1) & MetaTagMask
}

func (p *Pool) allocRaw(size uint32) []byte {
	if size == 0 {
		return nil
	}

	if p.fixedSize == 0 {
		return p.allocFunc(size)
	}

	if size > p.fixedSize {
		return nil
	}
	if raw, ok := p.free.Dequeue(); ok {
		p.metrics.incRecycleHitCount()
		return raw
	}

	return p.allocFunc(p.fixedSize)
}

func (p *Pool) recycle(raw []byte) {
	if p.fixedSize == 0 || uint32(cap(raw)) < p.fixedSize {
		return
	}
	if p.poolSize > 0 && uint32(p.free.Len()) >= p.poolSize {
		return
	}
	p.free.Enqueue(raw[:p.fixedSize])
}

// PoolMetrics contains atomic counters for a pool.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type PoolMetrics struct {
	// BufferAllocCount indicates the number of buffers handed out.
	BufferAllocCount atomic.Uint64
	// BufferFreeCount indicates the number of buffers taken back.
	BufferFreeCount atomic.Uint64
	// AllocFailCount indicates the number of failed raw allocations.
	AllocFailCount atomic.Uint64
	// RecycleHitCount indicates the number of allocations served from the free list.
	RecycleHitCount atomic.Uint64
	// DoubleReleaseCount indicates the number of ignored duplicate releases.
	DoubleReleaseCount atomic.Uint64
	// MetaCollisionCount indicates the number of consecutive releases with the same meta.
	MetaCollisionCount atomic.Uint64
}

func (m *PoolMetrics) incBufferAllocCount()   { m.BufferAllocCount.Add(1) }
func (m *PoolMetrics) incBufferFreeCount()    { m.BufferFreeCount.Add(1) }
func (m *PoolMetrics) incAllocFailCount()     { m.AllocFailCount.Add(1) }
func (m *PoolMetrics) incRecycleHitCount()    { m.RecycleHitCount.Add(1) }
func (m *PoolMetrics) incDoubleReleaseCount() { m.DoubleReleaseCount.Add(1) }
func (m *PoolMetrics) incMetaCollisionCount() { m.MetaCollisionCount.Add(1) }

// PoolOption represents a functional option for configuring a Pool.
type PoolOption interface {
	apply(*Pool) error
}

type poolOptFunc func(*Pool) error

func (f poolOptFunc) apply(p *Pool) error {
	if p == nil {
		return ErrPoolNil
	}

	return f(p)
}

// WithLogger sets the pool logger. Defaults to logger.GetLogger().
func WithLogger(l logger.Logger) PoolOption {
	return poolOptFunc(func(p *Pool) error {
		if l != nil {
			p.logger = l
		}
		return nil
	})
}

// WithFixedSize switches the pool to fixed-size mode: every buffer has size
// bytes of capacity and released memory is recycled.
func WithFixedSize(size uint32) PoolOption {
	return poolOptFunc(func(p *Pool) error {
		if size == 0 {
			return ErrInvalidFixedSize
		}
		p.fixedSize = size
		return nil
	})
}

// WithPoolSize bounds the number of recycled regions kept on the free list.
// Zero keeps every released region. Only relevant with WithFixedSize.
func WithPoolSize(count uint32) PoolOption {
	return poolOptFunc(func(p *Pool) error {
		p.poolSize = count
		return nil
	})
}

// WithAllocator replaces the raw memory allocator.
func WithAllocator(fn AllocFunc) PoolOption {
	return poolOptFunc(func(p *Pool) error {
		if fn != nil {
			p.allocFunc = fn
		}
		return nil
	})
}
