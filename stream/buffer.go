package stream

import (
	"fmt"
	"sync/atomic"
)

const (
	// MetaZeroCopy marks a buffer whose memory is owned outside the generic
	// allocation path (a hardware ring, a mapped region). Releasing it does not
	// free or recycle the backing memory.
	MetaZeroCopy uint32 = 0x80000000

	// MetaTagMask selects the allocation tag bits of a meta value. The bits above
	// are reserved for the owning slave.
	MetaTagMask uint32 = 0xFFFF
)

// BufferOwner is implemented by whoever allocated a Buffer's memory. It gets the
// buffer back when the last frame reference is dropped.
type BufferOwner interface {
	RetBuffer(buf *Buffer)
}

// Buffer is a single contiguous memory region with a payload size inside a raw
// capacity.
//
// The usable region is the raw data minus the head and tail reservations:
//
//	[headRoom][payload ... available][tailRoom]
//
// A Buffer is owned by the slave that allocated it and is shared by exactly one
// Frame at a time.
type Buffer struct {
	owner    BufferOwner
	data     []byte
	meta     uint32
	headRoom uint32
	tailRoom uint32
	payload  uint32
	released atomic.Bool
}

// NewBuffer wraps data as a buffer owned by owner. Slaves handing out hardware
// or pre-mapped memory create their buffers with this, setting MetaZeroCopy in meta.
func NewBuffer(owner BufferOwner, data []byte, meta uint32) *Buffer {
	return &Buffer{owner: owner, data: data, meta: meta}
}

// Owner returns the allocating owner.
func (b *Buffer) Owner() BufferOwner { return b.owner }

// Meta returns the allocation meta value.
func (b *Buffer) Meta() uint32 { return b.meta }

// Tag returns the 16-bit allocation tag.
func (b *Buffer) Tag() uint16 { return uint16(b.meta & MetaTagMask) }

// IsZeroCopy reports whether the buffer memory is owned outside the generic pool.
func (b *Buffer) IsZeroCopy() bool { return b.meta&MetaZeroCopy != 0 }

// RawData returns the whole backing region, reservations included.
func (b *Buffer) RawData() []byte { return b.data }

// RawSize returns the raw capacity.
func (b *Buffer) RawSize() uint32 { return uint32(len(b.data)) }

// HeadRoom returns the header reservation.
func (b *Buffer) HeadRoom() uint32 { return b.headRoom }

// TailRoom returns the tail reservation.
func (b *Buffer) TailRoom() uint32 { return b.tailRoom }

// Size returns the usable capacity: raw size minus head and tail reservations.
func (b *Buffer) Size() uint32 {
	reserved := b.headRoom + b.tailRoom
	if reserved >= b.RawSize() {
		return 0
	}

	return b.RawSize() - reserved
}

// Payload returns the payload size.
func (b *Buffer) Payload() uint32 { return b.payload }

// Available returns the unused usable capacity.
func (b *Buffer) Available() uint32 { return b.Size() - b.payload }

// SetPayload sets the payload size. It returns ErrBufferOverflow if size exceeds Size().
func (b *Buffer) SetPayload(size uint32) error {
	if size > b.Size() {
		return fmt.Errorf("%w: payload %d exceeds usable size %d", ErrBufferOverflow, size, b.Size())
	}
	b.payload = size

	return nil
}

// AdjustHeader grows (positive) or shrinks (negative) the header reservation.
//
// The payload keeps its end position, so growing the header consumes payload
// bytes from its front, the way a protocol layer strips its header.
func (b *Buffer) AdjustHeader(delta int32) error {
	head := int64(b.headRoom) + int64(delta)
	if head < 0 || uint64(head)+uint64(b.tailRoom) > uint64(b.RawSize()) {
		return fmt.Errorf("%w: header reservation %d out of range", ErrBufferOverflow, head)
	}

	payload := int64(b.payload) - int64(delta)
	if payload < 0 {
		payload = 0
	}
	b.headRoom = uint32(head)
	b.payload = min(uint32(payload), b.Size())

	return nil
}

// AdjustTail grows (positive) or shrinks (negative) the tail reservation.
func (b *Buffer) AdjustTail(delta int32) error {
	tail := int64(b.tailRoom) + int64(delta)
	if tail < 0 || uint64(tail)+uint64(b.headRoom) > uint64(b.RawSize()) {
		return fmt.Errorf("%w: tail reservation %d out of range", ErrBufferOverflow, tail)
	}
	b.tailRoom = uint32(tail)
	b.payload = min(b.payload, b.Size())

	return nil
}

// Data returns the payload region.
func (b *Buffer) Data() []byte {
	return b.data[b.headRoom : b.headRoom+b.payload]
}

// Usable returns the whole usable region, payload and available space.
func (b *Buffer) Usable() []byte {
	return b.data[b.headRoom : b.headRoom+b.Size()]
}

// IsReleased reports whether the buffer has been returned to its owner.
func (b *Buffer) IsReleased() bool { return b.released.Load() }

// MarkReleased flags the buffer as returned and reports whether this call did it.
//
// Owners call it first in RetBuffer; a false result is a duplicate release that
// must not be applied to the owner's counters.
func (b *Buffer) MarkReleased() bool {
	return b.released.CompareAndSwap(false, true)
}

func (b *Buffer) release() {
	if b.owner != nil {
		b.owner.RetBuffer(b)
	}
}
