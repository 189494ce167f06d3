package stream

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Frame is an ordered sequence of Buffers presented as one logical byte stream,
// plus flags and error metadata.
//
// A frame is reference counted. It is created with one reference owned by the
// creator; a slave that keeps a frame past AcceptFrame calls Retain and later
// Release. Dropping the last reference returns every buffer to its owner.
//
// Buffer appends and payload changes are serialized by the frame lock. Reading
// and writing payload bytes is not: a frame has one writer at a time, the
// producer before SendFrame.
type Frame struct {
	mu       sync.Mutex
	id       uint64
	buffers  []*Buffer
	flags    uint16
	errCode  uint8
	channel  uint8
	zeroCopy bool
	refs     atomic.Int32
}

// NewFrame creates an empty frame holding one reference.
func NewFrame() *Frame {
	f := &Frame{}
	f.refs.Store(1)

	return f
}

// ID returns the allocation sequence number assigned by the allocating pool.
func (f *Frame) ID() uint64 { return f.id }

// IsZeroCopy reports whether the frame was allocated with the zero-copy hint.
func (f *Frame) IsZeroCopy() bool { return f.zeroCopy }

// AppendBuffer appends buf to the end of the frame.
func (f *Frame) AppendBuffer(buf *Buffer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buffers = append(f.buffers, buf)
}

// AppendFrame moves every buffer of other to the end of f. other is left empty.
func (f *Frame) AppendFrame(other *Frame) {
	if other == nil || other == f {
		return
	}

	other.mu.Lock()
	moved := other.buffers
	other.buffers = nil
	other.mu.Unlock()

	f.mu.Lock()
	f.buffers = append(f.buffers, moved...)
	f.mu.Unlock()
}

// BufferCount returns the number of buffers.
func (f *Frame) BufferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.buffers)
}

// Buffer returns the buffer at index i, or nil when out of range.
func (f *Frame) Buffer(i int) *Buffer {
	f.mu.Lock()
	defer f.mu.Unlock()

	if i < 0 || i >= len(f.buffers) {
		return nil
	}

	return f.buffers[i]
}

// IsEmpty reports whether the frame has no buffers.
func (f *Frame) IsEmpty() bool { return f.BufferCount() == 0 }

// Size returns the total usable capacity of all buffers.
func (f *Frame) Size() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var total uint32
	for _, b := range f.buffers {
		total += b.Size()
	}

	return total
}

// Payload returns the total payload, the sum of every buffer's payload.
func (f *Frame) Payload() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.payloadLocked()
}

func (f *Frame) payloadLocked() uint32 {
	var total uint32
	for _, b := range f.buffers {
		total += b.payload
	}

	return total
}

// Available returns the unused capacity.
func (f *Frame) Available() uint32 { return f.Size() - f.Payload() }

// SetPayload sets the total payload, filling buffers in order: every buffer
// before the last one holding payload is full.
func (f *Frame) SetPayload(size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.setPayloadLocked(size)
}

func (f *Frame) setPayloadLocked(size uint32) error {
	var capacity uint32
	for _, b := range f.buffers {
		capacity += b.Size()
	}
	if size > capacity {
		return fmt.Errorf("%w: payload %d exceeds frame size %d", ErrFrameOverflow, size, capacity)
	}

	remaining := size
	for _, b := range f.buffers {
		n := min(remaining, b.Size())
		b.payload = n
		remaining -= n
	}

	return nil
}

// MinPayload grows the payload to at least size.
func (f *Frame) MinPayload(size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.payloadLocked() >= size {
		return nil
	}

	return f.setPayloadLocked(size)
}

// AdjustPayload changes the payload by delta bytes.
func (f *Frame) AdjustPayload(delta int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	size := int64(f.payloadLocked()) + int64(delta)
	if size < 0 {
		return fmt.Errorf("%w: payload adjust by %d", ErrFrameUnderflow, delta)
	}

	return f.setPayloadLocked(uint32(size))
}

// Flags returns the 16-bit user flags.
func (f *Frame) Flags() uint16 { return f.flags }

// SetFlags sets the 16-bit user flags.
func (f *Frame) SetFlags(flags uint16) { f.flags = flags }

// Error returns the frame error code, 0 when the frame is good.
func (f *Frame) Error() uint8 { return f.errCode }

// SetError sets the frame error code.
func (f *Frame) SetError(code uint8) { f.errCode = code }

// Channel returns the sub-channel id.
func (f *Frame) Channel() uint8 { return f.channel }

// SetChannel sets the sub-channel id.
func (f *Frame) SetChannel(ch uint8) { f.channel = ch }

// PackedFlags returns channel, error and flags packed in one word:
// bits 31-24 channel, 23-16 error, 15-0 flags.
func (f *Frame) PackedFlags() uint32 {
	return PackFlags(f.channel, f.errCode, f.flags)
}

// SetPackedFlags unpacks a word produced by PackedFlags.
func (f *Frame) SetPackedFlags(word uint32) {
	f.channel, f.errCode, f.flags = UnpackFlags(word)
}

// PackFlags packs channel, error code and flags into the stream file flags word.
func PackFlags(channel uint8, errCode uint8, flags uint16) uint32 {
	return uint32(channel)<<24 | uint32(errCode)<<16 | uint32(flags)
}

// UnpackFlags splits a stream file flags word.
func UnpackFlags(word uint32) (channel uint8, errCode uint8, flags uint16) {
	return uint8(word >> 24), uint8(word >> 16), uint16(word)
}

// Retain adds a reference.
func (f *Frame) Retain() {
	f.refs.Add(1)
}

// Release drops a reference. When the last reference is dropped every buffer
// is returned to its owner and the frame becomes empty.
//
// It reports whether this call released the buffers. Releasing a frame that
// has no references left is a no-op.
func (f *Frame) Release() bool {
	for {
		refs := f.refs.Load()
		if refs <= 0 {
			return false
		}
		if f.refs.CompareAndSwap(refs, refs-1) {
			if refs > 1 {
				return false
			}
			break
		}
	}

	f.mu.Lock()
	buffers := f.buffers
	f.buffers = nil
	f.mu.Unlock()

	for _, b := range buffers {
		b.release()
	}

	return true
}

// RefCount returns the current number of references.
func (f *Frame) RefCount() int32 { return f.refs.Load() }

// segments returns the payload regions of every buffer.
func (f *Frame) segments() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	segs := make([][]byte, 0, len(f.buffers))
	for _, b := range f.buffers {
		segs = append(segs, b.Data())
	}

	return segs
}

// ReadAt implements io.ReaderAt over the payload.
func (f *Frame) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrFrameUnderflow, off)
	}

	n := 0
	pos := int64(0)
	for _, seg := range f.segments() {
		if n == len(p) {
			break
		}
		end := pos + int64(len(seg))
		if off+int64(n) < end {
			start := off + int64(n) - pos
			n += copy(p[n:], seg[start:])
		}
		pos = end
	}

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// WriteAt implements io.WriterAt. The payload grows to cover the written range;
// writing past Size() returns ErrFrameOverflow without writing anything.
func (f *Frame) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrFrameUnderflow, off)
	}
	end := off + int64(len(p))
	if end > int64(f.Size()) {
		return 0, fmt.Errorf("%w: write of %d bytes at %d exceeds frame size %d", ErrFrameOverflow, len(p), off, f.Size())
	}
	if err := f.MinPayload(uint32(end)); err != nil {
		return 0, err
	}

	n := 0
	pos := int64(0)
	for _, seg := range f.segments() {
		if n == len(p) {
			break
		}
		segEnd := pos + int64(len(seg))
		if off+int64(n) < segEnd {
			start := off + int64(n) - pos
			n += copy(seg[start:], p[n:])
		}
		pos = segEnd
	}

	return n, nil
}

// Bytes returns a copy of the payload.
func (f *Frame) Bytes() []byte {
	out := make([]byte, 0, f.Payload())
	for _, seg := range f.segments() {
		out = append(out, seg...)
	}

	return out
}

// Reader returns an io.Reader over the current payload.
func (f *Frame) Reader() io.Reader {
	return io.NewSectionReader(f, 0, int64(f.Payload()))
}

// Writer returns an io.Writer appending after the current payload.
func (f *Frame) Writer() io.Writer {
	return &frameWriter{frame: f, off: int64(f.Payload())}
}

type frameWriter struct {
	frame *Frame
	off   int64
}

func (w *frameWriter) Write(p []byte) (int, error) {
	n, err := w.frame.WriteAt(p, w.off)
	w.off += int64(n)

	return n, err
}
