package stream

import "fmt"

// Iterator walks a byte range of a frame one buffer segment at a time, so
// producers and consumers can fill or drain buffers in place (for example with
// a single read syscall per segment) without caring where buffers end.
//
//	it, err := frame.StartWrite(0, size)
//	for it.Next() {
//	    if _, err := io.ReadFull(r, it.Data()); err != nil { ... }
//	}
type Iterator struct {
	segs  [][]byte
	idx   int
	data  []byte
	total uint32
	next  uint32
}

// StartRead returns an iterator over size payload bytes starting at offset.
func (f *Frame) StartRead(offset, size uint32) (*Iterator, error) {
	if uint64(offset)+uint64(size) > uint64(f.Payload()) {
		return nil, fmt.Errorf("%w: read of %d bytes at %d exceeds payload %d", ErrFrameUnderflow, size, offset, f.Payload())
	}

	return newIterator(f.segments(), offset, size), nil
}

// StartWrite returns an iterator over size bytes starting at offset. The payload
// grows to offset+size up front.
func (f *Frame) StartWrite(offset, size uint32) (*Iterator, error) {
	end := uint64(offset) + uint64(size)
	if end > uint64(f.Size()) {
		return nil, fmt.Errorf("%w: write of %d bytes at %d exceeds frame size %d", ErrFrameOverflow, size, offset, f.Size())
	}
	if err := f.MinPayload(uint32(end)); err != nil {
		return nil, err
	}

	return newIterator(f.segments(), offset, size), nil
}

func newIterator(payload [][]byte, offset, size uint32) *Iterator {
	it := &Iterator{}

	pos := uint32(0)
	remaining := size
	for _, seg := range payload {
		if remaining == 0 {
			break
		}
		segLen := uint32(len(seg))
		if offset >= pos+segLen {
			pos += segLen
			continue
		}

		start := uint32(0)
		if offset > pos {
			start = offset - pos
		}
		n := min(segLen-start, remaining)
		it.segs = append(it.segs, seg[start:start+n])
		remaining -= n
		pos += segLen
	}
	it.idx = -1

	return it
}

// Next advances to the next segment. It returns false when the range is exhausted.
func (it *Iterator) Next() bool {
	it.total = it.next
	it.idx++
	if it.idx >= len(it.segs) {
		it.data = nil
		return false
	}
	it.data = it.segs[it.idx]
	it.next += uint32(len(it.data))

	return true
}

// Data returns the current segment.
func (it *Iterator) Data() []byte { return it.data }

// Size returns the current segment length.
func (it *Iterator) Size() uint32 { return uint32(len(it.data)) }

// Total returns the number of bytes in the segments before the current one.
func (it *Iterator) Total() uint32 { return it.total }
