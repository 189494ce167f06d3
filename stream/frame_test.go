package stream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, opts ...PoolOption) *Pool {
	t.Helper()

	p, err := NewPool(append([]PoolOption{WithLogger(newQuietLogger())}, opts...)...)
	require.NoError(t, err)

	return p
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestFrame_WriteReadAcrossBuffers(t *testing.T) {
	p := newTestPool(t)
	frame := p.AllocFrame(100, 30, true, false)
	require.Equal(t, 4, frame.BufferCount())
	require.Equal(t, uint32(100), frame.Size())

	data := pattern(100)
	n, err := frame.WriteAt(data, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, uint32(100), frame.Payload())
	assert.Equal(t, data, frame.Bytes())

	got := make([]byte, 50)
	n, err = frame.ReadAt(got, 25)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, data[25:75], got)

	n, err = frame.ReadAt(got, 80)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 20, n)

	all, err := io.ReadAll(frame.Reader())
	require.NoError(t, err)
	assert.Equal(t, data, all)
}

func TestFrame_WriterAppends(t *testing.T) {
	p := newTestPool(t)
	frame := p.AllocFrame(16, 5, false, false)
	assert.Equal(t, uint32(20), frame.Size(), "non-compact frames round up to whole buffers")

	w := frame.Writer()
	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(frame.Bytes()))

	_, err = w.Write(bytes.Repeat([]byte{1}, 10))
	assert.ErrorIs(t, err, ErrFrameOverflow)
	assert.Equal(t, uint32(11), frame.Payload(), "failed write leaves payload untouched")
}

func TestFrame_PayloadDistribution(t *testing.T) {
	p := newTestPool(t)
	frame := p.AllocFrame(30, 10, true, false)

	require.NoError(t, frame.SetPayload(25))
	assert.Equal(t, uint32(10), frame.Buffer(0).Payload())
	assert.Equal(t, uint32(10), frame.Buffer(1).Payload())
	assert.Equal(t, uint32(5), frame.Buffer(2).Payload())

	require.NoError(t, frame.AdjustPayload(-20))
	assert.Equal(t, uint32(5), frame.Payload())
	assert.Equal(t, uint32(0), frame.Buffer(1).Payload())

	require.NoError(t, frame.MinPayload(3))
	assert.Equal(t, uint32(5), frame.Payload())

	assert.ErrorIs(t, frame.SetPayload(31), ErrFrameOverflow)
	assert.ErrorIs(t, frame.AdjustPayload(-6), ErrFrameUnderflow)
	assert.Equal(t, uint32(25), frame.Available())
	assert.Nil(t, frame.Buffer(3))
}

func TestFrame_PackedFlags(t *testing.T) {
	frame := NewFrame()
	frame.SetChannel(0xA5)
	frame.SetError(0x3C)
	frame.SetFlags(0xBEEF)
	assert.Equal(t, uint32(0xA53CBEEF), frame.PackedFlags())

	other := NewFrame()
	other.SetPackedFlags(0x01020304)
	assert.Equal(t, uint8(0x01), other.Channel())
	assert.Equal(t, uint8(0x02), other.Error())
	assert.Equal(t, uint16(0x0304), other.Flags())
}

func TestFrame_ReleaseReturnsBuffers(t *testing.T) {
	p := newTestPool(t)
	frame := p.AllocFrame(4096, 1024, true, false)
	assert.Equal(t, int64(4), p.AllocCount())
	assert.Equal(t, int64(4096), p.AllocBytes())

	frame.Retain()
	assert.False(t, frame.Release(), "a retained frame keeps its buffers")
	assert.Equal(t, int64(4), p.AllocCount())

	assert.True(t, frame.Release())
	assert.Equal(t, int64(0), p.AllocCount())
	assert.Equal(t, int64(0), p.AllocBytes())
	assert.True(t, frame.IsEmpty())

	assert.False(t, frame.Release(), "releasing a dead frame is a no-op")
	assert.Equal(t, int32(0), frame.RefCount())
	assert.Zero(t, p.Metrics().DoubleReleaseCount.Load())
}

func TestFrame_AppendFrame(t *testing.T) {
	p := newTestPool(t)
	a := p.AllocFrame(10, 10, true, false)
	b := p.AllocFrame(20, 10, true, false)

	a.AppendFrame(b)
	assert.Equal(t, 3, a.BufferCount())
	assert.True(t, b.IsEmpty())

	a.AppendFrame(a)
	assert.Equal(t, 3, a.BufferCount())

	assert.True(t, b.Release())
	assert.Equal(t, int64(3), p.AllocCount(), "moved buffers belong to the receiving frame")
	assert.True(t, a.Release())
	assert.Equal(t, int64(0), p.AllocCount())
}

func TestIterator(t *testing.T) {
	p := newTestPool(t)
	frame := p.AllocFrame(25, 10, true, false)

	data := pattern(25)
	it, err := frame.StartWrite(0, 25)
	require.NoError(t, err)

	var sizes []uint32
	off := 0
	for it.Next() {
		assert.Equal(t, uint32(off), it.Total())
		sizes = append(sizes, it.Size())
		off += copy(it.Data(), data[off:])
	}
	assert.Equal(t, []uint32{10, 10, 5}, sizes)
	assert.Equal(t, data, frame.Bytes())

	it, err = frame.StartRead(7, 10)
	require.NoError(t, err)
	var got []byte
	for it.Next() {
		got = append(got, it.Data()...)
	}
	assert.Equal(t, data[7:17], got)
	assert.False(t, it.Next())

	_, err = frame.StartRead(20, 10)
	assert.ErrorIs(t, err, ErrFrameUnderflow)
	_, err = frame.StartWrite(20, 10)
	assert.ErrorIs(t, err, ErrFrameOverflow)
}
