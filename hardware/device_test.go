package hardware

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/arloliu/go-daq/stream"
)

func newSocketPair(t *testing.T) (int, int) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	return fds[0], fds[1]
}

type collectSlave struct {
	*stream.BaseSlave
	mu   sync.Mutex
	data bytes.Buffer
}

func (s *collectSlave) AcceptFrame(frame *stream.Frame, _ time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Write(frame.Bytes())

	return true
}

func (s *collectSlave) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data.Len()
}

func (s *collectSlave) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]byte(nil), s.data.Bytes()...)
}

func TestDevice_ReadLoopPushesFrames(t *testing.T) {
	devFD, peerFD := newSocketPair(t)
	defer unix.Close(peerFD)

	dev, err := NewDeviceFD(devFD, "pair", WithLogger(discardLogger()),
		WithFrameSize(64), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	base, err := stream.NewBaseSlave()
	require.NoError(t, err)
	sink := &collectSlave{BaseSlave: base}
	dev.SetSlave(sink)

	payload := bytes.Repeat([]byte("daq-"), 50)
	_, err = unix.Write(peerFD, payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sink.Len() == len(payload) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, payload, sink.Bytes())
	assert.GreaterOrEqual(t, dev.Metrics().FrameRecvCount.Load(), uint64(4), "frames are at most 64 bytes")
	assert.Equal(t, uint64(len(payload)), dev.Metrics().BytesRecv.Load())

	require.NoError(t, dev.Close())
	assert.False(t, dev.IsActive())
	assert.Equal(t, int64(0), dev.AllocCount(), "every frame returned to the device pool")
}

func TestDevice_AcceptFrameWrites(t *testing.T) {
	devFD, peerFD := newSocketPair(t)
	defer unix.Close(peerFD)

	dev, err := NewDeviceFD(devFD, "pair", WithLogger(discardLogger()), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer dev.Close()

	pool, err := stream.NewPool()
	require.NoError(t, err)
	frame := pool.AllocFrame(100, 32, true, false)
	payload := bytes.Repeat([]byte{0x5a, 0xa5}, 50)
	_, err = frame.WriteAt(payload, 0)
	require.NoError(t, err)

	m := stream.NewMaster()
	m.SetSlave(dev)
	require.True(t, m.SendFrame(frame))
	frame.Release()

	got := make([]byte, len(payload))
	read := 0
	require.Eventually(t, func() bool {
		n, _ := unix.Read(peerFD, got[read:])
		if n > 0 {
			read += n
		}
		return read == len(payload)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, payload, got)
	assert.Equal(t, uint64(1), dev.Metrics().FrameSendCount.Load())
}

func TestDevice_PeerCloseEndsLoop(t *testing.T) {
	devFD, peerFD := newSocketPair(t)

	dev, err := NewDeviceFD(devFD, "pair", WithLogger(discardLogger()), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer dev.Close()

	require.NoError(t, unix.Close(peerFD))
	require.Eventually(t, func() bool { return !dev.IsActive() }, 2*time.Second, 5*time.Millisecond)
}

func TestDevice_CloseInterruptsIdleLoop(t *testing.T) {
	devFD, peerFD := newSocketPair(t)
	defer unix.Close(peerFD)

	dev, err := NewDeviceFD(devFD, "pair", WithLogger(discardLogger()), WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, dev.IsActive())

	done := make(chan struct{})
	go func() {
		_ = dev.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not join the read loop")
	}
	assert.False(t, dev.IsActive())

	assert.False(t, dev.AcceptFrame(stream.NewFrame(), 0), "closed device rejects frames")
	assert.NoError(t, dev.Close(), "second close is a no-op")
}

func TestDevice_OpenMissing(t *testing.T) {
	_, err := OpenDevice("/nonexistent/daq0")
	assert.ErrorIs(t, err, ErrOpen)
}

func TestDevice_InvalidOptions(t *testing.T) {
	devFD, peerFD := newSocketPair(t)
	defer unix.Close(peerFD)
	defer unix.Close(devFD)

	_, err := NewDeviceFD(devFD, "pair", WithFrameSize(0))
	assert.ErrorIs(t, err, ErrInvalidSize)

	for _, d := range []time.Duration{0, -time.Second, 500 * time.Microsecond} {
		_, err = NewDeviceFD(devFD, "pair", WithPollInterval(d))
		assert.ErrorIs(t, err, ErrInvalidPollInterval, "interval %v", d)
	}
}
