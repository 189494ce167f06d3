package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arloliu/go-daq/internal/task"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/stream"
)

// Device is a stream master and slave over a file descriptor such as a
// character device, a pipe or a socket.
//
// As a master it reads whatever the descriptor delivers into frames from its
// own pool and pushes them to its slaves. As a slave it writes the payload of
// accepted frames to the descriptor.
type Device struct {
	*stream.Master
	*stream.BaseSlave

	name         string
	fd           int
	frameSize    uint32
	pollInterval time.Duration
	logger       logger.Logger
	tasks        *task.Manager
	metrics      DeviceMetrics

	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

var _ stream.Slave = (*Device)(nil)

// OpenDevice opens path for reading and writing and starts the read loop.
// Failures are wrapped with ErrOpen.
func OpenDevice(path string, opts ...Option) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrOpen, path, err)
	}

	dev, err := newDevice(path, fd, opts)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return dev, nil
}

// NewDeviceFD wraps an open descriptor and starts the read loop. The device
// takes ownership of fd and closes it on Close.
func NewDeviceFD(fd int, name string, opts ...Option) (*Device, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("%w: set nonblock %s: %w", ErrOpen, name, err)
	}

	return newDevice(name, fd, opts)
}

func newDevice(name string, fd int, opts []Option) (*Device, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	base, err := stream.NewBaseSlave(stream.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	master := stream.NewMaster()
	master.SetLogger(o.logger)

	dev := &Device{
		Master:       master,
		BaseSlave:    base,
		name:         name,
		fd:           fd,
		frameSize:    o.frameSize,
		pollInterval: o.pollInterval,
		logger:       o.logger.With("device", name),
		tasks:        task.NewManager(context.Background(), o.logger),
	}

	if err := dev.tasks.Start("deviceReadLoop", dev.readLoop); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	dev.logger.Info("device opened", "frame_size", dev.frameSize)

	return dev, nil
}

// Name returns the device path or name.
func (d *Device) Name() string { return d.name }

// Metrics returns the device metrics.
func (d *Device) Metrics() *DeviceMetrics { return &d.metrics }

// IsActive reports whether the read loop is running.
func (d *Device) IsActive() bool { return d.tasks.TaskCount() > 0 }

func (d *Device) pollTimeout() int {
	return int(d.pollInterval / time.Millisecond)
}

// readLoop runs one bounded poll and at most one read per call.
func (d *Device) readLoop(ctx context.Context) bool {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, d.pollTimeout())
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return true
		}
		d.logger.Error("device poll failed", "error", err)
		d.metrics.incReadErrCount()

		return false
	}
	if n == 0 || ctx.Err() != nil {
		return ctx.Err() == nil
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return false
	}

	frame := d.AllocFrame(d.frameSize, d.frameSize, false, false)
	if frame.IsEmpty() {
		d.logger.Warn("device frame allocation failed", "size", d.frameSize)
		d.metrics.incReadErrCount()
		frame.Release()

		return true
	}
	defer frame.Release()

	buf := frame.Buffer(0)
	count, err := unix.Read(d.fd, buf.Usable())
	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		return true
	case err != nil:
		d.logger.Error("device read failed", "error", err)
		d.metrics.incReadErrCount()
		return false
	case count == 0:
		d.logger.Info("device end of data")
		return false
	}

	_ = buf.SetPayload(uint32(count))
	d.metrics.incFrameRecvCount()
	d.metrics.addBytesRecv(uint64(count))

	if !d.SendFrame(frame) {
		d.metrics.incFrameDropCount()
	}

	return true
}

// AcceptFrame writes the frame payload to the descriptor. It waits for write
// readiness up to timeout, 0 waits until the device is closed.
func (d *Device) AcceptFrame(frame *stream.Frame, timeout time.Duration) bool {
	if frame == nil || d.closed.Load() {
		return false
	}

	it, err := frame.StartRead(0, frame.Payload())
	if err != nil {
		d.logger.Debug("device rejected frame", "error", err)
		return false
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	d.wmu.Lock()
	defer d.wmu.Unlock()

	for it.Next() {
		if err := d.writeAll(it.Data(), deadline); err != nil {
			d.logger.Warn("device write failed", "error", err)
			d.metrics.incWriteErrCount()
			return false
		}
	}
	d.metrics.incFrameSendCount()
	d.metrics.addBytesSent(uint64(frame.Payload()))

	return true
}

func (d *Device) writeAll(data []byte, deadline time.Time) error {
	for len(data) > 0 {
		if d.closed.Load() {
			return ErrClosed
		}

		n, err := unix.Write(d.fd, data)
		if n > 0 {
			data = data[n:]
		}
		switch {
		case err == nil || errors.Is(err, unix.EINTR):
			continue
		case !errors.Is(err, unix.EAGAIN):
			return err
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return fmt.Errorf("write timeout with %d bytes pending", len(data))
		}

		fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLOUT}}
		if _, err := unix.Poll(fds, d.pollTimeout()); err != nil && !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return nil
}

// Close stops and joins the read loop, then closes the descriptor.
func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		d.closed.Store(true)
		d.tasks.Stop()
		d.tasks.Wait()

		d.wmu.Lock()
		err = unix.Close(d.fd)
		d.wmu.Unlock()

		d.logger.Info("device closed",
			"frames_recv", d.metrics.FrameRecvCount.Load(),
			"frames_sent", d.metrics.FrameSendCount.Load())
	})

	return err
}

// DeviceMetrics contains atomic metrics for a device.
type DeviceMetrics struct {
	// FrameRecvCount indicates the number of frames read from the descriptor.
	FrameRecvCount atomic.Uint64
	// FrameSendCount indicates the number of frames written to the descriptor.
	FrameSendCount atomic.Uint64
	// FrameDropCount indicates the number of read frames not accepted by every slave.
	FrameDropCount atomic.Uint64
	// BytesRecv indicates the number of bytes read.
	BytesRecv atomic.Uint64
	// BytesSent indicates the number of bytes written.
	BytesSent atomic.Uint64
	// ReadErrCount indicates the number of read loop errors.
	ReadErrCount atomic.Uint64
	// WriteErrCount indicates the number of failed frame writes.
	WriteErrCount atomic.Uint64
}

func (m *DeviceMetrics) incFrameRecvCount() { m.FrameRecvCount.Add(1) }
func (m *DeviceMetrics) incFrameSendCount() { m.FrameSendCount.Add(1) }
func (m *DeviceMetrics) incFrameDropCount() { m.FrameDropCount.Add(1) }
func (m *DeviceMetrics) incReadErrCount()   { m.ReadErrCount.Add(1) }
func (m *DeviceMetrics) incWriteErrCount()  { m.WriteErrCount.Add(1) }
func (m *DeviceMetrics) addBytesRecv(n uint64) {
	m.BytesRecv.Add(n)
}

func (m *DeviceMetrics) addBytesSent(n uint64) {
	m.BytesSent.Add(n)
}
