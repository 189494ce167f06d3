package fileio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeebo/blake3"

	"github.com/arloliu/go-daq/internal/pool"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/stream"
)

// Writer stores frames received through its channels in record files.
//
// With a max size set, files are named path.1, path.2, ... and a new file is
// started before a record would push the current one past the limit.
type Writer struct {
	mu     sync.Mutex
	logger logger.Logger
	slave  *stream.BaseSlave

	compression Compression
	bufferSize  uint32
	maxSize     uint64
	raw         bool
	dropErrors  bool

	basePath string
	index    uint32
	file     *os.File
	comp     io.WriteCloser
	buf      *bufio.Writer
	out      io.Writer
	hasher   *blake3.Hasher

	currSize   uint64
	totSize    uint64
	frameCount uint32
	notify     chan struct{}

	channels *xsync.MapOf[uint8, *Channel]
	metrics  WriterMetrics
}

// NewWriter creates a closed writer.
func NewWriter(opts ...Option) (*Writer, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	slave, err := stream.NewBaseSlave(stream.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	w := &Writer{
		logger:      o.logger,
		slave:       slave,
		compression: o.compression,
		bufferSize:  o.bufferSize,
		maxSize:     o.maxSize,
		raw:         o.raw,
		dropErrors:  o.dropErrors,
		notify:      make(chan struct{}),
		channels:    xsync.NewMapOf[uint8, *Channel](),
	}
	if o.digest {
		w.hasher = blake3.New()
	}

	return w, nil
}

// Open starts writing to path, closing any open file first. Sizes, frame
// count and digest restart from zero.
func (w *Writer) Open(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.closeFileLocked(); err != nil {
		w.logger.Warn("close previous file failed", "error", err)
	}

	w.basePath = path
	w.index = 0
	if w.maxSize > 0 {
		w.index = 1
	}
	w.currSize = 0
	w.totSize = 0
	w.frameCount = 0
	if w.hasher != nil {
		w.hasher.Reset()
	}

	return w.openFileLocked()
}

func (w *Writer) filePath() string {
	if w.index == 0 {
		return w.basePath
	}

	return w.basePath + "." + strconv.FormatUint(uint64(w.index), 10)
}

func (w *Writer) openFileLocked() error {
	name := w.filePath()

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	comp, err := newCompressor(f, w.compression)
	if err != nil {
		f.Close()
		return err
	}

	w.file = f
	w.comp = comp
	w.buf = nil
	w.out = comp
	if w.bufferSize > 0 {
		w.buf = bufio.NewWriterSize(comp, int(w.bufferSize))
		w.out = w.buf
	}
	w.currSize = 0
	w.metrics.incFileCount()

	w.logger.Info("stream file opened", "path", name, "compression", w.compression.String())

	return nil
}

func (w *Writer) closeFileLocked() error {
	if w.file == nil {
		return nil
	}

	var firstErr error
	if w.buf != nil {
		if err := w.buf.Flush(); err != nil {
			firstErr = fmt.Errorf("flush: %w", err)
		}
	}
	if err := w.comp.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close compressor: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close file: %w", err)
	}

	w.logger.Info("stream file closed", "path", w.file.Name(), "size", w.currSize)
	w.file, w.comp, w.buf, w.out = nil, nil, nil, nil

	return firstErr
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.closeFileLocked()
}

// IsOpen reports whether a file is open.
func (w *Writer) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file != nil
}

// SetRaw selects writing payloads without record headers.
func (w *Writer) SetRaw(raw bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.raw = raw
}

// Raw reports whether payloads are written without record headers.
func (w *Writer) Raw() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.raw
}

// SetBufferSize sets the write buffer size, 0 disables buffering. Pending
// data of an open file is flushed first.
func (w *Writer) SetBufferSize(size uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.bufferSize = size
	if w.file == nil {
		return nil
	}

	if w.buf != nil {
		if err := w.buf.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	w.buf = nil
	w.out = w.comp
	if size > 0 {
		w.buf = bufio.NewWriterSize(w.comp, int(size))
		w.out = w.buf
	}

	return nil
}

// SetMaxSize sets the rollover size, 0 for unlimited. File numbering is
// chosen at Open.
func (w *Writer) SetMaxSize(size uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.maxSize = size
}

// SetDropErrors selects discarding frames that carry an error code.
func (w *Writer) SetDropErrors(drop bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.dropErrors = drop
}

// Channel returns the slave writing frames under channel id, creating it on
// first use.
func (w *Writer) Channel(id uint8) *Channel {
	ch, _ := w.channels.LoadOrCompute(id, func() *Channel {
		return &Channel{BaseSlave: w.slave, writer: w, id: id}
	})

	return ch
}

// TotalSize returns the bytes written since Open across every file.
func (w *Writer) TotalSize() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.totSize
}

// CurrentSize returns the bytes written to the current file.
func (w *Writer) CurrentSize() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.currSize
}

// FrameCount returns the frames written since Open.
func (w *Writer) FrameCount() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.frameCount
}

// CurrentPath returns the name of the current file, empty when closed.
func (w *Writer) CurrentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return w.file.Name()
}

// Digest returns the blake3 digest of every byte written since Open, before
// compression. It returns nil unless the writer was created WithDigest.
func (w *Writer) Digest() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hasher == nil {
		return nil
	}

	return w.hasher.Sum(nil)
}

// Metrics returns the writer metrics.
func (w *Writer) Metrics() *WriterMetrics { return &w.metrics }

// WaitFrameCount blocks until count frames were written since Open or
// timeout elapses, 0 waits forever. It reports whether the count was reached.
func (w *Writer) WaitFrameCount(count uint32, timeout time.Duration) bool {
	t := pool.NewTimeout(timeout)
	defer t.Release()

	for {
		w.mu.Lock()
		reached := w.frameCount >= count
		notify := w.notify
		w.mu.Unlock()

		if reached {
			return true
		}

		select {
		case <-notify:
		case <-t.C():
			return false
		}
	}
}

func (w *Writer) write(p []byte) error {
	if w.hasher != nil {
		_, _ = w.hasher.Write(p)
	}
	_, err := w.out.Write(p)

	return err
}

func (w *Writer) writeFrame(channel uint8, frame *stream.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrNotOpen
	}
	if w.dropErrors && frame.Error() != 0 {
		w.metrics.incFrameDropCount()
		return nil
	}

	payload := frame.Payload()
	size := uint64(payload)
	if !w.raw {
		size += HeaderSize
	}

	if err := w.checkSizeLocked(size); err != nil {
		return err
	}

	if !w.raw {
		var hdr [HeaderSize]byte
		NewHeader(payload, channel, frame.Error(), frame.Flags()).Encode(hdr[:])
		if err := w.write(hdr[:]); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	it, err := frame.StartRead(0, payload)
	if err != nil {
		return err
	}
	for it.Next() {
		if err := w.write(it.Data()); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}

	w.currSize += size
	w.totSize += size
	w.frameCount++
	w.metrics.incFrameWriteCount()
	w.metrics.addBytesWritten(size)

	close(w.notify)
	w.notify = make(chan struct{})

	return nil
}

func (w *Writer) checkSizeLocked(size uint64) error {
	if w.maxSize == 0 {
		return nil
	}
	if size > w.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, w.maxSize)
	}
	if w.currSize+size <= w.maxSize {
		return nil
	}

	if err := w.closeFileLocked(); err != nil {
		w.logger.Warn("close rolled file failed", "error", err)
	}
	w.index++

	return w.openFileLocked()
}

// Channel is a stream slave writing accepted frames under its channel id.
// Frame requests are served by the writer's pool.
type Channel struct {
	*stream.BaseSlave
	writer *Writer
	id     uint8
}

var _ stream.Slave = (*Channel)(nil)

// ID returns the channel id.
func (c *Channel) ID() uint8 { return c.id }

// AcceptFrame writes frame. It returns false when the writer is closed or the
// write fails.
func (c *Channel) AcceptFrame(frame *stream.Frame, _ time.Duration) bool {
	if frame == nil {
		return false
	}

	if err := c.writer.writeFrame(c.id, frame); err != nil {
		c.writer.metrics.incWriteErrCount()
		c.writer.logger.Warn("stream file write failed", "channel", c.id, "error", err)
		return false
	}

	return true
}

// WriterMetrics contains atomic metrics for a writer.
type WriterMetrics struct {
	// FrameWriteCount indicates the number of frames written.
	FrameWriteCount atomic.Uint64
	// FrameDropCount indicates the number of frames dropped for carrying an error.
	FrameDropCount atomic.Uint64
	// WriteErrCount indicates the number of failed frame writes.
	WriteErrCount atomic.Uint64
	// BytesWritten indicates the number of bytes written before compression.
	BytesWritten atomic.Uint64
	// FileCount indicates the number of files opened.
	FileCount atomic.Uint64
}

func (m *WriterMetrics) incFrameWriteCount() { m.FrameWriteCount.Add(1) }
func (m *WriterMetrics) incFrameDropCount()  { m.FrameDropCount.Add(1) }
func (m *WriterMetrics) incWriteErrCount()   { m.WriteErrCount.Add(1) }
func (m *WriterMetrics) incFileCount()       { m.FileCount.Add(1) }
func (m *WriterMetrics) addBytesWritten(n uint64) {
	m.BytesWritten.Add(n)
}
