package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-daq/internal/task"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/stream"
)

// Reader plays back record files, pushing one frame per record to its slaves.
//
// Frames are requested from the primary slave when one is set and from the
// reader's own pool otherwise. Opening a file whose name ends in ".1" reads
// the whole rollover set: path.1, path.2, ... until the next file is missing.
// A truncated record is pushed with error ErrorShortRead and ends playback.
type Reader struct {
	*stream.Master

	logger logger.Logger
	slave  *stream.BaseSlave
	tasks  *task.Manager

	fileMu   sync.Mutex
	basePath string
	index    uint32
	file     *os.File
	src      io.Reader
	release  func()

	active  atomic.Bool
	done    chan struct{}
	metrics ReaderMetrics
}

type readResult int

const (
	readOK readResult = iota
	readEndOfFile
	readStop
)

// NewReader creates an idle reader.
func NewReader(opts ...Option) (*Reader, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	slave, err := stream.NewBaseSlave(stream.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	master := stream.NewMaster()
	master.SetLogger(o.logger)

	done := make(chan struct{})
	close(done)

	return &Reader{
		Master: master,
		logger: o.logger,
		slave:  slave,
		tasks:  task.NewManager(context.Background(), o.logger),
		done:   done,
	}, nil
}

// Open starts reading path in the background, closing a previous file first.
func (r *Reader) Open(path string) error {
	r.Close()

	r.fileMu.Lock()
	r.basePath = path
	r.index = 0
	if strings.HasSuffix(path, ".1") {
		r.basePath = strings.TrimSuffix(path, ".1")
		r.index = 1
	}
	err := r.openFileLocked(path)
	r.fileMu.Unlock()
	if err != nil {
		return err
	}

	r.done = make(chan struct{})
	r.active.Store(true)
	done := r.done
	err = r.tasks.Run("fileReadLoop", func(ctx context.Context) {
		defer func() {
			r.closeFile()
			r.active.Store(false)
			close(done)
		}()
		r.readLoop(ctx)
	})
	if err != nil {
		r.closeFile()
		r.active.Store(false)
		close(done)

		return err
	}

	return nil
}

func (r *Reader) openFileLocked(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	src, comp, release, err := newDecompressor(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("open %s: %w", name, err)
	}

	r.file, r.src, r.release = f, src, release
	r.metrics.incFileCount()
	r.logger.Info("stream file opened for reading", "path", name, "compression", comp.String())

	return nil
}

func (r *Reader) closeFileLocked() {
	if r.file == nil {
		return
	}
	r.release()
	r.file.Close()
	r.file, r.src, r.release = nil, nil, nil
}

func (r *Reader) closeFile() {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	r.closeFileLocked()
}

// nextFile moves to the next file of a rollover set.
func (r *Reader) nextFile() bool {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	r.closeFileLocked()
	if r.index == 0 {
		return false
	}

	r.index++
	name := r.basePath + "." + strconv.FormatUint(uint64(r.index), 10)
	if err := r.openFileLocked(name); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("open next stream file failed", "path", name, "error", err)
		}
		return false
	}

	return true
}

func (r *Reader) source() io.Reader {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	return r.src
}

func (r *Reader) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		src := r.source()
		if src == nil {
			return
		}

		switch r.readRecord(src) {
		case readOK:
		case readEndOfFile:
			if ctx.Err() != nil || !r.nextFile() {
				return
			}
		case readStop:
			return
		}
	}
}

func (r *Reader) readRecord(src io.Reader) readResult {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(src, hdr[:flagsSize]); err != nil {
		return readEndOfFile
	}
	if _, err := io.ReadFull(src, hdr[flagsSize:]); err != nil {
		r.logger.Error("failed to read record flags", "error", err)
		r.metrics.incErrorCount()
		return readStop
	}

	h, err := DecodeHeader(hdr[:])
	if err != nil {
		r.logger.Error("bad record size", "size", h.Size)
		r.metrics.incErrorCount()
		return readStop
	}

	payload := h.PayloadSize()
	frame, err := r.reqFrame(payload)
	if err != nil {
		r.logger.Error("frame request failed", "size", payload, "error", err)
		r.metrics.incErrorCount()
		return readStop
	}
	defer frame.Release()

	channel, errCode, flags := h.Unpack()
	frame.SetChannel(channel)
	frame.SetError(errCode)
	frame.SetFlags(flags)

	result := readOK
	it, err := frame.StartWrite(0, payload)
	if err != nil {
		r.logger.Error("frame too small for record", "size", payload, "error", err)
		r.metrics.incErrorCount()
		return readStop
	}
	for it.Next() {
		n, err := io.ReadFull(src, it.Data())
		if err != nil {
			r.logger.Error("short read", "read", n, "requested", it.Size(), "offset", it.Total())
			_ = frame.SetPayload(it.Total() + uint32(n))
			frame.SetError(ErrorShortRead)
			r.metrics.incErrorCount()
			result = readStop
			break
		}
	}

	r.metrics.incFrameCount()
	r.SendFrame(frame)

	return result
}

func (r *Reader) reqFrame(size uint32) (*stream.Frame, error) {
	if r.PrimarySlave() == nil {
		return r.slave.AllocFrame(size, size, false, false), nil
	}

	return r.ReqFrame(size, true)
}

// IsActive reports whether the read loop is running.
func (r *Reader) IsActive() bool { return r.active.Load() }

// Close interrupts the read loop, waits for it to exit and closes the file.
func (r *Reader) Close() {
	r.tasks.Stop()

	// Closing the descriptor unblocks a read in progress. Decoders are
	// released by the loop itself once it has exited.
	r.fileMu.Lock()
	if r.file != nil {
		r.file.Close()
	}
	r.fileMu.Unlock()

	r.tasks.Wait()
	r.closeFile()
}

// CloseWait waits until every record was read, then closes the reader.
func (r *Reader) CloseWait() {
	<-r.done
	r.Close()
}

// Done returns a channel closed when the read loop exits.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Metrics returns the reader metrics.
func (r *Reader) Metrics() *ReaderMetrics { return &r.metrics }

// ReaderMetrics contains atomic metrics for a reader.
type ReaderMetrics struct {
	// FrameCount indicates the number of frames pushed.
	FrameCount atomic.Uint64
	// ErrorCount indicates the number of malformed or truncated records.
	ErrorCount atomic.Uint64
	// FileCount indicates the number of files opened.
	FileCount atomic.Uint64
}

func (m *ReaderMetrics) incFrameCount() { m.FrameCount.Add(1) }
func (m *ReaderMetrics) incErrorCount() { m.ErrorCount.Add(1) }
func (m *ReaderMetrics) incFileCount()  { m.FileCount.Add(1) }
