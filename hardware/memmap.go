package hardware

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/memory"
)

// memMapAccess is the register width of a mapped window.
const memMapAccess = 4

// MemMap is a terminal memory slave over a memory mapped window of a device
// or file. Transaction addresses are offsets into the window.
//
// Every word is moved with a single 32-bit load or store, so register side
// effects match the access the caller asked for.
type MemMap struct {
	*memory.BaseSlave

	mu     sync.RWMutex
	fd     int
	data   []byte
	size   uint64
	logger logger.Logger
}

var _ memory.Slave = (*MemMap)(nil)

// NewMemMap maps size bytes of path. Failures are wrapped with ErrOpen.
func NewMemMap(path string, size uint64, opts ...Option) (*MemMap, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if size == 0 || size%memMapAccess != 0 {
		return nil, fmt.Errorf("%w: %w: window size %d", ErrOpen, ErrInvalidSize, size)
	}

	flags := unix.O_RDWR | unix.O_SYNC | unix.O_CLOEXEC
	if o.create {
		flags |= unix.O_CREAT
	}

	fd, err := unix.Open(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrOpen, path, err)
	}

	if o.create {
		var stat unix.Stat_t
		if err := unix.Fstat(fd, &stat); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("%w: stat %s: %w", ErrOpen, path, err)
		}
		end := o.mapOffset + int64(size)
		if stat.Size < end {
			if err := unix.Ftruncate(fd, end); err != nil {
				unix.Close(fd)
				return nil, fmt.Errorf("%w: truncate %s: %w", ErrOpen, path, err)
			}
		}
	}

	data, err := unix.Mmap(fd, o.mapOffset, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: mmap %s: %w", ErrOpen, path, err)
	}

	o.logger.Info("memory map opened", "path", path, "size", size, "offset", o.mapOffset)

	return &MemMap{
		BaseSlave: memory.NewBaseSlave(memMapAccess, 0xFFFFFFFF, "memmap:"+path),
		fd:        fd,
		data:      data,
		size:      size,
		logger:    o.logger,
	}, nil
}

// Size returns the window size in bytes.
func (m *MemMap) Size() uint64 { return m.size }

// DoTransaction copies between the transaction data and the window.
func (m *MemMap) DoTransaction(tran *memory.Transaction) {
	lock := tran.Lock()
	defer lock.Unlock()

	if tran.Expired() {
		tran.Fail(fmt.Errorf("%w: expired before access", memory.ErrTransactionTimeout))
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		tran.Fail(ErrClosed)
		return
	}

	if err := m.CheckTransaction(tran, m.size); err != nil {
		m.logger.Debug("memory map rejected transaction", "id", tran.ID(), "error", err)
		return
	}

	buf := tran.Data()
	base := tran.Address()
	for off := 0; off < len(buf); off += memMapAccess {
		reg := (*uint32)(unsafe.Pointer(&m.data[base+uint64(off)]))
		if tran.Type().IsWrite() {
			atomic.StoreUint32(reg, binary.NativeEndian.Uint32(buf[off:]))
		} else {
			binary.NativeEndian.PutUint32(buf[off:], atomic.LoadUint32(reg))
		}
	}

	tran.Done()
}

// Close unmaps the window and closes the descriptor. Transactions arriving
// later fail with ErrClosed.
func (m *MemMap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return nil
	}

	var firstErr error
	if err := unix.Munmap(m.data); err != nil {
		firstErr = fmt.Errorf("munmap: %w", err)
	}
	if err := unix.Close(m.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close: %w", err)
	}
	m.data = nil
	m.logger.Info("memory map closed", "name", m.DoSlaveName())

	return firstErr
}
