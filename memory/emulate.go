package memory

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/arloliu/go-daq/logger"
)

// EmulatePageSize is the allocation unit of an Emulate slave.
const EmulatePageSize = 4096

// ErrSnapshot is returned when an Emulate snapshot cannot be encoded or decoded.
var ErrSnapshot = errors.New("memory: invalid emulate snapshot")

// encMode produces deterministic snapshots: equal memory contents always
// encode to identical bytes.
var encMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("memory: CBOR encoder initialization failed: " + err.Error())
	}
	return mode
}()

// Emulate is a terminal slave backed by sparsely allocated pages of process
// memory. Addresses that were never written read as zero.
type Emulate struct {
	*BaseSlave

	mu     sync.Mutex
	pages  map[uint64][]byte
	logger logger.Logger
}

var _ Slave = (*Emulate)(nil)

// NewEmulate creates an emulated memory space with the given access sizes.
func NewEmulate(minAccess, maxAccess uint32, opts ...Option) (*Emulate, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Emulate{
		BaseSlave: NewBaseSlave(minAccess, maxAccess, "emulate"),
		pages:     make(map[uint64][]byte),
		logger:    o.logger,
	}, nil
}

// PageCount returns the number of allocated pages.
func (e *Emulate) PageCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.pages)
}

// DoTransaction services tran against the emulated memory.
func (e *Emulate) DoTransaction(tran *Transaction) {
	lock := tran.Lock()
	defer lock.Unlock()

	if tran.Expired() {
		tran.Fail(fmt.Errorf("%w: expired before access", ErrTransactionTimeout))
		return
	}

	if err := e.CheckTransaction(tran, 0); err != nil {
		e.logger.Debug("emulate rejected transaction", "id", tran.ID(), "error", err)
		return
	}

	e.mu.Lock()
	e.access(tran.Address(), tran.Data(), tran.Type().IsWrite())
	e.mu.Unlock()

	tran.Done()
}

func (e *Emulate) access(address uint64, data []byte, write bool) {
	for len(data) > 0 {
		base := address &^ (EmulatePageSize - 1)
		off := address - base
		n := min(uint64(len(data)), EmulatePageSize-off)

		page, ok := e.pages[base]
		if write {
			if !ok {
				page = make([]byte, EmulatePageSize)
				e.pages[base] = page
			}
			copy(page[off:off+n], data[:n])
		} else if ok {
			copy(data[:n], page[off:off+n])
		} else {
			clear(data[:n])
		}

		data = data[n:]
		address += n
	}
}

type emulateSnapshot struct {
	MinAccess uint32            `cbor:"1,keyasint"`
	MaxAccess uint32            `cbor:"2,keyasint"`
	Pages     map[uint64][]byte `cbor:"3,keyasint"`
}

// Save writes a CBOR snapshot of the emulated memory to w.
func (e *Emulate) Save(w io.Writer) error {
	e.mu.Lock()
	snap := emulateSnapshot{
		MinAccess: e.DoMinAccess(),
		MaxAccess: e.DoMaxAccess(),
		Pages:     e.pages,
	}
	err := encMode.NewEncoder(w).Encode(snap)
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	return nil
}

// Load replaces the emulated memory with a snapshot read from r. Access sizes
// of the slave are kept.
func (e *Emulate) Load(r io.Reader) error {
	var snap emulateSnapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	pages := make(map[uint64][]byte, len(snap.Pages))
	for base, page := range snap.Pages {
		if base%EmulatePageSize != 0 || len(page) != EmulatePageSize {
			return fmt.Errorf("%w: bad page at 0x%x", ErrSnapshot, base)
		}
		pages[base] = page
	}

	e.mu.Lock()
	e.pages = pages
	e.mu.Unlock()

	e.logger.Debug("emulate snapshot loaded", "pages", len(pages))

	return nil
}
