package memory

import "fmt"

// Slave services Transactions.
//
// DoTransaction must eventually drive the transaction to a terminal state,
// either before returning or asynchronously.
type Slave interface {
	DoTransaction(tran *Transaction)
	DoMinAccess() uint32
	DoMaxAccess() uint32
	DoAddress() uint64
	DoSlaveID() uint32
	DoSlaveName() string
}

// BaseSlave provides the identity and access sizes of a slave. Terminal slaves
// embed it and override DoTransaction.
type BaseSlave struct {
	id        uint32
	name      string
	minAccess uint32
	maxAccess uint32
}

var _ Slave = (*BaseSlave)(nil)

// NewBaseSlave creates a slave with the given access sizes. A zero min access
// is treated as 1 and a zero max access means no upper bound.
func NewBaseSlave(minAccess, maxAccess uint32, name string) *BaseSlave {
	if minAccess == 0 {
		minAccess = 1
	}
	id := randomUint32()
	if name == "" {
		name = fmt.Sprintf("slave-%08x", id)
	}

	return &BaseSlave{id: id, name: name, minAccess: minAccess, maxAccess: maxAccess}
}

// DoTransaction fails the transaction, BaseSlave services nothing.
func (s *BaseSlave) DoTransaction(tran *Transaction) {
	tran.Errorf("%w: slave %s", ErrUnsupported, s.name)
}

// DoMinAccess returns the access granularity in bytes.
func (s *BaseSlave) DoMinAccess() uint32 { return s.minAccess }

// DoMaxAccess returns the largest access in bytes, 0 for unbounded.
func (s *BaseSlave) DoMaxAccess() uint32 { return s.maxAccess }

// DoAddress returns 0, terminal slaves add no offset.
func (s *BaseSlave) DoAddress() uint64 { return 0 }

// DoSlaveID returns the slave id.
func (s *BaseSlave) DoSlaveID() uint32 { return s.id }

// DoSlaveName returns the slave name.
func (s *BaseSlave) DoSlaveName() string { return s.name }

// CheckTransaction validates tran against the slave access sizes and an
// address window of windowSize bytes, 0 for unbounded. On violation the
// transaction is failed with a descriptive error, which is also returned.
func (s *BaseSlave) CheckTransaction(tran *Transaction, windowSize uint64) error {
	var err error

	switch {
	case !tran.Type().Valid():
		err = fmt.Errorf("%w: %s", ErrInvalidType, tran.Type())
	case tran.Size() == 0 || tran.Size()%s.minAccess != 0:
		err = fmt.Errorf("%w: size %d is not a multiple of %d", ErrAccessSize, tran.Size(), s.minAccess)
	case s.maxAccess != 0 && tran.Size() > s.maxAccess:
		err = fmt.Errorf("%w: size %d exceeds max access %d", ErrAccessSize, tran.Size(), s.maxAccess)
	case tran.Address()%uint64(s.minAccess) != 0:
		err = fmt.Errorf("%w: address 0x%x is not aligned to %d", ErrAccessSize, tran.Address(), s.minAccess)
	case windowSize != 0 && (tran.Address() >= windowSize || uint64(tran.Size()) > windowSize-tran.Address()):
		err = fmt.Errorf("%w: address 0x%x size %d exceeds window 0x%x", ErrAddressRange, tran.Address(), tran.Size(), windowSize)
	case uint32(len(tran.data)) < tran.Size():
		err = fmt.Errorf("%w: have %d bytes, need %d", ErrDataSize, len(tran.data), tran.Size())
	}

	if err != nil {
		tran.Fail(err)
	}

	return err
}
