package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-daq/internal/pool"
	"github.com/arloliu/go-daq/logger"
)

// Master issues Transactions to a downstream Slave and tracks them until they
// are reaped by Wait.
type Master struct {
	mu      sync.RWMutex
	slave   Slave
	lastErr string

	logger  logger.Logger
	timeout time.Duration
	ids     *idGenerator
	pending *xsync.MapOf[uint32, *Transaction]
	metrics MasterMetrics
}

// NewMaster creates a master without a slave.
func NewMaster(opts ...Option) (*Master, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return newMaster(o), nil
}

func newMaster(o *options) *Master {
	return &Master{
		logger:  o.logger,
		timeout: o.timeout,
		ids:     newIDGenerator(),
		pending: xsync.NewMapOf[uint32, *Transaction](),
	}
}

// SetSlave attaches the downstream slave.
func (m *Master) SetSlave(slave Slave) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slave = slave
}

// Slave returns the downstream slave, or nil.
func (m *Master) Slave() Slave {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.slave
}

// Timeout returns the timeout given to transactions created by ReqTransaction.
func (m *Master) Timeout() time.Duration { return m.timeout }

// Metrics returns the master metrics.
func (m *Master) Metrics() *MasterMetrics { return &m.metrics }

// ReqMinAccess returns the access granularity of the downstream slave, 0 without a slave.
func (m *Master) ReqMinAccess() uint32 {
	if s := m.Slave(); s != nil {
		return s.DoMinAccess()
	}

	return 0
}

// ReqMaxAccess returns the largest access of the downstream slave, 0 without a slave.
func (m *Master) ReqMaxAccess() uint32 {
	if s := m.Slave(); s != nil {
		return s.DoMaxAccess()
	}

	return 0
}

// ReqAddress returns the base address of the downstream slave.
func (m *Master) ReqAddress() uint64 {
	if s := m.Slave(); s != nil {
		return s.DoAddress()
	}

	return 0
}

// ReqSlaveID returns the id of the downstream slave, 0 without a slave.
func (m *Master) ReqSlaveID() uint32 {
	if s := m.Slave(); s != nil {
		return s.DoSlaveID()
	}

	return 0
}

// ReqSlaveName returns the name of the downstream slave.
func (m *Master) ReqSlaveName() string {
	if s := m.Slave(); s != nil {
		return s.DoSlaveName()
	}

	return ""
}

// ReqTransaction creates a transaction over data[:size], issues it and
// returns its id for Wait. A nil data slice is allocated for reads.
func (m *Master) ReqTransaction(address uint64, data []byte, size uint32, typ TransactionType) uint32 {
	if data == nil && !typ.IsWrite() {
		data = make([]byte, size)
	}
	tran := newTransaction(0, address, data, size, typ, m.timeout)

	return m.Issue(tran)
}

// Issue assigns tran an id, tracks it and forwards it to the slave.
// The transaction is failed immediately when no slave is attached.
func (m *Master) Issue(tran *Transaction) uint32 {
	tran.id = m.ids.next()
	m.pending.Store(tran.id, tran)
	m.metrics.incIssueCount()

	slave := m.Slave()
	if slave == nil {
		tran.Fail(ErrNoSlave)
		return tran.id
	}

	m.logger.Debug("issue transaction", "id", tran.id, "type", tran.typ.String(),
		"address", fmt.Sprintf("0x%x", tran.address), "size", tran.size)
	slave.DoTransaction(tran)

	return tran.id
}

// Wait blocks until the transaction id is terminal or timeout elapses, and
// stops tracking it. Id 0 waits for every tracked transaction and returns the
// first error. A zero timeout uses the timeout of each transaction.
//
// A transaction that times out is failed with ErrTransactionTimeout.
func (m *Master) Wait(id uint32, timeout time.Duration) error {
	if id != 0 {
		tran, ok := m.pending.Load(id)
		if !ok {
			return fmt.Errorf("%w: id %d", ErrTransactionNotFound, id)
		}

		return m.wait(tran, timeout)
	}

	var ids []uint32
	m.pending.Range(func(key uint32, _ *Transaction) bool {
		ids = append(ids, key)
		return true
	})

	var firstErr error
	for _, key := range ids {
		tran, ok := m.pending.Load(key)
		if !ok {
			continue
		}
		if err := m.wait(tran, timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (m *Master) wait(tran *Transaction, timeout time.Duration) error {
	defer m.pending.Delete(tran.id)

	if timeout == 0 {
		timeout = tran.timeout
	}

	t := pool.NewTimeout(timeout)
	defer t.Release()

	select {
	case <-tran.Finished():
	case <-t.C():
		// Taking the lock waits out any copy in progress.
		lock := tran.Lock()
		if tran.Fail(fmt.Errorf("%w: id %d after %s", ErrTransactionTimeout, tran.id, timeout)) {
			m.metrics.incTimeoutCount()
		}
		lock.Unlock()
	}

	<-tran.Finished()

	err := tran.Err()
	if err != nil {
		m.metrics.incErrorCount()
		m.setError(err)
		if errors.Is(err, ErrTransactionTimeout) {
			m.logger.Warn("transaction timeout", "id", tran.id, "address", fmt.Sprintf("0x%x", tran.address))
		} else {
			m.logger.Debug("transaction failed", "id", tran.id, "error", err)
		}
	}

	return err
}

// PendingCount returns the number of tracked transactions.
func (m *Master) PendingCount() int { return m.pending.Size() }

// Error returns the message of the most recent failed transaction.
func (m *Master) Error() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastErr
}

// ClearError resets the message returned by Error.
func (m *Master) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErr = ""
}

func (m *Master) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErr = err.Error()
}

// MasterMetrics contains atomic metrics for a master.
type MasterMetrics struct {
	// IssueCount indicates the number of issued transactions.
	IssueCount atomic.Uint64
	// ErrorCount indicates the number of transactions that completed with an error.
	ErrorCount atomic.Uint64
	// TimeoutCount indicates the number of transactions failed by Wait on timeout.
	TimeoutCount atomic.Uint64
}

func (m *MasterMetrics) incIssueCount() {
	m.IssueCount.Add(1)
}

func (m *MasterMetrics) incErrorCount() {
	m.ErrorCount.Add(1)
}

func (m *MasterMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}
