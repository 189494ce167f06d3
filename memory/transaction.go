package memory

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TransactionType is the direction of a Transaction.
type TransactionType uint8

const (
	// Read copies from the slave into the transaction data.
	Read TransactionType = 0x1
	// Write copies the transaction data into the slave and waits for the result.
	Write TransactionType = 0x2
	// Post copies the transaction data into the slave without expecting read back.
	Post TransactionType = 0x3
	// Verify reads back data previously written.
	Verify TransactionType = 0x4
)

// String returns the transaction type name.
func (t TransactionType) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case Post:
		return "post"
	case Verify:
		return "verify"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsWrite reports whether data flows from the transaction into the slave.
func (t TransactionType) IsWrite() bool { return t == Write || t == Post }

// Valid reports whether t is a known type.
func (t TransactionType) Valid() bool { return t >= Read && t <= Verify }

const (
	statePending uint32 = iota
	stateFinishing
	stateDone
	stateError
)

// Transaction is a single register access request.
//
// A Transaction transitions exactly once from pending to either done or
// error. The first call to Done, Errorf or Fail wins, later calls are ignored.
// The data region must only be touched while holding the lock returned by Lock.
type Transaction struct {
	mu      sync.Mutex
	id      uint32
	address uint64
	size    uint32
	typ     TransactionType
	data    []byte
	timeout time.Duration
	created time.Time

	state    atomic.Uint32
	err      error
	finished chan struct{}

	parent   *Transaction
	onFinish func(*Transaction)
}

func newTransaction(id uint32, address uint64, data []byte, size uint32, typ TransactionType, timeout time.Duration) *Transaction {
	return &Transaction{
		id:       id,
		address:  address,
		size:     size,
		typ:      typ,
		data:     data,
		timeout:  timeout,
		created:  time.Now(),
		finished: make(chan struct{}),
	}
}

// NewTransaction creates a pending transaction that is not tracked by any master.
// Use Master.Issue to submit it.
func NewTransaction(address uint64, data []byte, size uint32, typ TransactionType, timeout time.Duration) *Transaction {
	return newTransaction(0, address, data, size, typ, timeout)
}

// ID returns the transaction id, assigned when the transaction is issued.
func (t *Transaction) ID() uint32 { return t.id }

// Address returns the current target address, including every hub offset applied so far.
func (t *Transaction) Address() uint64 { return t.address }

// Size returns the access size in bytes.
func (t *Transaction) Size() uint32 { return t.size }

// Type returns the transaction direction.
func (t *Transaction) Type() TransactionType { return t.typ }

// Timeout returns the transaction timeout. Zero means no timeout.
func (t *Transaction) Timeout() time.Duration { return t.timeout }

// Created returns the creation time.
func (t *Transaction) Created() time.Time { return t.created }

// Parent returns the transaction this one was split from, or nil.
func (t *Transaction) Parent() *Transaction { return t.parent }

// Finished returns a channel closed when the transaction reaches a terminal state.
func (t *Transaction) Finished() <-chan struct{} { return t.finished }

// IsDone reports whether the transaction reached a terminal state.
func (t *Transaction) IsDone() bool { return t.state.Load() != statePending }

// Expired reports whether this transaction or any transaction it was split
// from already reached a terminal state. Slaves check it after taking the lock
// and skip the access when it returns true.
func (t *Transaction) Expired() bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur.IsDone() {
			return true
		}
	}

	return false
}

// Err returns the terminal error, or nil while pending or after success.
func (t *Transaction) Err() error {
	if t.state.Load() != stateError {
		return nil
	}

	return t.err
}

// Result reports whether the transaction is terminal and its error, nil on success.
func (t *Transaction) Result() (bool, error) {
	switch t.state.Load() {
	case stateDone:
		return true, nil
	case stateError:
		return true, t.err
	default:
		return false, nil
	}
}

// Data returns the data region of the transaction. Callers must hold the transaction lock.
func (t *Transaction) Data() []byte {
	if uint32(len(t.data)) > t.size {
		return t.data[:t.size]
	}

	return t.data
}

// Lock acquires the transaction data lock.
//
// Transactions split by a hub share the lock of the transaction they were
// split from, so a parent that times out cannot be released while a child
// still copies into its data.
func (t *Transaction) Lock() *TransactionLock {
	root := t
	for root.parent != nil {
		root = root.parent
	}
	root.mu.Lock()

	return &TransactionLock{mu: &root.mu}
}

// Done marks the transaction successful. It returns false if the transaction
// was already terminal.
func (t *Transaction) Done() bool {
	return t.finish(stateDone, nil)
}

// Errorf fails the transaction with a formatted message. It returns false if
// the transaction was already terminal.
func (t *Transaction) Errorf(format string, args ...any) bool {
	return t.finish(stateError, fmt.Errorf(format, args...))
}

// Fail fails the transaction with err. It returns false if the transaction
// was already terminal.
func (t *Transaction) Fail(err error) bool {
	if err == nil {
		err = errors.New("memory: unknown error")
	}

	return t.finish(stateError, err)
}

func (t *Transaction) finish(state uint32, err error) bool {
	// err is published by the final Store, readers check the state first.
	if !t.state.CompareAndSwap(statePending, stateFinishing) {
		return false
	}
	t.err = err
	t.state.Store(state)

	close(t.finished)
	if t.onFinish != nil {
		t.onFinish(t)
	}

	return true
}

// TransactionLock guards the data region of a Transaction.
type TransactionLock struct {
	mu       *sync.Mutex
	unlocked atomic.Bool
}

// Unlock releases the lock. Calling it more than once has no effect.
func (l *TransactionLock) Unlock() {
	if l.unlocked.CompareAndSwap(false, true) {
		l.mu.Unlock()
	}
}
