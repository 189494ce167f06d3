package memory

import "errors"

var (
	// ErrTransactionTimeout is recorded on a Transaction that did not complete within its timeout.
	ErrTransactionTimeout = errors.New("memory: transaction timeout")
	// ErrTransactionNotFound is returned when waiting on an id that is not tracked by the master.
	ErrTransactionNotFound = errors.New("memory: transaction not found")
	// ErrNoSlave is recorded when a transaction is issued by a master without a slave.
	ErrNoSlave = errors.New("memory: no slave attached")
	// ErrUnsupported is recorded by slaves that do not service transactions.
	ErrUnsupported = errors.New("memory: transaction not supported")
	// ErrAccessSize is recorded when a transaction size violates the slave access sizes.
	ErrAccessSize = errors.New("memory: invalid access size")
	// ErrAddressRange is recorded when a transaction falls outside the slave address window.
	ErrAddressRange = errors.New("memory: address out of range")
	// ErrDataSize is recorded when the transaction data is shorter than its size.
	ErrDataSize = errors.New("memory: data buffer too small")
	// ErrInvalidType is recorded for an unknown transaction type.
	ErrInvalidType = errors.New("memory: invalid transaction type")
	// ErrInvalidSplit is returned by WithSplit for a zero limit or stride.
	ErrInvalidSplit = errors.New("memory: invalid split limit or stride")
	// ErrInvalidTimeout is returned by WithTimeout for a negative duration.
	ErrInvalidTimeout = errors.New("memory: invalid timeout")
)
