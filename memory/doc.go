// Package memory implements the register access plane of the interconnect.
//
// A Master issues Transactions against an address space and waits for them to
// complete. A Slave services Transactions, declaring the access sizes it
// supports. A Hub is both: it ORs a fixed offset into the address of every
// Transaction passing through it and splits oversize Transactions into
// fixed-size children before forwarding them downstream.
//
// Errors never cross a component boundary as return values. They are carried
// inside the Transaction and observed by the issuing Master through Wait.
package memory
