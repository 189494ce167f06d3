package memory

import (
	"fmt"
	"sync/atomic"
)

// Hub is a Slave towards upstream masters and a Master towards its downstream
// slave. It ORs its offset into the address of every transaction it forwards
// and splits transactions larger than its limit.
//
// A hub created with non-zero min and max access is a root hub: it answers
// identity and access queries itself. Other hubs forward the queries
// downstream.
type Hub struct {
	*Master

	id        uint32
	name      string
	offset    uint64
	minAccess uint32
	maxAccess uint32

	split  bool
	limit  uint32
	stride uint64
}

var _ Slave = (*Hub)(nil)

// NewHub creates a hub adding offset to forwarded addresses.
func NewHub(offset uint64, minAccess, maxAccess uint32, opts ...Option) (*Hub, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	id := randomUint32()

	return &Hub{
		Master:    newMaster(o),
		id:        id,
		name:      fmt.Sprintf("hub-%08x", id),
		offset:    offset,
		minAccess: minAccess,
		maxAccess: maxAccess,
		split:     o.split,
		limit:     o.limit,
		stride:    o.stride,
	}, nil
}

// IsRoot reports whether the hub answers identity and access queries itself.
func (h *Hub) IsRoot() bool { return h.minAccess != 0 && h.maxAccess != 0 }

// Offset returns the offset ORed into forwarded addresses.
func (h *Hub) Offset() uint64 { return h.offset }

// Address returns the downstream base address combined with the hub offset.
func (h *Hub) Address() uint64 { return h.ReqAddress() | h.offset }

// DoAddress returns 0 for a root hub, otherwise Address.
func (h *Hub) DoAddress() uint64 {
	if h.IsRoot() {
		return 0
	}

	return h.Address()
}

// DoMinAccess returns the access granularity.
func (h *Hub) DoMinAccess() uint32 {
	if h.IsRoot() {
		return h.minAccess
	}

	return h.ReqMinAccess()
}

// DoMaxAccess returns the largest access.
func (h *Hub) DoMaxAccess() uint32 {
	if h.IsRoot() {
		return h.maxAccess
	}

	return h.ReqMaxAccess()
}

// DoSlaveID returns the slave id.
func (h *Hub) DoSlaveID() uint32 {
	if h.IsRoot() {
		return h.id
	}

	return h.ReqSlaveID()
}

// DoSlaveName returns the slave name.
func (h *Hub) DoSlaveName() string {
	if h.IsRoot() {
		return h.name
	}

	return h.ReqSlaveName()
}

// DoTransaction applies the hub offset and forwards tran downstream, split
// into children when it is larger than the split limit.
//
// Children are forwarded in address order and may complete in any order. The
// parent completes once every child is terminal; the first child error in
// completion order fails it.
func (h *Hub) DoTransaction(tran *Transaction) {
	tran.address |= h.offset

	slave := h.Slave()
	if slave == nil {
		tran.Fail(ErrNoSlave)
		return
	}

	if !h.split || tran.size <= h.limit {
		slave.DoTransaction(tran)
		return
	}

	for _, child := range h.splitTransaction(tran) {
		slave.DoTransaction(child)
	}
}

func (h *Hub) splitTransaction(tran *Transaction) []*Transaction {
	count := (tran.size + h.limit - 1) / h.limit
	group := &splitGroup{hub: h, parent: tran}
	group.remaining.Store(int32(count))

	children := make([]*Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		off := i * h.limit
		size := min(h.limit, tran.size-off)

		var data []byte
		if n := uint32(len(tran.data)); n > off {
			data = tran.data[off:min(n, off+size)]
		}

		child := newTransaction(tran.id, tran.address+uint64(i)*h.stride, data, size, tran.typ, tran.timeout)
		child.parent = tran
		child.onFinish = group.childFinished
		children = append(children, child)
	}

	h.logger.Debug("split transaction", "id", tran.id, "size", tran.size, "children", count)

	return children
}

type splitGroup struct {
	hub       *Hub
	parent    *Transaction
	remaining atomic.Int32
	firstErr  atomic.Pointer[error]
}

func (g *splitGroup) childFinished(child *Transaction) {
	if err := child.Err(); err != nil && !g.firstErr.CompareAndSwap(nil, &err) {
		g.hub.logger.Debug("split child failed", "id", child.id,
			"address", fmt.Sprintf("0x%x", child.address), "error", err)
	}

	if g.remaining.Add(-1) != 0 {
		return
	}

	if errp := g.firstErr.Load(); errp != nil {
		g.parent.Fail(*errp)
	} else {
		g.parent.Done()
	}
}
