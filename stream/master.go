package stream

import (
	"sync"
	"time"

	"github.com/arloliu/go-daq/logger"
)

// Master is the sending side of stream edges.
//
// The primary slave serves frame requests and, like every secondary slave,
// receives pushed frames. Pushes go to slaves sequentially in registration
// order, so frames on one master to slave edge keep their order.
//
// Master is safe for concurrent use; producers normally embed it.
type Master struct {
	mu      sync.RWMutex
	primary Slave
	slaves  []Slave
	timeout time.Duration
	logger  logger.Logger
}

// NewMaster creates a master without slaves.
func NewMaster() *Master {
	return &Master{logger: logger.GetLogger()}
}

// SetLogger sets the master logger.
func (m *Master) SetLogger(l logger.Logger) {
	if l == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger = l
}

// SetTimeout sets the timeout passed to AcceptReq and AcceptFrame. Zero waits forever.
func (m *Master) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timeout = d
}

// Timeout returns the timeout passed to slaves.
func (m *Master) Timeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.timeout
}

// SetSlave sets the primary slave. The primary keeps its place in the push
// order; replacing it swaps the previous primary in place.
func (m *Master) SetSlave(slave Slave) {
	if slave == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.primary != nil {
		for i, s := range m.slaves {
			if s == m.primary {
				m.slaves[i] = slave
				m.primary = slave

				return
			}
		}
	}

	m.primary = slave
	m.slaves = append(m.slaves, slave)
}

// AddSlave adds a secondary slave receiving pushed frames.
func (m *Master) AddSlave(slave Slave) {
	if slave == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.slaves = append(m.slaves, slave)
}

// PrimarySlave returns the primary slave, nil when unset.
func (m *Master) PrimarySlave() Slave {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.primary
}

// SlaveCount returns the number of slaves receiving pushed frames.
func (m *Master) SlaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.slaves)
}

// ReqFrame requests a frame of at least size bytes from the primary slave.
func (m *Master) ReqFrame(size uint32, zeroCopyEn bool) (*Frame, error) {
	m.mu.RLock()
	primary, timeout := m.primary, m.timeout
	m.mu.RUnlock()

	if primary == nil {
		return nil, ErrNoPrimarySlave
	}

	frame := primary.AcceptReq(size, zeroCopyEn, timeout)
	if frame == nil {
		return nil, ErrAllocFailed
	}

	return frame, nil
}

// SendFrame pushes frame to every slave in registration order and reports
// whether all of them accepted it. A master without slaves returns false.
//
// Delivery is sequential: a slow slave delays the ones after it. A rejection
// does not stop delivery to the remaining slaves.
func (m *Master) SendFrame(frame *Frame) bool {
	if frame == nil {
		return false
	}

	m.mu.RLock()
	slaves := make([]Slave, len(m.slaves))
	copy(slaves, m.slaves)
	timeout, l := m.timeout, m.logger
	m.mu.RUnlock()

	if len(slaves) == 0 {
		return false
	}

	accepted := true
	for i, s := range slaves {
		if !s.AcceptFrame(frame, timeout) {
			accepted = false
			l.Debug("frame rejected by slave", "slave_index", i, "frame_id", frame.ID())
		}
	}

	return accepted
}
