package config

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-daq/hardware"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/memory"
)

// MemorySystem holds the memory slaves and hubs built from a description,
// keyed by name.
type MemorySystem struct {
	Hubs     map[string]*memory.Hub
	MemMaps  map[string]*hardware.MemMap
	Emulates map[string]*memory.Emulate
}

// Slave returns the named hub, memory map or emulated slave.
func (s *MemorySystem) Slave(name string) (memory.Slave, bool) {
	if h, ok := s.Hubs[name]; ok {
		return h, true
	}
	if m, ok := s.MemMaps[name]; ok {
		return m, true
	}
	if e, ok := s.Emulates[name]; ok {
		return e, true
	}

	return nil, false
}

// Close unmaps every memory window.
func (s *MemorySystem) Close() error {
	var errs []error
	for name, m := range s.MemMaps {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("memmap %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// BuildMemory creates the memory slaves and connects every hub to its
// downstream slave. Windows already mapped are closed when a later step fails.
func (c *Config) BuildMemory(l logger.Logger) (*MemorySystem, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	sys := &MemorySystem{
		Hubs:     make(map[string]*memory.Hub, len(c.Hubs)),
		MemMaps:  make(map[string]*hardware.MemMap, len(c.MemMaps)),
		Emulates: make(map[string]*memory.Emulate, len(c.Emulates)),
	}

	fail := func(err error) (*MemorySystem, error) {
		if cerr := sys.Close(); cerr != nil {
			l.Warn("close memory windows failed", "error", cerr)
		}
		return nil, err
	}

	for i := range c.MemMaps {
		mc := &c.MemMaps[i]
		m, err := hardware.NewMemMap(mc.Path, mc.Size, mc.Options(l)...)
		if err != nil {
			return fail(fmt.Errorf("memmap %s: %w", mc.Name, err))
		}
		sys.MemMaps[mc.Name] = m
	}

	for _, ec := range c.Emulates {
		e, err := memory.NewEmulate(ec.MinAccess, ec.MaxAccess, memory.WithLogger(l))
		if err != nil {
			return fail(fmt.Errorf("emulate %s: %w", ec.Name, err))
		}
		sys.Emulates[ec.Name] = e
	}

	for i := range c.Hubs {
		hc := &c.Hubs[i]
		h, err := memory.NewHub(hc.Offset, hc.MinAccess, hc.MaxAccess, hc.Options(l)...)
		if err != nil {
			return fail(fmt.Errorf("hub %s: %w", hc.Name, err))
		}
		sys.Hubs[hc.Name] = h
	}

	for _, hc := range c.Hubs {
		slave, _ := sys.Slave(hc.Slave)
		sys.Hubs[hc.Name].SetSlave(slave)
		l.Debug("hub connected", "hub", hc.Name, "slave", hc.Slave)
	}

	return sys, nil
}
