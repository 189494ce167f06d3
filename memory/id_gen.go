package memory

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
)

// idGenerator hands out transaction ids for a single master.
//
// The counter starts at a random value so ids of independent masters rarely
// overlap, and skips 0, which Wait reserves for "every transaction".
type idGenerator struct {
	id atomic.Uint32
}

func newIDGenerator() *idGenerator {
	gen := &idGenerator{}
	gen.id.Store(randomUint32())

	return gen
}

func (g *idGenerator) next() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}

// randomUint32 returns a non-zero random value, or 1 when the system random
// source is unavailable.
func randomUint32() uint32 {
	var buf [4]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return 1
	}
	if v := binary.LittleEndian.Uint32(buf[:]); v != 0 {
		return v
	}

	return 1
}
