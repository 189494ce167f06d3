package hardware

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/memory"
)

func discardLogger() logger.Logger {
	return logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false)
}

func newTestMemMap(t *testing.T, size uint64) (*MemMap, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "regs.bin")
	m, err := NewMemMap(path, size, WithCreate(), WithLogger(discardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m, path
}

func TestMemMap_OpenMissingFile(t *testing.T) {
	_, err := NewMemMap(filepath.Join(t.TempDir(), "missing"), 4096, WithLogger(discardLogger()))
	assert.ErrorIs(t, err, ErrOpen)
}

func TestMemMap_InvalidSize(t *testing.T) {
	_, err := NewMemMap(filepath.Join(t.TempDir(), "regs"), 6, WithCreate())
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestMemMap_WriteReadThroughMaster(t *testing.T) {
	mm, path := newTestMemMap(t, 4096)

	master, err := memory.NewMaster(memory.WithLogger(discardLogger()))
	require.NoError(t, err)
	master.SetSlave(mm)
	assert.Equal(t, uint32(4), master.ReqMinAccess())

	data := make([]byte, 8)
	binary.NativeEndian.PutUint32(data[0:], 0xcafef00d)
	binary.NativeEndian.PutUint32(data[4:], 0x12345678)

	id := master.ReqTransaction(0x40, data, 8, memory.Write)
	require.NoError(t, master.Wait(id, 0))

	out := make([]byte, 8)
	id = master.ReqTransaction(0x40, out, 8, memory.Read)
	require.NoError(t, master.Wait(id, 0))
	assert.Equal(t, data, out)

	// MAP_SHARED writes reach the backing file
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, raw[0x40:0x48])
}

func TestMemMap_Violations(t *testing.T) {
	tests := []struct {
		name    string
		address uint64
		size    uint32
		err     error
	}{
		{"misaligned size", 0x0, 6, memory.ErrAccessSize},
		{"misaligned address", 0x2, 4, memory.ErrAccessSize},
		{"past window", 0xFFC, 8, memory.ErrAddressRange},
		{"outside window", 0x1000, 4, memory.ErrAddressRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm, path := newTestMemMap(t, 4096)

			data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
			tran := memory.NewTransaction(tt.address, data, tt.size, memory.Write, 0)
			mm.DoTransaction(tran)
			assert.ErrorIs(t, tran.Err(), tt.err)

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, 4096), raw, "window untouched")
		})
	}
}

func TestMemMap_Close(t *testing.T) {
	mm, _ := newTestMemMap(t, 4096)

	require.NoError(t, mm.Close())
	require.NoError(t, mm.Close())

	tran := memory.NewTransaction(0, make([]byte, 4), 4, memory.Read, 0)
	mm.DoTransaction(tran)
	assert.ErrorIs(t, tran.Err(), ErrClosed)
}
