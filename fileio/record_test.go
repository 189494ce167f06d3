package fileio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_EncodeDecode(t *testing.T) {
	h := NewHeader(1000, 7, 0x2, 0xbeef)
	assert.Equal(t, uint32(1004), h.Size)
	assert.Equal(t, uint32(1000), h.PayloadSize())

	var buf [HeaderSize]byte
	h.Encode(buf[:])
	assert.Equal(t, []byte{0xec, 0x03, 0x00, 0x00, 0xef, 0xbe, 0x02, 0x07}, buf[:], "little endian size then flags")

	got, err := DecodeHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, h, got)

	channel, errCode, flags := got.Unpack()
	assert.Equal(t, uint8(7), channel)
	assert.Equal(t, uint8(0x2), errCode)
	assert.Equal(t, uint16(0xbeef), flags)
}

func TestHeader_DecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"short buffer", []byte{1, 2, 3}},
		{"zero size", []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{"size below flags", []byte{3, 0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHeader(tt.buf)
			assert.ErrorIs(t, err, ErrBadRecord)
		})
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		name     string
		expected Compression
		wantErr  bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"lz4", CompressionLZ4, false},
		{"zstd", CompressionZstd, false},
		{"gzip", CompressionNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCompression(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCompression)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c)
			if tt.name != "" {
				assert.Equal(t, tt.name, c.String())
			}
		})
	}
}
