package fileio

import (
	"encoding/binary"
	"fmt"

	"github.com/arloliu/go-daq/stream"
)

// HeaderSize is the size of a record header in bytes.
const HeaderSize = 8

// flagsSize is the part of the size field taken by the flags word.
const flagsSize = 4

// ErrorShortRead is the frame error code set on a frame whose payload was cut
// short by the end of the file.
const ErrorShortRead uint8 = 0x1

// Header is a decoded record header.
type Header struct {
	// Size is the payload size plus the size of the flags word.
	Size uint32
	// Flags is the packed channel, error and flags word.
	Flags uint32
}

// NewHeader returns the header of a record carrying payload bytes.
func NewHeader(payload uint32, channel, errCode uint8, flags uint16) Header {
	return Header{Size: payload + flagsSize, Flags: stream.PackFlags(channel, errCode, flags)}
}

// PayloadSize returns the number of payload bytes following the header.
func (h Header) PayloadSize() uint32 { return h.Size - flagsSize }

// Unpack splits the flags word.
func (h Header) Unpack() (channel, errCode uint8, flags uint16) {
	return stream.UnpackFlags(h.Flags)
}

// Encode writes the header into buf, which must hold HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Size)
	binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
}

// DecodeHeader parses a header. A size smaller than the flags word is rejected.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header of %d bytes", ErrBadRecord, len(buf))
	}

	h := Header{
		Size:  binary.LittleEndian.Uint32(buf[0:4]),
		Flags: binary.LittleEndian.Uint32(buf[4:8]),
	}
	if h.Size < flagsSize {
		return h, fmt.Errorf("%w: size %d", ErrBadRecord, h.Size)
	}

	return h, nil
}
