// Package fileio stores streams of frames in files and plays them back.
//
// Every record is a little endian header followed by the frame payload:
//
//	[size:u32][flags:u32][payload:size-4 bytes]
//
// The flags word carries the channel id in bits 31..24, the frame error code
// in bits 23..16 and the frame flags in bits 15..0. A Writer receives frames
// through per-channel slaves and a Reader pushes recorded frames to its slaves
// from a background loop.
//
// Files may be compressed as a whole with lz4 or zstd. Readers detect the
// compression from the file magic, so compressed and plain files of one
// rollover set can be mixed.
package fileio
