// Package stream implements the data plane of the interconnect: Buffers,
// Frames, and the Master/Slave frame request and push protocol.
//
// # Roles
//
// A Master requests frames from its primary Slave (ReqFrame) and pushes
// completed frames to the primary plus any secondary slaves (SendFrame). A
// Slave allocates frames on request (AcceptReq) and consumes pushed frames
// (AcceptFrame). Nodes that both produce and consume embed a Master and a
// BaseSlave.
//
//	producer (Master) --ReqFrame--> primary (Slave, owns the memory)
//	producer (Master) --SendFrame--> primary, secondary1, secondary2 ...
//
// # Memory ownership
//
// Buffer memory belongs to the Pool that allocated it. Frames are reference
// counted handles; when the last reference is released the buffers go back to
// their pool, which frees or recycles the memory and updates its outstanding
// AllocCount and AllocBytes. Zero-copy buffers (MetaZeroCopy) wrap memory owned
// elsewhere and are only counted.
//
// # Frame layout
//
// A frame presents its buffers as one byte stream through ReadAt/WriteAt,
// Reader/Writer and the segment Iterator. Frame metadata packs into one word
// for the stream file format:
//
//	bits 31-24 channel | bits 23-16 error | bits 15-0 flags
package stream
