// Package hardware contains the interconnect nodes that talk to the operating
// system: MemMap, a memory slave over an mmap'd register window, and Device, a
// stream master and slave over a file descriptor.
package hardware
