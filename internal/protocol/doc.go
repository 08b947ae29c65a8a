// Package protocol encodes and decodes the fixed-size records exchanged
// with the host over the transport link.
//
// Upload command frames carry a leading command byte:
//
//	0x01 Start   size u32, crc32 u32, classes u8, NUL-terminated labels
//	0x02 Chunk   offset u32, data
//	0x03 Finish
//	0x04 Cancel
//
// Every upload command is answered with a 4-byte status record
// [state, progress, code, reserved]. All multi-byte fields are little endian.
package protocol
