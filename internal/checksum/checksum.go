// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package checksum implements the two integrity checks used on the wire:
// CRC-8/MAXIM for sensor packets and link frames, CRC-32 for model blobs.
package checksum

import "hash/crc32"

// CRC-8/MAXIM parameters (reflected form of 0x31).
const (
	CRC8Polynomial = 0x8C
	CRC8Seed       = 0x00

	// PacketCoverage is the number of leading sensor packet bytes covered by the trailer.
	PacketCoverage = 16
)

// CRC8 computes CRC-8/MAXIM over data, one bit at a time, LSB first.
func CRC8(data []byte) byte {
	crc := byte(CRC8Seed)
	for _, b := range data {
		for i := 0; i < 8; i++ {
			mix := (crc ^ b) & 0x01
			crc >>= 1
			if mix != 0 {
				crc ^= CRC8Polynomial
			}
			b >>= 1
		}
	}
	return crc
}

// CRC8Packet computes the trailer of a sensor packet. Only the first
// PacketCoverage bytes are covered; shorter input is checksummed as is.
func CRC8Packet(pkt []byte) byte {
	if len(pkt) > PacketCoverage {
		pkt = pkt[:PacketCoverage]
	}
	return CRC8(pkt)
}

// CRC32 computes the standard (IEEE 802.3) CRC-32 of data.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
