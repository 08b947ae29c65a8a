package model

import "errors"

// Error taxonomy shared by the store, the engine and the controller.
// Callers match with errors.Is; the wrapped message carries the detail.
var (
	// ErrFormat covers malformed or truncated payloads and models failing
	// their structural checks.
	ErrFormat = errors.New("format error")
	// ErrSize is returned when a declared model size exceeds MaxModelSize.
	ErrSize = errors.New("size error")
	// ErrCRC is returned when a fully received model fails its CRC-32.
	ErrCRC = errors.New("crc error")
	// ErrStorage is returned when the persistence backend rejects a model.
	ErrStorage = errors.New("storage error")
)
