package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/relabs-tech/gesture_node/internal/model"
)

// imageMagic marks a flash image file ("SNMS" little endian).
const imageMagic uint32 = 0x534D4E53

// imageHeaderSize is magic, size, classes, crc and the label table.
const imageHeaderSize = 16 + model.MaxClasses*model.LabelLen

// FileBackend stores the model as a flash-style image file:
//
//	magic u32, size u32, numClasses u32, crc32 u32,
//	labels [MaxClasses][LabelLen]byte, data[size]
//
// Saves go to a temporary file that is renamed over the image.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Init creates the parent directory of the image.
func (b *FileBackend) Init() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("flash image dir: %w", err)
	}
	return nil
}

func (b *FileBackend) Load() (Record, bool, error) {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read flash image: %w", err)
	}
	if len(raw) < imageHeaderSize {
		return Record{}, false, fmt.Errorf("flash image %s truncated (%d bytes)", b.path, len(raw))
	}
	if magic := binary.LittleEndian.Uint32(raw[0:]); magic != imageMagic {
		return Record{}, false, fmt.Errorf("flash image %s has bad magic 0x%08X", b.path, magic)
	}
	size := binary.LittleEndian.Uint32(raw[4:])
	classes := binary.LittleEndian.Uint32(raw[8:])
	crc := binary.LittleEndian.Uint32(raw[12:])
	if uint64(len(raw)-imageHeaderSize) < uint64(size) {
		return Record{}, false, fmt.Errorf("flash image %s holds %d of %d data bytes", b.path, len(raw)-imageHeaderSize, size)
	}
	if classes > model.MaxClasses {
		classes = model.MaxClasses
	}
	labels := make([]string, classes)
	for i := range labels {
		off := 16 + i*model.LabelLen
		labels[i] = cString(raw[off : off+model.LabelLen])
	}
	data := raw[imageHeaderSize : imageHeaderSize+int(size)]
	return Record{Data: data, CRC: crc, Labels: labels}, true, nil
}

func (b *FileBackend) Save(rec Record) error {
	img := make([]byte, imageHeaderSize, imageHeaderSize+len(rec.Data))
	binary.LittleEndian.PutUint32(img[0:], imageMagic)
	binary.LittleEndian.PutUint32(img[4:], uint32(len(rec.Data)))
	binary.LittleEndian.PutUint32(img[8:], uint32(len(rec.Labels)))
	binary.LittleEndian.PutUint32(img[12:], rec.CRC)
	for i, l := range rec.Labels {
		if i >= model.MaxClasses {
			break
		}
		if len(l) > model.MaxLabel {
			l = l[:model.MaxLabel]
		}
		copy(img[16+i*model.LabelLen:], l)
	}
	img = append(img, rec.Data...)

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open flash image: %w", err)
	}
	if _, err := f.Write(img); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write flash image: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync flash image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close flash image: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("commit flash image: %w", err)
	}
	return nil
}

func (b *FileBackend) Erase() error {
	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("erase flash image: %w", err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }

func cString(b []byte) string {
	if n := indexNUL(b); n >= 0 {
		return string(b[:n])
	}
	return string(b)
}
