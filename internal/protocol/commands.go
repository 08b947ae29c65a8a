package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/relabs-tech/gesture_node/internal/model"
)

// Command identifies an upload frame.
type Command byte

const (
	CmdStart  Command = 0x01
	CmdChunk  Command = 0x02
	CmdFinish Command = 0x03
	CmdCancel Command = 0x04
)

const (
	// MTU is the largest upload frame the link delivers in one write.
	MTU = 244
	// ChunkHeaderSize is the command byte plus the offset.
	ChunkHeaderSize = 5
	// MaxChunkData is the largest data slice a Chunk frame may carry.
	MaxChunkData = MTU - ChunkHeaderSize
	// StartHeaderSize is size + crc + class count.
	StartHeaderSize = 9
)

// ErrUnknownCommand is returned by ParseFrame for an unrecognized command byte.
var ErrUnknownCommand = errors.New("unknown upload command")

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdChunk:
		return "chunk"
	case CmdFinish:
		return "finish"
	case CmdCancel:
		return "cancel"
	default:
		return fmt.Sprintf("cmd(0x%02X)", byte(c))
	}
}

// Frame is one upload command. Payload aliases the input buffer.
type Frame struct {
	Cmd     Command
	Payload []byte
}

// ParseFrame splits b into command and payload.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < 1 {
		return Frame{}, fmt.Errorf("%w: empty upload frame", model.ErrFormat)
	}
	f := Frame{Cmd: Command(b[0]), Payload: b[1:]}
	switch f.Cmd {
	case CmdStart, CmdChunk, CmdFinish, CmdCancel:
		return f, nil
	default:
		return f, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, b[0])
	}
}

// StartFrame builds a Start frame. Labels are written NUL-terminated in order.
func StartFrame(size, crc uint32, labels []string) []byte {
	b := make([]byte, 0, 1+StartHeaderSize+len(labels)*model.LabelLen)
	b = append(b, byte(CmdStart))
	b = binary.LittleEndian.AppendUint32(b, size)
	b = binary.LittleEndian.AppendUint32(b, crc)
	b = append(b, byte(len(labels)))
	for _, l := range labels {
		b = append(b, l...)
		b = append(b, 0)
	}
	return b
}

// ChunkFrame builds a Chunk frame carrying data at offset.
func ChunkFrame(offset uint32, data []byte) []byte {
	b := make([]byte, 0, ChunkHeaderSize+len(data))
	b = append(b, byte(CmdChunk))
	b = binary.LittleEndian.AppendUint32(b, offset)
	return append(b, data...)
}

// FinishFrame builds a Finish frame.
func FinishFrame() []byte { return []byte{byte(CmdFinish)} }

// CancelFrame builds a Cancel frame.
func CancelFrame() []byte { return []byte{byte(CmdCancel)} }

// SplitChunks slices blob into Chunk frames of at most size data bytes.
func SplitChunks(blob []byte, size int) [][]byte {
	if size <= 0 || size > MaxChunkData {
		size = MaxChunkData
	}
	frames := make([][]byte, 0, (len(blob)+size-1)/size)
	for off := 0; off < len(blob); off += size {
		end := off + size
		if end > len(blob) {
			end = len(blob)
		}
		frames = append(frames, ChunkFrame(uint32(off), blob[off:end]))
	}
	return frames
}
