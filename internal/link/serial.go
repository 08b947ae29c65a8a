package link

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/gesture_node/internal/checksum"
	"github.com/relabs-tech/gesture_node/internal/monitoring"
)

// Serial frame: [SyncByte][channel][len u16 LE][payload][crc8], the CRC-8
// covering channel, length and payload.
const (
	SyncByte        = 0xA5
	frameHeaderSize = 4
	// MaxFramePayload bounds a frame so a corrupt length cannot stall the reader.
	MaxFramePayload = 1024
)

// ErrFrameTooLarge is returned by EncodeFrame for oversize payloads.
var ErrFrameTooLarge = errors.New("serial frame payload too large")

// EncodeFrame wraps payload in a serial frame.
func EncodeFrame(ch Channel, payload []byte) ([]byte, error) {
	if len(payload) > MaxFramePayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	b := make([]byte, 0, frameHeaderSize+len(payload)+1)
	b = append(b, SyncByte, byte(ch))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload)))
	b = append(b, payload...)
	return append(b, checksum.CRC8(b[1:])), nil
}

// FrameReader decodes serial frames, skipping noise and frames that fail
// their CRC.
type FrameReader struct {
	r   *bufio.Reader
	buf []byte
}

// NewFrameReader reads frames from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), buf: make([]byte, 0, frameHeaderSize+MaxFramePayload+1)}
}

// Next returns the next valid frame. The payload is only valid until the
// following call. Only read errors are returned.
func (fr *FrameReader) Next() (Message, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return Message{}, err
		}
		if b != SyncByte {
			continue
		}
		hdr, err := fr.r.Peek(frameHeaderSize - 1)
		if err != nil {
			return Message{}, err
		}
		n := int(binary.LittleEndian.Uint16(hdr[1:]))
		if n > MaxFramePayload || !Channel(hdr[0]).Valid() {
			// resync from the byte after this sync
			continue
		}
		frame, err := fr.r.Peek(frameHeaderSize - 1 + n + 1)
		if err != nil {
			return Message{}, err
		}
		body := frame[:frameHeaderSize-1+n]
		if checksum.CRC8(body) != frame[len(frame)-1] {
			monitoring.Logf("link: serial frame CRC mismatch, resyncing")
			continue
		}
		fr.buf = append(fr.buf[:0], body[frameHeaderSize-1:]...)
		ch := Channel(body[0])
		if _, err := fr.r.Discard(len(frame)); err != nil {
			return Message{}, err
		}
		return Message{Channel: ch, Payload: fr.buf}, nil
	}
}

// SerialConfig configures a UART link.
type SerialConfig struct {
	Port      string
	BaudRate  uint
	InboxSize int
}

// Serial is a Link over a byte stream, usually a UART.
type Serial struct {
	port io.ReadWriteCloser
	in   *inbox

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// OpenSerial opens the UART and starts the reader.
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	opts := serial.OpenOptions{
		PortName:              cfg.Port,
		BaudRate:              cfg.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	monitoring.Logf("link: serial port opened on %s at %d baud", cfg.Port, cfg.BaudRate)
	return NewSerial(port, cfg.InboxSize), nil
}

// NewSerial runs the frame protocol over rw.
func NewSerial(rw io.ReadWriteCloser, inboxSize int) *Serial {
	s := &Serial{port: rw, in: newInbox(inboxSize), done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *Serial) readLoop() {
	defer close(s.done)
	fr := NewFrameReader(s.port)
	for {
		msg, err := fr.Next()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed && !errors.Is(err, io.EOF) {
				monitoring.Logf("link: serial read error: %v", err)
			}
			return
		}
		s.in.push(msg.Channel, msg.Payload)
	}
}

func (s *Serial) Poll() (Message, bool) { return s.in.poll() }

func (s *Serial) Notify(ch Channel, payload []byte) error {
	frame, err := EncodeFrame(ch, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("serial write %s: %w", ch, err)
	}
	return nil
}

// Close closes the port and waits for the reader to exit.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	err := s.port.Close()
	<-s.done
	return err
}
