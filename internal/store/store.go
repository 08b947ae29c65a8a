// Package store owns the single resident model and the chunked upload
// state machine that replaces it.
//
// An upload is untrusted input: the Start header is bounds-checked, every
// chunk is range-checked against the declared size, and Finish verifies
// the CRC-32 and the model structure before anything becomes active. Any
// failure leaves the previously active model in place.
package store

import (
	"encoding/binary"
	"fmt"

	"github.com/relabs-tech/gesture_node/internal/checksum"
	"github.com/relabs-tech/gesture_node/internal/model"
	"github.com/relabs-tech/gesture_node/internal/monitoring"
)

// State is the upload state. Values match the status record encoding.
type State byte

const (
	StateIdle      State = 0
	StateReceiving State = 1
	StateComplete  State = 2
	StateError     State = 3
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", byte(s))
	}
}

// UnknownLabel is returned by Label for indexes without a class.
const UnknownLabel = model.UnknownLabel

// session is the transient state of one upload.
type session struct {
	expectedSize uint32
	expectedCRC  uint32
	numClasses   uint8
	labels       [model.MaxClasses]string
	received     uint32 // end of the contiguous prefix written from offset 0
}

// Store holds the upload buffer, the active model and a staging model the
// next upload is decoded into. It is owned by the control loop and is not
// safe for concurrent use.
type Store struct {
	backend Backend

	buf     [model.MaxModelSize]byte
	covered [(model.MaxModelSize + 7) / 8]byte // one bit per buf byte written this session
	session session
	state   State

	active     *model.Model
	staging    *model.Model
	hasModel   bool
	activeSize uint32
}

// New returns an empty store persisting committed models to backend.
// A nil backend keeps models in memory only.
func New(backend Backend) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Store{
		backend: backend,
		active:  new(model.Model),
		staging: new(model.Model),
	}
}

// Start opens a new upload session, discarding any previous one.
// payload is size u32, crc32 u32, class count u8, then NUL-terminated labels.
func (s *Store) Start(payload []byte) error {
	s.resetSession()

	if len(payload) < 9 {
		return s.fail(fmt.Errorf("%w: start payload is %d bytes, need 9", model.ErrFormat, len(payload)))
	}
	size := binary.LittleEndian.Uint32(payload[0:])
	crc := binary.LittleEndian.Uint32(payload[4:])
	classes := payload[8]

	if size > model.MaxModelSize {
		return s.fail(fmt.Errorf("%w: model is %d bytes, capacity %d", model.ErrSize, size, model.MaxModelSize))
	}

	s.session.expectedSize = size
	s.session.expectedCRC = crc
	s.session.numClasses = classes

	rest := payload[9:]
	for i := 0; i < int(classes) && len(rest) > 0; i++ {
		n := indexNUL(rest)
		if n < 0 {
			return s.fail(fmt.Errorf("%w: label %d is not NUL-terminated", model.ErrFormat, i))
		}
		if i < model.MaxClasses {
			label := rest[:n]
			if len(label) > model.MaxLabel {
				label = label[:model.MaxLabel]
			}
			s.session.labels[i] = string(label)
		}
		rest = rest[n+1:]
	}

	s.state = StateReceiving
	monitoring.Logf("upload: start %d bytes, crc32 0x%08X, %d classes", size, crc, classes)
	return nil
}

// Chunk writes data at the offset given in the first four payload bytes.
// A chunk that would run past the declared size is rejected without
// changing the session.
func (s *Store) Chunk(payload []byte) error {
	if len(payload) < 4 {
		return fmt.Errorf("%w: chunk payload is %d bytes, need 4", model.ErrFormat, len(payload))
	}
	if s.state != StateReceiving {
		return fmt.Errorf("%w: chunk while %s", model.ErrFormat, s.state)
	}
	offset := binary.LittleEndian.Uint32(payload[0:])
	data := payload[4:]

	end := uint64(offset) + uint64(len(data))
	if end > uint64(s.session.expectedSize) {
		return fmt.Errorf("%w: chunk [%d, %d) exceeds model size %d", model.ErrFormat, offset, end, s.session.expectedSize)
	}
	copy(s.buf[offset:], data)
	s.markReceived(offset, uint32(end))
	return nil
}

// markReceived records [start, end) and advances the contiguous prefix
// over every byte written so far.
func (s *Store) markReceived(start, end uint32) {
	for i := start; i < end; i++ {
		s.covered[i>>3] |= 1 << (i & 7)
	}
	r := s.session.received
	for r < s.session.expectedSize && s.covered[r>>3]&(1<<(r&7)) != 0 {
		r++
	}
	s.session.received = r
}

// Finish verifies the received bytes and, on success, makes them the
// active model. The returned model is the new active one.
func (s *Store) Finish() (*model.Model, error) {
	if s.state != StateReceiving {
		return nil, fmt.Errorf("%w: finish while %s", model.ErrFormat, s.state)
	}
	sess := &s.session
	data := s.buf[:sess.expectedSize]

	if got := checksum.CRC32(data); got != sess.expectedCRC {
		return nil, s.fail(fmt.Errorf("%w: got 0x%08X, want 0x%08X", model.ErrCRC, got, sess.expectedCRC))
	}
	if err := model.Decode(s.staging, data); err != nil {
		return nil, s.fail(err)
	}
	if s.staging.NumClasses() != int(sess.numClasses) {
		return nil, s.fail(fmt.Errorf("%w: model has %d classes, start declared %d",
			model.ErrFormat, s.staging.NumClasses(), sess.numClasses))
	}
	labels := sess.labels[:s.staging.NumClasses()]
	applyLabels(s.staging, labels)

	rec := Record{Data: data, CRC: sess.expectedCRC, Labels: modelLabels(s.staging)}
	if err := s.backend.Save(rec); err != nil {
		return nil, s.fail(fmt.Errorf("%w: %v", model.ErrStorage, err))
	}

	s.active, s.staging = s.staging, s.active
	s.hasModel = true
	s.activeSize = sess.expectedSize
	s.state = StateComplete
	monitoring.Logf("upload: committed %d bytes, %d classes", s.activeSize, s.active.NumClasses())
	s.resetSession()
	return s.active, nil
}

// Cancel discards the partial upload and returns to Idle.
func (s *Store) Cancel() {
	if s.state == StateReceiving {
		monitoring.Logf("upload: cancelled at %d/%d bytes", s.session.received, s.session.expectedSize)
	}
	s.resetSession()
	s.state = StateIdle
}

// Restore loads the persisted model, applying the same checks as an upload.
// Without a stored model the store stays empty and Restore returns nil.
func (s *Store) Restore() error {
	rec, ok, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	if !ok {
		return nil
	}
	if len(rec.Data) > model.MaxModelSize {
		return fmt.Errorf("%w: stored model is %d bytes", model.ErrSize, len(rec.Data))
	}
	if got := checksum.CRC32(rec.Data); got != rec.CRC {
		return fmt.Errorf("%w: stored model got 0x%08X, want 0x%08X", model.ErrCRC, got, rec.CRC)
	}
	if err := model.Decode(s.staging, rec.Data); err != nil {
		return err
	}
	applyLabels(s.staging, rec.Labels)

	s.active, s.staging = s.staging, s.active
	s.hasModel = true
	s.activeSize = uint32(len(rec.Data))
	return nil
}

// Clear wipes the active model from memory and from the backend.
func (s *Store) Clear() error {
	s.active.Reset()
	s.hasModel = false
	s.activeSize = 0
	if err := s.backend.Erase(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return nil
}

// HasModel reports whether a validated model is active.
func (s *Store) HasModel() bool { return s.hasModel }

// Active returns the active model, or nil. The pointer is borrowed: it is
// only valid until the next successful Finish, Restore or Clear.
func (s *Store) Active() *model.Model {
	if !s.hasModel {
		return nil
	}
	return s.active
}

// ModelSize returns the size in bytes of the active model blob.
func (s *Store) ModelSize() uint32 { return s.activeSize }

// NumClasses returns the class count of the active model, or 0.
func (s *Store) NumClasses() int {
	if !s.hasModel {
		return 0
	}
	return s.active.NumClasses()
}

// Label returns the label of class i of the active model, or UnknownLabel.
func (s *Store) Label(i int) string {
	if !s.hasModel || i < 0 || i >= s.active.NumClasses() {
		return UnknownLabel
	}
	return s.active.Label(i)
}

// State returns the upload state.
func (s *Store) State() State { return s.state }

// Received returns the contiguous byte count of the open session.
func (s *Store) Received() uint32 { return s.session.received }

// ExpectedSize returns the declared size of the open session.
func (s *Store) ExpectedSize() uint32 { return s.session.expectedSize }

// Progress returns received*100/expectedSize clamped to 0-100.
func (s *Store) Progress() uint8 {
	if s.session.expectedSize == 0 {
		return 0
	}
	p := uint64(s.session.received) * 100 / uint64(s.session.expectedSize)
	if p > 100 {
		p = 100
	}
	return uint8(p)
}

func (s *Store) fail(err error) error {
	monitoring.Logf("upload: %v", err)
	s.resetSession()
	s.state = StateError
	return err
}

// resetSession drops session metadata and zeroes the bytes it touched.
func (s *Store) resetSession() {
	clear(s.buf[:s.session.expectedSize])
	clear(s.covered[:(s.session.expectedSize+7)/8])
	s.session = session{}
}

// applyLabels attaches labels to m. Missing or empty entries fall back to
// the label table embedded in the blob, then to the class index.
func applyLabels(m *model.Model, labels []string) {
	for i := 0; i < m.NumClasses(); i++ {
		l := ""
		if i < len(labels) {
			l = labels[i]
		}
		if l == "" {
			l = m.Label(i)
		}
		if l == "" {
			l = fmt.Sprintf("Class %d", i)
		}
		m.SetLabel(i, l)
	}
}

func modelLabels(m *model.Model) []string {
	out := make([]string, m.NumClasses())
	for i := range out {
		out[i] = m.Label(i)
	}
	return out
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
