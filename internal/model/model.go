// Package model defines the resident neural network weight set and its
// canonical binary layout.
//
// Layout (little endian):
//
//	0      magic u32 ("SNNN")
//	4      numClasses u32
//	8      inputSize u32
//	12     hiddenSize u32
//	16     hiddenWeights f32[HiddenSize*InputSize], row = one hidden neuron
//	76816  hiddenBias f32[HiddenSize]
//	76944  outputWeights f32[MaxClasses*HiddenSize], rows past numClasses are padding
//	77968  outputBias f32[MaxClasses]
//	78000  labels [MaxClasses][LabelLen]byte (optional)
package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// Magic identifies the format ("SNNN" read as a little endian u32).
	Magic uint32 = 0x4E4E4E53

	InputSize  = 600
	HiddenSize = 32
	MaxClasses = 8

	// LabelLen is the stored label width: 15 visible bytes plus a NUL.
	LabelLen = 16
	// MaxLabel is the number of visible bytes kept per label.
	MaxLabel = LabelLen - 1

	// UnknownLabel names class indexes outside the active model.
	UnknownLabel = "Unknown"

	// MaxModelSize is the upload buffer capacity in bytes.
	MaxModelSize = 85000

	HeaderSize = 16

	hiddenWeightsOffset = HeaderSize
	hiddenBiasOffset    = hiddenWeightsOffset + HiddenSize*InputSize*4
	outputWeightsOffset = hiddenBiasOffset + HiddenSize*4
	outputBiasOffset    = outputWeightsOffset + MaxClasses*HiddenSize*4
	labelsOffset        = outputBiasOffset + MaxClasses*4

	// DataSize is the smallest valid blob: header and weights, no labels.
	DataSize = labelsOffset
	// ImageSize is a blob including the label table.
	ImageSize = labelsOffset + MaxClasses*LabelLen
)

// Header is the fixed prefix of every model blob.
type Header struct {
	Magic      uint32
	NumClasses uint32
	InputSize  uint32
	HiddenSize uint32
}

// Validate checks the header against the compiled-in network shape.
func (h Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: bad magic 0x%08X", ErrFormat, h.Magic)
	}
	if h.InputSize != InputSize {
		return fmt.Errorf("%w: input size %d, want %d", ErrFormat, h.InputSize, InputSize)
	}
	if h.HiddenSize != HiddenSize {
		return fmt.Errorf("%w: hidden size %d, want %d", ErrFormat, h.HiddenSize, HiddenSize)
	}
	if h.NumClasses < 1 || h.NumClasses > MaxClasses {
		return fmt.Errorf("%w: %d classes, want 1-%d", ErrFormat, h.NumClasses, MaxClasses)
	}
	return nil
}

// Model is a fixed-capacity weight set. Storage is sized for MaxClasses so
// a Model can be reused across uploads without reallocation.
type Model struct {
	header        Header
	hiddenWeights [HiddenSize * InputSize]float32
	hiddenBias    [HiddenSize]float32
	outputWeights [MaxClasses * HiddenSize]float32
	outputBias    [MaxClasses]float32
	labels        [MaxClasses][LabelLen]byte
}

// New returns a zero-weight model with a valid header.
func New(numClasses int, labels ...string) *Model {
	m := &Model{header: Header{
		Magic:      Magic,
		NumClasses: uint32(numClasses),
		InputSize:  InputSize,
		HiddenSize: HiddenSize,
	}}
	for i, l := range labels {
		m.SetLabel(i, l)
	}
	return m
}

// Header returns the model header.
func (m *Model) Header() Header { return m.header }

// NumClasses returns the number of output classes.
func (m *Model) NumClasses() int { return int(m.header.NumClasses) }

// Validate checks the header of m.
func (m *Model) Validate() error { return m.header.Validate() }

// HiddenWeights returns the HiddenSize x InputSize weight matrix, row-major.
func (m *Model) HiddenWeights() []float32 { return m.hiddenWeights[:] }

// HiddenRow returns the input weights of hidden neuron i.
func (m *Model) HiddenRow(i int) []float32 {
	return m.hiddenWeights[i*InputSize : (i+1)*InputSize]
}

// HiddenBias returns the hidden layer bias vector.
func (m *Model) HiddenBias() []float32 { return m.hiddenBias[:] }

// OutputWeights returns the NumClasses x HiddenSize weight matrix, row-major.
func (m *Model) OutputWeights() []float32 {
	return m.outputWeights[:m.classes()*HiddenSize]
}

// OutputRow returns the hidden-layer weights of output neuron k.
func (m *Model) OutputRow(k int) []float32 {
	return m.OutputWeights()[k*HiddenSize : (k+1)*HiddenSize]
}

// OutputBias returns the output layer bias vector.
func (m *Model) OutputBias() []float32 { return m.outputBias[:m.classes()] }

// Label returns the label of class i, or "" when i is out of range.
func (m *Model) Label(i int) string {
	if i < 0 || i >= m.classes() {
		return ""
	}
	return cString(m.labels[i][:])
}

// SetLabel stores label s for class i, truncated to MaxLabel bytes.
// Indexes outside the label table are ignored.
func (m *Model) SetLabel(i int, s string) {
	if i < 0 || i >= MaxClasses {
		return
	}
	m.labels[i] = [LabelLen]byte{}
	if len(s) > MaxLabel {
		s = s[:MaxLabel]
	}
	copy(m.labels[i][:], s)
}

// Reset zeroes the model, leaving it invalid.
func (m *Model) Reset() { *m = Model{} }

// classes clamps the header class count to the storage capacity so
// accessors stay in bounds on unvalidated models.
func (m *Model) classes() int {
	n := int(m.header.NumClasses)
	if n > MaxClasses {
		return MaxClasses
	}
	return n
}

// Decode parses blob b into dst and validates it. dst is only written
// when the blob is long enough and its header is valid. A label table is
// read when b extends to ImageSize; otherwise labels are cleared.
func Decode(dst *Model, b []byte) error {
	if len(b) < DataSize {
		return fmt.Errorf("%w: model is %d bytes, need at least %d", ErrFormat, len(b), DataSize)
	}
	h := Header{
		Magic:      binary.LittleEndian.Uint32(b[0:]),
		NumClasses: binary.LittleEndian.Uint32(b[4:]),
		InputSize:  binary.LittleEndian.Uint32(b[8:]),
		HiddenSize: binary.LittleEndian.Uint32(b[12:]),
	}
	if err := h.Validate(); err != nil {
		return err
	}

	dst.header = h
	readFloats(dst.hiddenWeights[:], b[hiddenWeightsOffset:])
	readFloats(dst.hiddenBias[:], b[hiddenBiasOffset:])
	readFloats(dst.outputWeights[:], b[outputWeightsOffset:])
	readFloats(dst.outputBias[:], b[outputBiasOffset:])

	dst.labels = [MaxClasses][LabelLen]byte{}
	if len(b) >= ImageSize {
		for i := 0; i < MaxClasses; i++ {
			off := labelsOffset + i*LabelLen
			dst.SetLabel(i, cString(b[off:off+LabelLen]))
		}
	}
	return nil
}

// MarshalBinary encodes m in the canonical layout, label table included.
func (m *Model) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, ImageSize))
}

// AppendBinary appends the canonical encoding of m to b.
func (m *Model) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, m.header.Magic)
	b = binary.LittleEndian.AppendUint32(b, m.header.NumClasses)
	b = binary.LittleEndian.AppendUint32(b, m.header.InputSize)
	b = binary.LittleEndian.AppendUint32(b, m.header.HiddenSize)
	b = appendFloats(b, m.hiddenWeights[:])
	b = appendFloats(b, m.hiddenBias[:])
	b = appendFloats(b, m.outputWeights[:])
	b = appendFloats(b, m.outputBias[:])
	for i := range m.labels {
		b = append(b, m.labels[i][:]...)
	}
	return b, nil
}

func readFloats(dst []float32, b []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}

func appendFloats(b []byte, src []float32) []byte {
	for _, f := range src {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// cString returns the bytes of b up to the first NUL.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
