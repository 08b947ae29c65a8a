// Package nn runs the resident two-layer classifier.
//
// The network is dense(600→32, ReLU) → dense(32→classes) → softmax →
// argmax. All scratch space lives in the Engine so Predict does not
// allocate.
package nn

import (
	"fmt"
	"math"

	"github.com/relabs-tech/gesture_node/internal/model"
)

const (
	// FallbackClass and FallbackConfidence are reported while no model is loaded.
	FallbackClass      = 0
	FallbackConfidence = 0.5
)

// Prediction is the result of one forward pass.
type Prediction struct {
	Class      int
	Confidence float32
	// Fallback is set when no model was loaded.
	Fallback bool
}

// Engine evaluates a borrowed model. It is not safe for concurrent use.
type Engine struct {
	m      *model.Model
	hidden [model.HiddenSize]float32
	logits [model.MaxClasses]float32
	probs  [model.MaxClasses]float32
}

// NewEngine returns an unloaded engine.
func NewEngine() *Engine {
	return &Engine{}
}

// LoadModel validates m and makes it the model Predict evaluates. On error
// the engine keeps whatever it had loaded before. The engine does not copy
// m; the caller must keep it unchanged while it is loaded.
func (e *Engine) LoadModel(m *model.Model) error {
	if m == nil {
		return fmt.Errorf("%w: nil model", model.ErrFormat)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	e.m = m
	return nil
}

// Unload returns the engine to fallback mode.
func (e *Engine) Unload() {
	e.m = nil
}

// Loaded reports whether a model is loaded.
func (e *Engine) Loaded() bool { return e.m != nil }

// NumClasses returns the loaded class count, or 0.
func (e *Engine) NumClasses() int {
	if e.m == nil {
		return 0
	}
	return e.m.NumClasses()
}

// Predict classifies one flattened window. input must hold exactly
// model.InputSize values in sample-major order.
func (e *Engine) Predict(input []float32) (Prediction, error) {
	if len(input) != model.InputSize {
		return Prediction{}, fmt.Errorf("%w: input has %d values, want %d", model.ErrFormat, len(input), model.InputSize)
	}
	if e.m == nil {
		return Prediction{Class: FallbackClass, Confidence: FallbackConfidence, Fallback: true}, nil
	}
	m := e.m
	classes := m.NumClasses()

	hb := m.HiddenBias()
	for j := range e.hidden {
		v := hb[j] + dot(m.HiddenRow(j), input)
		if v < 0 {
			v = 0
		}
		e.hidden[j] = v
	}

	ob := m.OutputBias()
	for k := 0; k < classes; k++ {
		e.logits[k] = ob[k] + dot(m.OutputRow(k), e.hidden[:])
	}

	softmax(e.probs[:classes], e.logits[:classes])

	best := 0
	for k := 1; k < classes; k++ {
		if e.probs[k] > e.probs[best] {
			best = k
		}
	}
	return Prediction{Class: best, Confidence: e.probs[best]}, nil
}

// Probabilities returns the class distribution of the last Predict. The
// slice is reused by the next call.
func (e *Engine) Probabilities() []float32 {
	return e.probs[:e.NumClasses()]
}

// Label returns the loaded model's label for class i, or model.UnknownLabel.
func (e *Engine) Label(i int) string {
	if e.m == nil || i < 0 || i >= e.m.NumClasses() {
		return model.UnknownLabel
	}
	return e.m.Label(i)
}

func dot(w, x []float32) float32 {
	var sum float32
	for i, v := range x {
		sum += w[i] * v
	}
	return sum
}

// softmax writes the normalized exponentials of src into dst. The maximum
// is subtracted first so large scores cannot overflow.
func softmax(dst, src []float32) {
	if len(src) == 0 {
		return
	}
	hi := src[0]
	for _, v := range src[1:] {
		if v > hi {
			hi = v
		}
	}
	var sum float32
	for i, v := range src {
		ex := float32(math.Exp(float64(v - hi)))
		dst[i] = ex
		sum += ex
	}
	for i := range dst {
		dst[i] /= sum
	}
}
