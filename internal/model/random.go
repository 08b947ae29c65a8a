package model

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Random returns a model with small uniform weights drawn from seed. It
// is a bench fixture for exercising uploads and inference end to end, not
// a trained network.
func Random(numClasses int, seed uint64, labels ...string) (*Model, error) {
	m := New(numClasses, labels...)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(labels) > numClasses {
		return nil, fmt.Errorf("%w: %d labels for %d classes", ErrFormat, len(labels), numClasses)
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	fill := func(dst []float32, scale float64) {
		for i := range dst {
			dst[i] = float32((r.Float64()*2 - 1) * scale)
		}
	}
	fill(m.HiddenWeights(), 1/math.Sqrt(InputSize))
	fill(m.HiddenBias(), 0.1)
	fill(m.OutputWeights(), 1/math.Sqrt(HiddenSize))
	fill(m.OutputBias(), 0.1)
	return m, nil
}
