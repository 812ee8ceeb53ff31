package tensor

import (
	"math/rand"
	"time"
)

// Dropout randomly zeros out elements with probability p during training.
// During inference (training=false), returns the input unchanged.
//
// Uses inverted dropout: surviving elements are scaled by 1/(1-p) so the
// expected activation magnitude is the same in both modes.
func (t *Tensor) Dropout(p float32, training bool) *Tensor {
	if !training || p == 0 {
		return t.Clone()
	}

	if p < 0 || p > 1 {
		panic("dropout probability must be between 0 and 1")
	}

	if dropoutRand == nil {
		dropoutRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	result := NewTensor(t.Shape)
	scale := 1.0 / (1.0 - p)

	for i := range t.Data {
		if dropoutRand.Float32() >= p {
			result.Data[i] = t.Data[i] * scale
		} else {
			result.Data[i] = 0
		}
	}

	return result
}

// dropoutRand is a package-level random number generator for dropout.
var dropoutRand *rand.Rand

// SetDropoutSeed sets the random seed for dropout (useful for testing).
func SetDropoutSeed(seed int64) {
	dropoutRand = rand.New(rand.NewSource(seed))
}
