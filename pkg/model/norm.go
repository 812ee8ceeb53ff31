package model

import (
	"fmt"
	"math"

	"fastformer/pkg/tensor"
)

// LayerNorm implements layer normalization with learnable scale and shift.
//
// The input is normalized across the last (feature) dimension and then
// transformed by a learned scale (gamma) and shift (beta):
//
//	x_norm = (x - mean) / sqrt(var + eps)
//	output = x_norm * scale + shift
//
// Every sub-block of the decoder normalizes its input this way before
// transforming it (pre-norm).
type LayerNorm struct {
	Scale *tensor.Tensor // (hidden,) - gamma parameter
	Shift *tensor.Tensor // (hidden,) - beta parameter
	Eps   float32        // Small constant for numerical stability
}

// NewLayerNorm creates a LayerNorm with scale initialized to 1 and shift to 0.
func NewLayerNorm(hiddenSize int, eps float32) *LayerNorm {
	scale := tensor.NewTensor([]int{hiddenSize})
	for i := range scale.Data {
		scale.Data[i] = 1.0
	}

	return &LayerNorm{
		Scale: scale,
		Shift: tensor.NewTensor([]int{hiddenSize}),
		Eps:   eps,
	}
}

// Forward applies layer normalization to the input.
//
// Input shape: (..., hidden); output shape: same as input. Normalization is
// applied independently to each position.
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("cannot apply LayerNorm to 0D tensor")
	}

	lastDim := x.Shape[len(x.Shape)-1]
	if lastDim != len(ln.Scale.Data) {
		return nil, fmt.Errorf("input last dimension %d doesn't match LayerNorm dimension %d",
			lastDim, len(ln.Scale.Data))
	}

	numSlices := x.Size() / lastDim
	result := tensor.NewTensor(x.Shape)

	for sliceIdx := 0; sliceIdx < numSlices; sliceIdx++ {
		offset := sliceIdx * lastDim

		mean := float32(0)
		for i := 0; i < lastDim; i++ {
			mean += x.Data[offset+i]
		}
		mean /= float32(lastDim)

		variance := float32(0)
		for i := 0; i < lastDim; i++ {
			diff := x.Data[offset+i] - mean
			variance += diff * diff
		}
		variance /= float32(lastDim)

		invStd := float32(1.0 / math.Sqrt(float64(variance+ln.Eps)))

		for i := 0; i < lastDim; i++ {
			xNorm := (x.Data[offset+i] - mean) * invStd
			result.Data[offset+i] = xNorm*ln.Scale.Data[i] + ln.Shift.Data[i]
		}
	}

	return result, nil
}
