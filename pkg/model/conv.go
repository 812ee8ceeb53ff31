package model

import (
	"fmt"

	"fastformer/pkg/tensor"
)

// CausalConv implements a causal grouped 1-D convolution over the sequence.
//
// The sequence axis is left-padded with kernel_size-1 zeros and never padded
// on the right, so output position i depends only on inputs at positions
// <= i. With Groups == hidden size the convolution is depthwise.
//
// Block order: norm -> GELU -> causal conv (no bias) -> dropout. The GELU
// sits inside the block so it doesn't interfere with the residual connection
// around it.
type CausalConv struct {
	// Weight has shape (hidden, hidden/groups, kernel): one row of taps per
	// output channel over the input channels of its group.
	Weight     *tensor.Tensor
	KernelSize int
	Groups     int
	Norm       *LayerNorm
	Dropout    float32
}

// NewCausalConv creates a causal convolution block.
func NewCausalConv(hiddenSize, kernelSize, groups int, dropout float32) *CausalConv {
	return &CausalConv{
		Weight:     tensor.NewTensor([]int{hiddenSize, hiddenSize / groups, kernelSize}),
		KernelSize: kernelSize,
		Groups:     groups,
		Norm:       NewLayerNorm(hiddenSize, 1e-5),
		Dropout:    dropout,
	}
}

// Forward applies the causal convolution.
//
// Input shape: (batch, seq, hidden); output shape: same.
func (c *CausalConv) Forward(hiddenStates *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if len(hiddenStates.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, hidden), got %dD with shape %v",
			len(hiddenStates.Shape), hiddenStates.Shape)
	}

	batchSize, seqLen, hidden := hiddenStates.Shape[0], hiddenStates.Shape[1], hiddenStates.Shape[2]
	if hidden != c.Weight.Shape[0] {
		return nil, fmt.Errorf("input hidden dimension %d doesn't match conv weight shape %v",
			hidden, c.Weight.Shape)
	}

	normed, err := c.Norm.Forward(hiddenStates)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize conv input: %w", err)
	}

	activated := normed.GELU()

	channelsPerGroup := hidden / c.Groups
	result := tensor.NewTensor(hiddenStates.Shape)

	// Convolve each output channel over its group's input channels. A source
	// position t - (kernel-1) + k below zero reads from the implicit left
	// zero padding and contributes nothing.
	for b := 0; b < batchSize; b++ {
		for t := 0; t < seqLen; t++ {
			for oc := 0; oc < hidden; oc++ {
				group := oc / channelsPerGroup
				icBase := group * channelsPerGroup

				sum := float32(0)
				for k := 0; k < c.KernelSize; k++ {
					src := t - (c.KernelSize - 1) + k
					if src < 0 {
						continue
					}
					for ic := 0; ic < channelsPerGroup; ic++ {
						w := c.Weight.Data[(oc*channelsPerGroup+ic)*c.KernelSize+k]
						x := activated.Data[(b*seqLen+src)*hidden+icBase+ic]
						sum += w * x
					}
				}
				result.Data[(b*seqLen+t)*hidden+oc] = sum
			}
		}
	}

	return result.Dropout(c.Dropout, training), nil
}
