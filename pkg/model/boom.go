package model

import (
	"fmt"

	"fastformer/pkg/tensor"
)

// Boom implements the position-wise feed-forward block: expand the hidden
// dimension by 4x, apply GELU, contract back. Named after the SHA-RNN boom
// layer. No cross-position dependency, so it is trivially causal.
//
// Block order: norm -> expand -> GELU -> contract -> dropout.
type Boom struct {
	Norm    *LayerNorm
	FC1     *tensor.Tensor // (hidden, 4*hidden)
	FC1Bias *tensor.Tensor // (4*hidden,)
	FC2     *tensor.Tensor // (4*hidden, hidden)
	FC2Bias *tensor.Tensor // (hidden,)
	Dropout float32
}

// NewBoom creates a feed-forward block for the given hidden size.
func NewBoom(hiddenSize int, dropout float32) *Boom {
	return &Boom{
		Norm:    NewLayerNorm(hiddenSize, 1e-5),
		FC1:     tensor.NewTensor([]int{hiddenSize, 4 * hiddenSize}),
		FC1Bias: tensor.NewTensor([]int{4 * hiddenSize}),
		FC2:     tensor.NewTensor([]int{4 * hiddenSize, hiddenSize}),
		FC2Bias: tensor.NewTensor([]int{hiddenSize}),
		Dropout: dropout,
	}
}

// Forward computes the feed-forward transformation.
//
// Input shape: (batch, seq, hidden); output shape: same.
func (bm *Boom) Forward(hiddenStates *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if len(hiddenStates.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, hidden), got %dD with shape %v",
			len(hiddenStates.Shape), hiddenStates.Shape)
	}
	if hiddenStates.Shape[2] != bm.FC1.Shape[0] {
		return nil, fmt.Errorf("input hidden dimension %d doesn't match FC1 shape %v",
			hiddenStates.Shape[2], bm.FC1.Shape)
	}

	normed, err := bm.Norm.Forward(hiddenStates)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize boom input: %w", err)
	}

	expanded, err := tensor.Matmul(normed, bm.FC1)
	if err != nil {
		return nil, fmt.Errorf("failed to compute boom expansion: %w", err)
	}
	expanded, err = tensor.Add(expanded, bm.FC1Bias)
	if err != nil {
		return nil, fmt.Errorf("failed to add expansion bias: %w", err)
	}

	activated := expanded.GELU()

	contracted, err := tensor.Matmul(activated, bm.FC2)
	if err != nil {
		return nil, fmt.Errorf("failed to compute boom contraction: %w", err)
	}
	contracted, err = tensor.Add(contracted, bm.FC2Bias)
	if err != nil {
		return nil, fmt.Errorf("failed to add contraction bias: %w", err)
	}

	return contracted.Dropout(bm.Dropout, training), nil
}
