package model

import (
	"fmt"

	"fastformer/pkg/model/attention"
	"fastformer/pkg/tensor"
)

// DecoderLayer composes the per-layer sub-blocks with residual connections:
//
//	x = x + CausalConv(x)        (only when the config enables convolution)
//	x = x + AdditiveAttention(x, mask)
//	x = x + Boom(x)
//
// Each sub-block normalizes its own input (pre-norm), so the layer itself
// only wires residual additions.
type DecoderLayer struct {
	Conv *CausalConv // nil when convolution is disabled
	Attn *attention.AdditiveSelfAttention
	Boom *Boom
}

// NewDecoderLayer creates one decoder layer from the shared config.
func NewDecoderLayer(config Config, attn *attention.AdditiveSelfAttention) *DecoderLayer {
	layer := &DecoderLayer{
		Attn: attn,
		Boom: NewBoom(config.HiddenSize, config.HiddenDropoutProb),
	}
	if config.Convolve {
		layer.Conv = NewCausalConv(config.HiddenSize, config.KernelSize, config.Groups, config.HiddenDropoutProb)
	}
	return layer
}

// Forward runs the layer pipeline.
//
// Input shapes:
//   - hiddenStates: (batch, seq, hidden)
//   - attentionMask: (batch, seq)
//
// Output shape: (batch, seq, hidden)
func (l *DecoderLayer) Forward(hiddenStates, attentionMask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	x := hiddenStates

	if l.Conv != nil {
		convOut, err := l.Conv.Forward(x, training)
		if err != nil {
			return nil, fmt.Errorf("failed to compute causal convolution: %w", err)
		}
		x, err = tensor.Add(x, convOut)
		if err != nil {
			return nil, fmt.Errorf("failed to add convolution residual: %w", err)
		}
	}

	attnOut, err := l.Attn.Forward(x, attentionMask, training)
	if err != nil {
		return nil, fmt.Errorf("failed to compute additive attention: %w", err)
	}
	x, err = tensor.Add(x, attnOut)
	if err != nil {
		return nil, fmt.Errorf("failed to add attention residual: %w", err)
	}

	boomOut, err := l.Boom.Forward(x, training)
	if err != nil {
		return nil, fmt.Errorf("failed to compute boom block: %w", err)
	}
	x, err = tensor.Add(x, boomOut)
	if err != nil {
		return nil, fmt.Errorf("failed to add boom residual: %w", err)
	}

	return x, nil
}
