package model

import (
	"fmt"

	"fastformer/pkg/model/attention"
	"fastformer/pkg/tensor"
)

// Decoder is the stack of decoder layers plus the embedding-side plumbing:
// learned absolute position embeddings, input normalization, and dropout.
type Decoder struct {
	Config Config
	PosEmb *tensor.Tensor // (max_position_embeddings, hidden) - learned
	Norm   *LayerNorm
	Layers []*DecoderLayer
}

// NewDecoder creates the decoder stack for the given config.
func NewDecoder(config Config) *Decoder {
	layers := make([]*DecoderLayer, config.NumHiddenLayers)
	for i := range layers {
		attnConfig := attention.Config{
			HiddenSize: config.HiddenSize,
			Dropout:    config.HiddenDropoutProb,
		}
		attn := attention.NewAdditiveSelfAttention(attnConfig, NewLayerNorm(config.HiddenSize, 1e-5))
		layers[i] = NewDecoderLayer(config, attn)
	}

	return &Decoder{
		Config: config,
		PosEmb: tensor.NewTensor([]int{config.MaxPositionEmbeddings, config.HiddenSize}),
		Norm:   NewLayerNorm(config.HiddenSize, 1e-5),
		Layers: layers,
	}
}

// Forward runs input embeddings through the decoder stack.
//
// Input shapes:
//   - inputEmbs: (batch, seq, hidden)
//   - attentionMask: (batch, seq)
//
// Output shape: (batch, seq, hidden)
//
// Position embeddings for positions 0..seq-1 are added to every sequence in
// the batch, followed by LayerNorm and dropout, then each layer in order
// with the same attention mask.
func (d *Decoder) Forward(inputEmbs, attentionMask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if len(inputEmbs.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, hidden), got %dD with shape %v",
			len(inputEmbs.Shape), inputEmbs.Shape)
	}

	seqLen := inputEmbs.Shape[1]

	posEmbs, err := d.PosEmb.SliceN(
		[]int{0, 0},
		[]int{seqLen, d.Config.HiddenSize},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to slice position embeddings: %w", err)
	}

	// (batch, seq, hidden) + (seq, hidden): broadcast over the batch.
	embeddings, err := tensor.Add(inputEmbs, posEmbs)
	if err != nil {
		return nil, fmt.Errorf("failed to add position embeddings: %w", err)
	}

	embeddings, err = d.Norm.Forward(embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize embeddings: %w", err)
	}

	x := embeddings.Dropout(d.Config.HiddenDropoutProb, training)

	for i, layer := range d.Layers {
		x, err = layer.Forward(x, attentionMask, training)
		if err != nil {
			return nil, fmt.Errorf("failed in decoder layer %d: %w", i, err)
		}
	}

	return x, nil
}
