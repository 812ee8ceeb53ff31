// Package model implements a Fastformer decoder for causal language modeling.
//
// The architecture replaces pairwise self-attention with additive attention:
// scalar per-token attention weights pooled with cumulative sums along the
// sequence, which keeps the computation linear in sequence length and makes
// the causal masking a property of the pooling itself.
//
// Key features:
//   - Causal additive self-attention (values share the query projection)
//   - Optional causal depthwise convolution per layer
//   - "Boom" feed-forward block (4x expand, GELU, contract)
//   - Learned absolute position embeddings
//   - Weight-tied output projection with label-smoothed cross-entropy loss
package model

import "fmt"

// Config holds the model hyperparameters for the Fastformer architecture.
// It is constructed once and read-only thereafter; all layers share it.
type Config struct {
	// HiddenSize is the dimension of hidden states and embeddings
	HiddenSize int

	// NumHiddenLayers is the number of decoder layers in the stack
	NumHiddenLayers int

	// VocabSize is the size of the token vocabulary
	VocabSize int

	// MaxPositionEmbeddings is the maximum sequence length with a learned
	// position embedding; longer sequences are the caller's responsibility
	MaxPositionEmbeddings int

	// HiddenDropoutProb is the dropout rate applied throughout the model
	HiddenDropoutProb float32

	// KernelSize is the width of the causal convolution kernel
	KernelSize int

	// Groups is the number of groups for the causal convolution
	// (depthwise when Groups == HiddenSize)
	Groups int

	// Convolve enables the causal convolution sub-block in each layer
	Convolve bool

	// NumAttentionHeads is the number of attention heads.
	// The additive attention currently supports a single head only.
	NumAttentionHeads int
}

// DefaultConfig returns a small Fastformer configuration suitable for
// experimentation on modest hardware.
func DefaultConfig() Config {
	return Config{
		HiddenSize:            256,
		NumHiddenLayers:       4,
		VocabSize:             8192,
		MaxPositionEmbeddings: 512,
		HiddenDropoutProb:     0.1,
		KernelSize:            3,
		Groups:                256,
		Convolve:              true,
		NumAttentionHeads:     1,
	}
}

// Validate checks if the configuration is valid and consistent.
// Returns an error if any parameters are incompatible.
func (c Config) Validate() error {
	if c.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	}
	if c.NumHiddenLayers <= 0 {
		return fmt.Errorf("num_hidden_layers must be positive, got %d", c.NumHiddenLayers)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("vocab_size must be positive, got %d", c.VocabSize)
	}
	if c.MaxPositionEmbeddings <= 0 {
		return fmt.Errorf("max_position_embeddings must be positive, got %d", c.MaxPositionEmbeddings)
	}
	if c.HiddenDropoutProb < 0 || c.HiddenDropoutProb >= 1 {
		return fmt.Errorf("hidden_dropout_prob must be in [0, 1), got %g", c.HiddenDropoutProb)
	}
	if c.NumAttentionHeads != 1 {
		return fmt.Errorf("num_attention_heads must be 1 (additive attention is single-head), got %d", c.NumAttentionHeads)
	}
	if c.Convolve {
		if c.KernelSize < 1 {
			return fmt.Errorf("kernel_size must be at least 1, got %d", c.KernelSize)
		}
		if c.Groups < 1 || c.HiddenSize%c.Groups != 0 {
			return fmt.Errorf("hidden_size (%d) must be divisible by groups (%d)",
				c.HiddenSize, c.Groups)
		}
	}
	return nil
}
