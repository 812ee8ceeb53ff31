// Package attention implements the causal additive self-attention used by
// the Fastformer decoder.
//
// Instead of a pairwise score matrix, each token gets a scalar attention
// weight from a learned projection, and context is aggregated with
// exponentially weighted cumulative averages along the sequence. The prefix
// nature of the cumulative sums is what enforces causality: position i only
// ever sees positions <= i.
package attention

import (
	"fmt"
	"math"

	"fastformer/pkg/tensor"
)

// maskBias is the additive bias applied to padding positions before the
// exponential. Large enough to suppress padding, small enough to stay finite.
const maskBias = -10000.0

// minPoolWeight floors the cumulative weight sum. exp(maskBias) underflows
// to exactly zero, so a fully masked prefix would otherwise divide 0/0; the
// floor keeps those rows finite without affecting unmasked rows, whose
// weight sums are many orders of magnitude larger.
const minPoolWeight = 1e-30

// Normalizer is the layer-normalization dependency, injected by the model
// package to avoid a circular import.
type Normalizer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// Config holds configuration for AdditiveSelfAttention.
type Config struct {
	HiddenSize int
	Dropout    float32
}

// AdditiveSelfAttention implements single-head causal additive attention.
//
// The values tensor reuses the query projection (no separate value weights).
// This is the parameter-saving choice from section 3.1 of the Fastformer
// paper, kept deliberately.
type AdditiveSelfAttention struct {
	WQuery   *tensor.Tensor // (hidden, hidden), no bias
	QueryAtt *tensor.Tensor // (hidden, 1) scalar attention projection, no bias
	WKey     *tensor.Tensor // (hidden, hidden), no bias
	KeyAtt   *tensor.Tensor // (hidden, 1) scalar attention projection, no bias
	Norm     Normalizer
	Dropout  float32
	scale    float32 // 1/sqrt(hidden)
}

// NewAdditiveSelfAttention creates a new additive attention layer.
// Weights are zero; the model initializes them along with everything else.
func NewAdditiveSelfAttention(config Config, norm Normalizer) *AdditiveSelfAttention {
	d := config.HiddenSize
	return &AdditiveSelfAttention{
		WQuery:   tensor.NewTensor([]int{d, d}),
		QueryAtt: tensor.NewTensor([]int{d, 1}),
		WKey:     tensor.NewTensor([]int{d, d}),
		KeyAtt:   tensor.NewTensor([]int{d, 1}),
		Norm:     norm,
		Dropout:  config.Dropout,
		scale:    float32(1.0 / math.Sqrt(float64(d))),
	}
}

// Forward computes causal additive attention.
//
// Input shapes:
//   - hiddenStates: (batch, seq, hidden)
//   - attentionMask: (batch, seq) with 1 for real tokens and 0 for padding
//   - training: if true, apply dropout
//
// Output shape: (batch, seq, hidden)
//
// Steps:
//  1. Pre-normalize, project to query and keys; values alias the query
//  2. Scalar query weights: exp(QueryAtt(query)/sqrt(d) + mask bias)
//  3. Pooled query: cumsum(w*query) / cumsum(w) along the sequence
//  4. Mix: pooled query (elementwise) keys
//  5. Repeat the scalar-weight pooling on the mixed keys
//  6. Output: pooled keys (elementwise) values, then dropout
func (a *AdditiveSelfAttention) Forward(hiddenStates, attentionMask *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if len(hiddenStates.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, hidden), got %dD with shape %v",
			len(hiddenStates.Shape), hiddenStates.Shape)
	}

	batchSize, seqLen, d := hiddenStates.Shape[0], hiddenStates.Shape[1], hiddenStates.Shape[2]

	if d != a.WQuery.Shape[0] {
		return nil, fmt.Errorf("input hidden dimension %d doesn't match WQuery shape %v",
			d, a.WQuery.Shape)
	}
	if len(attentionMask.Shape) != 2 || attentionMask.Shape[0] != batchSize || attentionMask.Shape[1] != seqLen {
		return nil, fmt.Errorf("attention mask shape %v doesn't match hidden states (batch=%d, seq=%d)",
			attentionMask.Shape, batchSize, seqLen)
	}

	normed, err := a.Norm.Forward(hiddenStates)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize attention input: %w", err)
	}

	query, err := tensor.Matmul(normed, a.WQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to compute query projection: %w", err)
	}

	keys, err := tensor.Matmul(normed, a.WKey)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key projection: %w", err)
	}

	// Parameter saving: no value projection, values reuse the query.
	values := query

	// (batch, seq, 1) additive bias: 0 for real tokens, -10000 for padding,
	// broadcast over the pooling axis.
	bias := tensor.NewTensor([]int{batchSize, seqLen, 1})
	for i, m := range attentionMask.Data {
		bias.Data[i] = (1 - m) * maskBias
	}

	pooledQuery, err := a.causalPool(query, bias, a.QueryAtt)
	if err != nil {
		return nil, fmt.Errorf("failed to pool query: %w", err)
	}

	// "p_i = q * k_i" in the paper
	mixedKeys, err := tensor.Mul(pooledQuery, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to mix pooled query with keys: %w", err)
	}

	pooledKeys, err := a.causalPool(mixedKeys, bias, a.KeyAtt)
	if err != nil {
		return nil, fmt.Errorf("failed to pool keys: %w", err)
	}

	// "u_i = k * v_i" in the paper
	weightedValues, err := tensor.Mul(pooledKeys, values)
	if err != nil {
		return nil, fmt.Errorf("failed to weight values: %w", err)
	}

	// Dropout last, like Megatron.
	return weightedValues.Dropout(a.Dropout, training), nil
}

// causalPool computes the exponentially weighted cumulative average of x
// along the sequence axis.
//
// x: (batch, seq, hidden), bias: (batch, seq, 1), attVec: (hidden, 1).
// Returns (batch, seq, hidden) where position i is a weighted average over
// positions 0..i:
//
//	w = exp(attVec(x)/sqrt(d) + bias)
//	pooled[i] = cumsum(w * x)[i] / cumsum(w)[i]
//
// The exponential is deliberately unstabilized (no max subtraction) to match
// the reference behavior. The denominator is floored at minPoolWeight so a
// fully masked prefix stays finite instead of dividing 0/0; such rows are
// nonsense by construction and merely need to not poison the batch with NaN.
func (a *AdditiveSelfAttention) causalPool(x, bias, attVec *tensor.Tensor) (*tensor.Tensor, error) {
	weight, err := tensor.Matmul(x, attVec)
	if err != nil {
		return nil, fmt.Errorf("failed to compute scalar attention weights: %w", err)
	}

	weight, err = tensor.Add(weight.Scale(a.scale), bias)
	if err != nil {
		return nil, fmt.Errorf("failed to apply mask bias: %w", err)
	}
	weight = weight.Exp()

	weighted, err := tensor.Mul(weight, x)
	if err != nil {
		return nil, fmt.Errorf("failed to apply attention weights: %w", err)
	}

	numerator, err := tensor.CumSum(weighted, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to accumulate weighted values: %w", err)
	}

	denominator, err := tensor.CumSum(weight, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to accumulate weights: %w", err)
	}
	for i, v := range denominator.Data {
		if v < minPoolWeight {
			denominator.Data[i] = minPoolWeight
		}
	}

	pooled, err := tensor.Div(numerator, denominator)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize pooled values: %w", err)
	}

	return pooled, nil
}
