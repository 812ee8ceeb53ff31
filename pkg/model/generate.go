package model

import (
	"fmt"
	"math"

	"fastformer/pkg/tensor"
)

// Generate produces new tokens with greedy (argmax) decoding.
//
// The whole prefix is re-run through the model at every step; additive
// attention is linear in sequence length, so generation stays quadratic
// overall rather than cubic.
//
// Parameters:
//   - m: the model; forced into eval mode for the duration of the call
//   - idx: initial token indices, shape (batch, seq)
//   - maxNewTokens: number of tokens to generate
//
// Returns token indices of shape (batch, seq + maxNewTokens).
func Generate(m *Model, idx *tensor.Tensor, maxNewTokens int) (*tensor.Tensor, error) {
	if len(idx.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D input (batch, seq), got %dD with shape %v", len(idx.Shape), idx.Shape)
	}

	batchSize := idx.Shape[0]
	contextSize := m.Config.MaxPositionEmbeddings

	wasTraining := m.Training
	m.SetTraining(false)
	defer m.SetTraining(wasTraining)

	for i := 0; i < maxNewTokens; i++ {
		// Crop the context to the last contextSize tokens.
		idxCond := idx
		if idx.Shape[1] > contextSize {
			var err error
			idxCond, err = idx.SliceN(
				[]int{0, idx.Shape[1] - contextSize},
				[]int{batchSize, idx.Shape[1]},
			)
			if err != nil {
				return nil, fmt.Errorf("failed to crop context at step %d: %w", i, err)
			}
		}

		// All generated positions are real tokens.
		mask := onesMask(batchSize, idxCond.Shape[1])

		logits, err := m.Logits(idxCond, mask)
		if err != nil {
			return nil, fmt.Errorf("model forward pass failed at step %d: %w", i, err)
		}

		logitsLast, err := extractLastToken(logits)
		if err != nil {
			return nil, fmt.Errorf("failed to extract last token at step %d: %w", i, err)
		}

		idxNext, err := argmax(logitsLast)
		if err != nil {
			return nil, fmt.Errorf("failed to compute argmax at step %d: %w", i, err)
		}

		idx, err = tensor.Concatenate([]*tensor.Tensor{idx, idxNext}, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to concatenate at step %d: %w", i, err)
		}
	}

	return idx, nil
}

// onesMask builds an all-ones attention mask of shape (batch, seq).
func onesMask(batchSize, seqLen int) *tensor.Tensor {
	mask := tensor.NewTensor([]int{batchSize, seqLen})
	for i := range mask.Data {
		mask.Data[i] = 1
	}
	return mask
}

// extractLastToken extracts the logits for the last sequence position.
//
// Input shape: (batch, seq, vocab); output shape: (batch, vocab).
func extractLastToken(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, vocab), got %dD", len(logits.Shape))
	}

	batchSize := logits.Shape[0]
	seqLen := logits.Shape[1]
	vocabSize := logits.Shape[2]

	result, err := logits.SliceN(
		[]int{0, seqLen - 1, 0},
		[]int{batchSize, seqLen, vocabSize},
	)
	if err != nil {
		return nil, err
	}

	// SliceN returns (batch, 1, vocab); squeeze to (batch, vocab).
	return result.View([]int{batchSize, vocabSize})
}

// argmax returns the index of the maximum value along the last dimension.
//
// Input shape: (batch, vocab); output shape: (batch, 1).
func argmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D input (batch, vocab), got %dD", len(logits.Shape))
	}

	batchSize := logits.Shape[0]
	vocabSize := logits.Shape[1]

	result := tensor.NewTensor([]int{batchSize, 1})

	for b := 0; b < batchSize; b++ {
		maxIdx := 0
		maxVal := float32(math.Inf(-1))
		for v := 0; v < vocabSize; v++ {
			if val := logits.Get([]int{b, v}); val > maxVal {
				maxVal = val
				maxIdx = v
			}
		}
		result.Set([]int{b, 0}, float32(maxIdx))
	}

	return result, nil
}
