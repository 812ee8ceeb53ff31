package model

import (
	"fmt"
	"math"

	"fastformer/pkg/tensor"
)

// CrossEntropyLoss computes label-smoothed cross-entropy, averaged over all
// tokens with batch and sequence flattened into one axis.
//
// Given logits z over V classes and target y, per-token loss is
//
//	(1 - smoothing) * (lse - z[y]) + (smoothing / V) * sum_v (lse - z[v])
//
// where lse is the max-subtracted log-sum-exp of the row. With smoothing 0
// this reduces to standard cross-entropy.
//
// Input shapes:
//   - logits: (batch, seq, vocab)
//   - labels: (batch, seq) target token indices
func CrossEntropyLoss(logits, labels *tensor.Tensor, smoothing float32) (float32, error) {
	if len(logits.Shape) != 3 {
		return 0, fmt.Errorf("expected 3D logits (batch, seq, vocab), got %dD with shape %v",
			len(logits.Shape), logits.Shape)
	}
	if len(labels.Shape) != 2 || labels.Shape[0] != logits.Shape[0] || labels.Shape[1] != logits.Shape[1] {
		return 0, fmt.Errorf("labels shape %v doesn't match logits batch/seq dims %v",
			labels.Shape, logits.Shape[:2])
	}

	numTokens := logits.Shape[0] * logits.Shape[1]
	vocabSize := logits.Shape[2]

	totalLoss := 0.0

	for i := 0; i < numTokens; i++ {
		target := int(labels.Data[i])
		if target < 0 || target >= vocabSize {
			return 0, fmt.Errorf("invalid label %d at flat position %d, vocab size is %d",
				target, i, vocabSize)
		}

		offset := i * vocabSize

		// Max-subtracted log-sum-exp for numerical stability.
		maxLogit := logits.Data[offset]
		for v := 1; v < vocabSize; v++ {
			if logits.Data[offset+v] > maxLogit {
				maxLogit = logits.Data[offset+v]
			}
		}

		sumExp := 0.0
		sumLogits := 0.0
		for v := 0; v < vocabSize; v++ {
			z := float64(logits.Data[offset+v])
			sumExp += math.Exp(z - float64(maxLogit))
			sumLogits += z
		}
		lse := float64(maxLogit) + math.Log(sumExp)

		targetLoss := lse - float64(logits.Data[offset+target])
		uniformLoss := float64(vocabSize)*lse - sumLogits

		s := float64(smoothing)
		totalLoss += (1-s)*targetLoss + s/float64(vocabSize)*uniformLoss
	}

	return float32(totalLoss / float64(numTokens)), nil
}

// Perplexity converts an eval-mode cross-entropy loss to perplexity.
func Perplexity(loss float32) float32 {
	return float32(math.Exp(float64(loss)))
}
