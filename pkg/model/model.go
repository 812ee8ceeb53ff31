package model

import (
	"fmt"
	"math"
	"math/rand"

	"fastformer/pkg/tensor"
)

// Model is the Fastformer causal language model.
//
// Architecture:
//  1. Token embeddings: lookup table (vocab, hidden), row 0 is the padding id
//  2. Decoder stack: position embeddings + N decoder layers
//  3. Output projection: tied to the token embedding table
//  4. Label-smoothed cross-entropy loss (0.1 in training, 0 in eval)
//
// TokEmb and OutProj reference the same tensor: the tying is aliasing, not a
// copy, so any in-place update to one is visible through the other.
type Model struct {
	Config   Config
	TokEmb   *tensor.Tensor // (vocab, hidden)
	OutProj  *tensor.Tensor // same storage as TokEmb (weight tying)
	Decoder  *Decoder
	Training bool // If false, dropout is disabled and loss smoothing is 0
}

// Label smoothing applied by the loss in each mode.
const (
	trainSmoothing = 0.1
	evalSmoothing  = 0.0
)

// NewModel creates and initializes a Fastformer causal LM.
func NewModel(config Config) *Model {
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	tokEmb := tensor.NewTensor([]int{config.VocabSize, config.HiddenSize})

	m := &Model{
		Config:   config,
		TokEmb:   tokEmb,
		OutProj:  tokEmb, // weight tying: two handles, one allocation
		Decoder:  NewDecoder(config),
		Training: true,
	}

	initializeWeights(m)

	return m
}

// SetTraining sets the training mode for the model. Training mode enables
// dropout and 0.1 label smoothing in the loss; eval mode disables both.
func (m *Model) SetTraining(training bool) {
	m.Training = training
}

// Forward computes the forward pass and the loss.
//
// Input shapes:
//   - inputIDs: (batch, seq) token indices
//   - labels: (batch, seq) target token indices
//   - attentionMask: (batch, seq) with 1 for real tokens and 0 for padding
//
// Returns the scalar loss and the logits tensor (batch, seq, vocab). The
// logits are returned raw so callers can compute perplexity or sample.
func (m *Model) Forward(inputIDs, labels, attentionMask *tensor.Tensor) (float32, *tensor.Tensor, error) {
	logits, err := m.Logits(inputIDs, attentionMask)
	if err != nil {
		return 0, nil, err
	}

	smoothing := float32(evalSmoothing)
	if m.Training {
		smoothing = trainSmoothing
	}

	loss, err := CrossEntropyLoss(logits, labels, smoothing)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to compute loss: %w", err)
	}

	return loss, logits, nil
}

// Logits runs the model up to the tied output projection, without the loss.
//
// Input shapes: inputIDs (batch, seq), attentionMask (batch, seq).
// Output shape: (batch, seq, vocab).
func (m *Model) Logits(inputIDs, attentionMask *tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputIDs.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D input (batch, seq), got %dD with shape %v",
			len(inputIDs.Shape), inputIDs.Shape)
	}

	embs, err := lookupEmbeddings(m.TokEmb, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup token embeddings: %w", err)
	}

	hidden, err := m.Decoder.Forward(embs, attentionMask, m.Training)
	if err != nil {
		return nil, fmt.Errorf("failed to run decoder: %w", err)
	}

	// (batch, seq, hidden) @ (vocab, hidden)^T -> (batch, seq, vocab).
	// OutProj aliases the embedding table, so this is the tied projection.
	logits, err := tensor.MatmulTransposed(hidden, m.OutProj)
	if err != nil {
		return nil, fmt.Errorf("failed to compute output logits: %w", err)
	}

	return logits, nil
}

// lookupEmbeddings performs embedding lookup for token indices.
//
// embTable: (vocab, hidden); indices: (batch, seq); output: (batch, seq, hidden).
func lookupEmbeddings(embTable, indices *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize := indices.Shape[0]
	seqLen := indices.Shape[1]
	vocabSize := embTable.Shape[0]
	hidden := embTable.Shape[1]

	output := tensor.NewTensor([]int{batchSize, seqLen, hidden})

	for b := 0; b < batchSize; b++ {
		for s := 0; s < seqLen; s++ {
			tokenID := int(indices.Get([]int{b, s}))
			if tokenID < 0 || tokenID >= vocabSize {
				return nil, fmt.Errorf("invalid token ID %d at position (%d, %d), vocab size is %d",
					tokenID, b, s, vocabSize)
			}

			srcOffset := tokenID * hidden
			dstOffset := (b*seqLen + s) * hidden
			copy(output.Data[dstOffset:dstOffset+hidden], embTable.Data[srcOffset:srcOffset+hidden])
		}
	}

	return output, nil
}

// initializeWeights initializes model weights.
//
//   - Embedding tables: N(0, 0.02), with the padding row (token 0) left zero
//   - Linear and convolution weights: Xavier uniform
//   - LayerNorm scale/shift and biases: ones/zeros (done at construction)
func initializeWeights(m *Model) {
	normalInit(m.TokEmb, 0.02)
	// Token 0 is the padding id; its embedding stays zero.
	for i := 0; i < m.Config.HiddenSize; i++ {
		m.TokEmb.Data[i] = 0
	}

	normalInit(m.Decoder.PosEmb, 0.02)

	for _, layer := range m.Decoder.Layers {
		xavierUniformInit(layer.Attn.WQuery)
		xavierUniformInit(layer.Attn.QueryAtt)
		xavierUniformInit(layer.Attn.WKey)
		xavierUniformInit(layer.Attn.KeyAtt)

		if layer.Conv != nil {
			xavierUniformInit(layer.Conv.Weight)
		}

		xavierUniformInit(layer.Boom.FC1)
		xavierUniformInit(layer.Boom.FC2)
	}
}

// normalInit fills a tensor with values from N(0, std^2).
func normalInit(t *tensor.Tensor, std float32) {
	for i := range t.Data {
		t.Data[i] = float32(rand.NormFloat64()) * std
	}
}

// xavierUniformInit fills a tensor with Xavier/Glorot uniform values,
// U[-limit, limit] with limit = sqrt(6 / (fan_in + fan_out)) over the last
// two dimensions.
func xavierUniformInit(t *tensor.Tensor) {
	if len(t.Shape) < 2 {
		for i := range t.Data {
			t.Data[i] = float32(rand.Float64()*2 - 1)
		}
		return
	}

	fanIn := t.Shape[len(t.Shape)-2]
	fanOut := t.Shape[len(t.Shape)-1]
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))

	for i := range t.Data {
		t.Data[i] = float32(rand.Float64()*2*limit - limit)
	}
}
