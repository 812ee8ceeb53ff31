package model

import (
	"math"
	"testing"

	"fastformer/pkg/tensor"

	"github.com/google/go-cmp/cmp"
)

func testModelConfig() Config {
	return Config{
		HiddenSize:            8,
		NumHiddenLayers:       1,
		VocabSize:             16,
		MaxPositionEmbeddings: 16,
		HiddenDropoutProb:     0,
		KernelSize:            3,
		Groups:                8,
		Convolve:              false,
		NumAttentionHeads:     1,
	}
}

func idsTensor(t *testing.T, ids []float32, batch, seq int) *tensor.Tensor {
	t.Helper()
	tn, err := tensor.FromSlice(ids, []int{batch, seq})
	if err != nil {
		t.Fatalf("failed to build id tensor: %v", err)
	}
	return tn
}

func TestModel_EndToEnd(t *testing.T) {
	// batch=1, seq=4, hidden=8, vocab=16, one layer, no convolution.
	m := NewModel(testModelConfig())
	m.SetTraining(false)

	inputs := idsTensor(t, []float32{1, 2, 3, 4}, 1, 4)
	labels := idsTensor(t, []float32{2, 3, 4, 0}, 1, 4)
	mask := onesMask(1, 4)

	loss, logits, err := m.Forward(inputs, labels, mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if diff := cmp.Diff([]int{1, 4, 16}, logits.Shape); diff != "" {
		t.Errorf("logits shape mismatch (-want +got):\n%s", diff)
	}
	if math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) || loss <= 0 {
		t.Errorf("loss = %v, expected a finite positive scalar", loss)
	}

	// Perturbing the 4th token must change only the 4th position's logits.
	perturbed := idsTensor(t, []float32{1, 2, 3, 7}, 1, 4)
	_, logits2, err := m.Forward(perturbed, labels, mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	for s := 0; s < 3; s++ {
		for v := 0; v < 16; v++ {
			if logits.Get([]int{0, s, v}) != logits2.Get([]int{0, s, v}) {
				t.Errorf("perturbing token 4 changed logits at earlier position %d", s)
			}
		}
	}
	changed := false
	for v := 0; v < 16; v++ {
		if logits.Get([]int{0, 3, v}) != logits2.Get([]int{0, 3, v}) {
			changed = true
			break
		}
	}
	if !changed {
		t.Errorf("perturbing token 4 did not change logits at position 4")
	}
}

func TestModel_StackCausalityWithConvolution(t *testing.T) {
	config := testModelConfig()
	config.Convolve = true
	config.NumHiddenLayers = 2
	m := NewModel(config)
	m.SetTraining(false)

	seq := 6
	inputs := idsTensor(t, []float32{1, 2, 3, 4, 5, 6}, 1, seq)
	mask := onesMask(1, seq)

	base, err := m.Logits(inputs, mask)
	if err != nil {
		t.Fatalf("Logits failed: %v", err)
	}

	for j := 1; j < seq; j++ {
		perturbed := inputs.Clone()
		perturbed.Set([]int{0, j}, 9)

		logits, err := m.Logits(perturbed, mask)
		if err != nil {
			t.Fatalf("Logits failed: %v", err)
		}

		for i := 0; i < j; i++ {
			for v := 0; v < config.VocabSize; v++ {
				if base.Get([]int{0, i, v}) != logits.Get([]int{0, i, v}) {
					t.Errorf("perturbing position %d changed logits at earlier position %d", j, i)
				}
			}
		}
	}
}

func TestModel_WeightTying(t *testing.T) {
	m := NewModel(testModelConfig())

	// The output projection must alias the embedding table, not copy it.
	if m.TokEmb != m.OutProj {
		t.Fatal("TokEmb and OutProj are different tensors, tying must share storage")
	}
	if &m.TokEmb.Data[0] != &m.OutProj.Data[0] {
		t.Fatal("TokEmb and OutProj have separate backing arrays")
	}

	// An in-place write through one handle is visible through the other.
	m.TokEmb.Set([]int{5, 0}, 123)
	if got := m.OutProj.Get([]int{5, 0}); got != 123 {
		t.Errorf("mutation through TokEmb not visible in OutProj: got %v", got)
	}
}

func TestModel_TiedProjectionTracksEmbeddingUpdates(t *testing.T) {
	// Zeroing a token's embedding must zero its logit contribution too:
	// logits[v] is a dot product against embedding row v.
	m := NewModel(testModelConfig())
	m.SetTraining(false)

	inputs := idsTensor(t, []float32{1, 2}, 1, 2)
	mask := onesMask(1, 2)

	target := 9
	for d := 0; d < m.Config.HiddenSize; d++ {
		m.TokEmb.Set([]int{target, d}, 0)
	}

	logits, err := m.Logits(inputs, mask)
	if err != nil {
		t.Fatalf("Logits failed: %v", err)
	}

	for s := 0; s < 2; s++ {
		if got := logits.Get([]int{0, s, target}); got != 0 {
			t.Errorf("logit for zeroed embedding row = %v, expected 0", got)
		}
	}
}

func TestModel_LossSmoothingDiffersBetweenModes(t *testing.T) {
	// Dropout is 0 in the test config, so the only difference between the
	// modes is the label smoothing applied by the loss.
	m := NewModel(testModelConfig())

	inputs := idsTensor(t, []float32{1, 2, 3, 4}, 1, 4)
	labels := idsTensor(t, []float32{2, 3, 4, 0}, 1, 4)
	mask := onesMask(1, 4)

	m.SetTraining(true)
	trainLoss, _, err := m.Forward(inputs, labels, mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	m.SetTraining(false)
	evalLoss, _, err := m.Forward(inputs, labels, mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if trainLoss == evalLoss {
		t.Errorf("train loss %v equals eval loss, expected label smoothing to differ", trainLoss)
	}
}

func TestModel_EvalDeterminism(t *testing.T) {
	m := NewModel(testModelConfig())
	m.SetTraining(false)

	inputs := idsTensor(t, []float32{3, 1, 4, 1}, 1, 4)
	labels := idsTensor(t, []float32{1, 4, 1, 5}, 1, 4)
	mask := onesMask(1, 4)

	loss1, logits1, err := m.Forward(inputs, labels, mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	loss2, logits2, err := m.Forward(inputs, labels, mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if loss1 != loss2 {
		t.Errorf("eval losses differ: %v vs %v", loss1, loss2)
	}
	if diff := cmp.Diff(logits1.Data, logits2.Data); diff != "" {
		t.Errorf("eval logits differ (-first +second):\n%s", diff)
	}
}

func TestModel_MaskedPositionsStayFinite(t *testing.T) {
	m := NewModel(testModelConfig())
	m.SetTraining(false)

	inputs := idsTensor(t, []float32{1, 2, 0, 0}, 1, 4)
	labels := idsTensor(t, []float32{2, 0, 0, 0}, 1, 4)
	mask := idsTensor(t, []float32{1, 1, 0, 0}, 1, 4)

	loss, logits, err := m.Forward(inputs, labels, mask)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) {
		t.Errorf("loss = %v, expected finite value", loss)
	}
	for i, v := range logits.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("logits[%d] = %v, expected finite value", i, v)
		}
	}
}

func TestModel_InvalidTokenID(t *testing.T) {
	m := NewModel(testModelConfig())

	inputs := idsTensor(t, []float32{1, 99}, 1, 2)
	labels := idsTensor(t, []float32{1, 1}, 1, 2)
	mask := onesMask(1, 2)

	if _, _, err := m.Forward(inputs, labels, mask); err == nil {
		t.Fatal("expected error for out-of-vocab token id, got nil")
	}
}

func TestModel_PaddingEmbeddingIsZero(t *testing.T) {
	m := NewModel(testModelConfig())

	for d := 0; d < m.Config.HiddenSize; d++ {
		if got := m.TokEmb.Get([]int{0, d}); got != 0 {
			t.Errorf("padding embedding dim %d = %v, expected 0", d, got)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := testModelConfig()
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := valid
	bad.HiddenSize = 0
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for zero hidden size")
	}

	bad = valid
	bad.Convolve = true
	bad.Groups = 3 // 8 % 3 != 0
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for indivisible groups")
	}

	bad = valid
	bad.NumAttentionHeads = 2
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for multi-head config")
	}
}
