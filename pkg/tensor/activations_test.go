package tensor

import (
	"math"
	"testing"
)

func TestGELU_KnownValues(t *testing.T) {
	tests := []struct {
		x   float32
		exp float32
	}{
		{0, 0},
		{1, 0.8412},
		{-1, -0.1588},
		{2, 1.9546},
		{-2, -0.0454},
	}

	for _, tc := range tests {
		tn := NewTensorFromData([]float32{tc.x}, []int{1})
		got := tn.GELU().Data[0]
		if math.Abs(float64(got-tc.exp)) > 1e-3 {
			t.Errorf("GELU(%v) = %v, expected %v", tc.x, got, tc.exp)
		}
	}
}

func TestGELU_ShapePreserved(t *testing.T) {
	tn := NewTensor([]int{2, 3, 4})
	result := tn.GELU()

	if !result.ShapeEquals(tn) {
		t.Errorf("GELU changed shape: %v -> %v", tn.Shape, result.Shape)
	}
}

func TestGELU_ApproachesIdentityForLargeInputs(t *testing.T) {
	// For large positive x, GELU(x) ≈ x; for large negative x, GELU(x) ≈ 0.
	tn := NewTensorFromData([]float32{10, -10}, []int{2})
	result := tn.GELU()

	if math.Abs(float64(result.Data[0]-10)) > 1e-4 {
		t.Errorf("GELU(10) = %v, expected ~10", result.Data[0])
	}
	if math.Abs(float64(result.Data[1])) > 1e-4 {
		t.Errorf("GELU(-10) = %v, expected ~0", result.Data[1])
	}
}
