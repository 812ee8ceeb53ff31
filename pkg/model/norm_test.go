package model

import (
	"math"
	"testing"

	"fastformer/pkg/tensor"
)

func TestNewLayerNorm(t *testing.T) {
	ln := NewLayerNorm(8, 1e-5)

	for i, v := range ln.Scale.Data {
		if v != 1.0 {
			t.Errorf("Scale[%d] = %v, expected 1.0", i, v)
		}
	}
	for i, v := range ln.Shift.Data {
		if v != 0.0 {
			t.Errorf("Shift[%d] = %v, expected 0.0", i, v)
		}
	}
}

func TestLayerNorm_NormalizesEachPosition(t *testing.T) {
	hidden := 8
	ln := NewLayerNorm(hidden, 1e-5)

	input := tensor.NewTensor([]int{1, 2, hidden})
	for d := 0; d < hidden; d++ {
		input.Set([]int{0, 0, d}, float32(d*10+100))
		input.Set([]int{0, 1, d}, float32(d)*-3)
	}

	output, err := ln.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// With scale=1 and shift=0 every position ends up with mean≈0, var≈1.
	for s := 0; s < 2; s++ {
		mean := float32(0)
		for d := 0; d < hidden; d++ {
			mean += output.Get([]int{0, s, d})
		}
		mean /= float32(hidden)

		variance := float32(0)
		for d := 0; d < hidden; d++ {
			diff := output.Get([]int{0, s, d}) - mean
			variance += diff * diff
		}
		variance /= float32(hidden)

		if math.Abs(float64(mean)) > 1e-5 {
			t.Errorf("position %d mean = %v, expected ~0", s, mean)
		}
		if math.Abs(float64(variance)-1) > 1e-3 {
			t.Errorf("position %d variance = %v, expected ~1", s, variance)
		}
	}
}

func TestLayerNorm_KnownValue(t *testing.T) {
	ln := NewLayerNorm(4, 1e-5)

	input := tensor.NewTensorFromData([]float32{1, 2, 3, 4}, []int{1, 1, 4})

	output, err := ln.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// mean = 2.5, var = 1.25: first element normalizes to (1-2.5)/sqrt(1.25).
	want := float32(-1.3416408)
	if math.Abs(float64(output.Data[0]-want)) > 1e-5 {
		t.Errorf("first element = %v, expected %v", output.Data[0], want)
	}
}

func TestLayerNorm_ScaleAndShiftApplied(t *testing.T) {
	ln := NewLayerNorm(2, 1e-5)
	ln.Scale.Data[0] = 2
	ln.Shift.Data[1] = 5

	input := tensor.NewTensorFromData([]float32{-1, 1}, []int{1, 1, 2})

	output, err := ln.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Normalized input is very nearly [-1, 1] already.
	if math.Abs(float64(output.Data[0]+2)) > 1e-2 {
		t.Errorf("scaled element = %v, expected ~-2", output.Data[0])
	}
	if math.Abs(float64(output.Data[1]-6)) > 1e-2 {
		t.Errorf("shifted element = %v, expected ~6", output.Data[1])
	}
}

func TestLayerNorm_DimensionMismatch(t *testing.T) {
	ln := NewLayerNorm(4, 1e-5)
	input := tensor.NewTensor([]int{1, 2, 6})

	if _, err := ln.Forward(input); err == nil {
		t.Fatal("expected error for dimension mismatch, got nil")
	}
}
