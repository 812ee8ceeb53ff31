// Package tensor provides basic tensor operations for the Fastformer model.
// This is a simplified implementation focused on the needs of an additive
// attention decoder: batched linear projections, broadcasting elementwise
// arithmetic, and cumulative sums along the sequence axis.
package tensor

import (
	"fmt"
	"math"
	"strings"
)

// Tensor represents a multi-dimensional array of float32 values.
// It stores data in a flat slice with shape information for indexing.
type Tensor struct {
	Data    []float32 // Flattened data storage
	Shape   []int     // Dimensions (e.g., [batch, seq, hidden])
	Strides []int     // Precomputed strides for indexing
}

// computeStrides returns row-major strides for the given shape.
func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// NewTensor creates a new tensor with the given shape, initialized to zeros.
func NewTensor(shape []int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}

	return &Tensor{
		Data:    make([]float32, size),
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}
}

// FromSlice creates a tensor from existing data with the given shape.
// The data is copied. Returns an error if data size doesn't match the shape.
func FromSlice(data []float32, shape []int) (*Tensor, error) {
	expectedSize := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		expectedSize *= dim
	}
	if len(data) != expectedSize {
		return nil, fmt.Errorf("data size %d does not match shape %v (expected %d elements)",
			len(data), shape, expectedSize)
	}

	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)

	return &Tensor{
		Data:    dataCopy,
		Shape:   copyShape(shape),
		Strides: computeStrides(shape),
	}, nil
}

// NewTensorFromData creates a tensor from existing data with the given shape.
// Unlike FromSlice it panics on a size mismatch; use it when the shape is
// statically known to be correct.
func NewTensorFromData(data []float32, shape []int) *Tensor {
	t, err := FromSlice(data, shape)
	if err != nil {
		panic(err)
	}
	return t
}

// View returns a new tensor with a different shape sharing the same
// underlying data. Returns an error if total size doesn't match.
func (t *Tensor) View(newShape []int) (*Tensor, error) {
	newSize := 1
	for _, dim := range newShape {
		if dim < 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, newShape)
		}
		newSize *= dim
	}

	if newSize != len(t.Data) {
		return nil, fmt.Errorf("cannot view tensor of size %d as shape %v (total size %d)",
			len(t.Data), newShape, newSize)
	}

	return &Tensor{
		Data:    t.Data,
		Shape:   copyShape(newShape),
		Strides: computeStrides(newShape),
	}, nil
}

// Reshape returns a view with a different shape (same underlying data).
// Panics if the total size doesn't match.
func (t *Tensor) Reshape(newShape []int) *Tensor {
	result, err := t.View(newShape)
	if err != nil {
		panic(err)
	}
	return result
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// NumDims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) NumDims() int {
	return len(t.Shape)
}

// FlatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) FlatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("indices length %d does not match shape dimensions %d",
			len(indices), len(t.Shape)))
	}

	idx := 0
	for i := 0; i < len(t.Shape); i++ {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d with size %d",
				indices[i], i, t.Shape[i]))
		}
		idx += indices[i] * t.Strides[i]
	}
	return idx
}

// Get retrieves a value at the specified indices.
func (t *Tensor) Get(indices []int) float32 {
	return t.Data[t.FlatIndex(indices)]
}

// Set sets a value at the specified indices.
func (t *Tensor) Set(indices []int, value float32) {
	t.Data[t.FlatIndex(indices)] = value
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return NewTensorFromData(t.Data, t.Shape)
}

// Equals checks if two tensors have the same shape and approximately equal values.
func (t *Tensor) Equals(other *Tensor, tolerance float32) bool {
	if !t.ShapeEquals(other) {
		return false
	}
	for i := range t.Data {
		if math.Abs(float64(t.Data[i]-other.Data[i])) > float64(tolerance) {
			return false
		}
	}
	return true
}

// ShapeEquals checks if two tensors have the same shape.
func (t *Tensor) ShapeEquals(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// SliceN extracts a sub-tensor from the given ranges for all dimensions.
func (t *Tensor) SliceN(starts, ends []int) (*Tensor, error) {
	if len(starts) != len(t.Shape) || len(ends) != len(t.Shape) {
		return nil, fmt.Errorf("starts and ends must have same length as tensor dimensions (%d), got %d and %d",
			len(t.Shape), len(starts), len(ends))
	}

	newShape := make([]int, len(t.Shape))
	for i := 0; i < len(t.Shape); i++ {
		if starts[i] < 0 || starts[i] > t.Shape[i] {
			return nil, fmt.Errorf("invalid start index %d for dimension %d with size %d", starts[i], i, t.Shape[i])
		}
		if ends[i] < starts[i] || ends[i] > t.Shape[i] {
			return nil, fmt.Errorf("invalid end index %d for dimension %d (start=%d, size=%d)", ends[i], i, starts[i], t.Shape[i])
		}
		newShape[i] = ends[i] - starts[i]
	}

	result := NewTensor(newShape)

	srcIndices := make([]int, len(t.Shape))
	dstIndices := make([]int, len(t.Shape))

	var copyData func(dim int)
	copyData = func(dim int) {
		if dim == len(t.Shape) {
			result.Data[result.FlatIndex(dstIndices)] = t.Data[t.FlatIndex(srcIndices)]
			return
		}
		for i := 0; i < newShape[dim]; i++ {
			srcIndices[dim] = starts[dim] + i
			dstIndices[dim] = i
			copyData(dim + 1)
		}
	}

	copyData(0)
	return result, nil
}

// Matmul multiplies a by a 2D weight matrix. Supported forms:
//
//	(m, n) @ (n, p)        -> (m, p)
//	(batch, m, n) @ (n, p) -> (batch, m, p)
//
// The 3D form broadcasts the 2D weight over the batch dimension, which is
// how every linear projection in the model is applied.
func Matmul(a, b *Tensor) (*Tensor, error) {
	if len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires a 2D right operand, got %dD with shape %v",
			len(b.Shape), b.Shape)
	}

	n, p := b.Shape[0], b.Shape[1]

	switch len(a.Shape) {
	case 2:
		if a.Shape[1] != n {
			return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v", a.Shape, b.Shape)
		}
		m := a.Shape[0]
		result := NewTensor([]int{m, p})
		matmulRows(result.Data, a.Data, b.Data, m, n, p)
		return result, nil
	case 3:
		if a.Shape[2] != n {
			return nil, fmt.Errorf("incompatible shapes for matmul: %v and %v", a.Shape, b.Shape)
		}
		batch, m := a.Shape[0], a.Shape[1]
		result := NewTensor([]int{batch, m, p})
		matmulRows(result.Data, a.Data, b.Data, batch*m, n, p)
		return result, nil
	default:
		return nil, fmt.Errorf("matmul requires a 2D or 3D left operand, got %dD with shape %v",
			len(a.Shape), a.Shape)
	}
}

// matmulRows computes out[i][k] = sum_j a[i][j] * b[j][k] over flattened rows.
func matmulRows(out, a, b []float32, rows, n, p int) {
	for i := 0; i < rows; i++ {
		for k := 0; k < p; k++ {
			sum := float32(0)
			for j := 0; j < n; j++ {
				sum += a[i*n+j] * b[j*p+k]
			}
			out[i*p+k] = sum
		}
	}
}

// MatmulTransposed computes a @ b^T for a 3D left and 2D right operand:
//
//	(batch, m, n) @ (p, n)^T -> (batch, m, p)
//
// This is the output-projection form: hidden states projected through a
// (vocab, hidden) embedding table without materializing its transpose.
func MatmulTransposed(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 3 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("transposed matmul requires 3D and 2D operands, got shapes %v and %v",
			a.Shape, b.Shape)
	}

	batch, m, n := a.Shape[0], a.Shape[1], a.Shape[2]
	p, n2 := b.Shape[0], b.Shape[1]
	if n != n2 {
		return nil, fmt.Errorf("incompatible shapes for transposed matmul: %v and %v", a.Shape, b.Shape)
	}

	result := NewTensor([]int{batch, m, p})
	rows := batch * m
	for i := 0; i < rows; i++ {
		for k := 0; k < p; k++ {
			sum := float32(0)
			for j := 0; j < n; j++ {
				sum += a.Data[i*n+j] * b.Data[k*n+j]
			}
			result.Data[i*p+k] = sum
		}
	}

	return result, nil
}

// CumSum computes the cumulative (prefix) sum along the given dimension.
// Position i of the result holds the sum of positions 0..i of the input.
func CumSum(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(t.Shape))
	}

	result := t.Clone()

	dimSize := t.Shape[dim]
	stride := t.Strides[dim]

	// The tensor decomposes into independent lanes along dim: outer blocks
	// of size dimSize*stride, each holding stride interleaved lanes.
	outer := 1
	if dimSize*stride > 0 {
		outer = len(t.Data) / (dimSize * stride)
	}
	for o := 0; o < outer; o++ {
		base := o * dimSize * stride
		for lane := 0; lane < stride; lane++ {
			for i := 1; i < dimSize; i++ {
				idx := base + i*stride + lane
				result.Data[idx] += result.Data[idx-stride]
			}
		}
	}

	return result, nil
}

// Exp applies the exponential function element-wise.
func (t *Tensor) Exp() *Tensor {
	result := NewTensor(t.Shape)
	for i := range t.Data {
		result.Data[i] = float32(math.Exp(float64(t.Data[i])))
	}
	return result
}

// Scale multiplies all elements by a scalar.
func (t *Tensor) Scale(s float32) *Tensor {
	result := NewTensor(t.Shape)
	for i := range t.Data {
		result.Data[i] = t.Data[i] * s
	}
	return result
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementWiseOp(a, b, func(x, y float32) float32 { return x + y })
}

// Mul performs element-wise multiplication with broadcasting.
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementWiseOp(a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func Div(a, b *Tensor) (*Tensor, error) {
	return elementWiseOp(a, b, func(x, y float32) float32 { return x / y })
}

// elementWiseOp performs an element-wise operation with broadcasting.
func elementWiseOp(a, b *Tensor, op func(float32, float32) float32) (*Tensor, error) {
	outShape, err := broadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast shapes %v and %v: %w", a.Shape, b.Shape, err)
	}

	result := NewTensor(outShape)

	indices := make([]int, len(outShape))
	var iterate func(dim int)
	iterate = func(dim int) {
		if dim == len(outShape) {
			aVal := a.Data[broadcastIndex(indices, outShape, a.Shape)]
			bVal := b.Data[broadcastIndex(indices, outShape, b.Shape)]
			result.Data[result.FlatIndex(indices)] = op(aVal, bVal)
			return
		}
		for i := 0; i < outShape[dim]; i++ {
			indices[dim] = i
			iterate(dim + 1)
		}
	}

	iterate(0)
	return result, nil
}

// broadcastShapes computes the broadcasted shape of two shapes using
// trailing-dimension alignment: sizes must match or one of them must be 1.
func broadcastShapes(a, b []int) ([]int, error) {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	result := make([]int, maxLen)

	for i := 0; i < maxLen; i++ {
		dimA := 1
		if i < len(a) {
			dimA = a[len(a)-1-i]
		}
		dimB := 1
		if i < len(b) {
			dimB = b[len(b)-1-i]
		}

		if dimA != dimB && dimA != 1 && dimB != 1 {
			return nil, fmt.Errorf("incompatible dimensions %d and %d", dimA, dimB)
		}

		if dimA > dimB {
			result[maxLen-1-i] = dimA
		} else {
			result[maxLen-1-i] = dimB
		}
	}

	return result, nil
}

// broadcastIndex maps an output position to the flat index in an input of
// shape inShape, repeating size-1 dimensions.
func broadcastIndex(outIndices []int, outShape, inShape []int) int {
	if len(inShape) == 0 {
		return 0
	}

	diff := len(outShape) - len(inShape)
	strides := computeStrides(inShape)

	idx := 0
	for i := 0; i < len(inShape); i++ {
		if inShape[i] == 1 {
			continue
		}
		idx += outIndices[i+diff] * strides[i]
	}
	return idx
}

// Concatenate concatenates tensors along a dimension.
func Concatenate(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot concatenate empty list of tensors")
	}

	if dim < 0 || dim >= len(tensors[0].Shape) {
		return nil, fmt.Errorf("invalid dimension %d for tensor with %d dimensions", dim, len(tensors[0].Shape))
	}

	outShape := copyShape(tensors[0].Shape)
	concatSize := tensors[0].Shape[dim]

	for i := 1; i < len(tensors); i++ {
		t := tensors[i]
		if len(t.Shape) != len(outShape) {
			return nil, fmt.Errorf("tensor %d has %d dimensions, expected %d", i, len(t.Shape), len(outShape))
		}
		for j := 0; j < len(outShape); j++ {
			if j == dim {
				concatSize += t.Shape[j]
			} else if t.Shape[j] != outShape[j] {
				return nil, fmt.Errorf("tensor %d has shape %v, incompatible with %v at dimension %d", i, t.Shape, outShape, j)
			}
		}
	}
	outShape[dim] = concatSize

	result := NewTensor(outShape)

	// Copy block-by-block per outer index so concatenation works for any
	// dim, not just the first.
	outerSize := 1
	for i := 0; i < dim; i++ {
		outerSize *= outShape[i]
	}

	dstOffset := 0
	for o := 0; o < outerSize; o++ {
		for _, t := range tensors {
			blockSize := len(t.Data) / outerSize
			srcOffset := o * blockSize
			copy(result.Data[dstOffset:dstOffset+blockSize], t.Data[srcOffset:srcOffset+blockSize])
			dstOffset += blockSize
		}
	}

	return result, nil
}

// String returns a compact string representation of the tensor.
func (t *Tensor) String() string {
	var sb strings.Builder
	sb.WriteString("Tensor[")
	for i, dim := range t.Shape {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", dim)
	}
	sb.WriteString("]: ")
	sb.WriteString(t.formatData(t.Shape, 0))
	return sb.String()
}

// formatData recursively formats tensor data, truncating long axes.
func (t *Tensor) formatData(shape []int, offset int) string {
	if len(shape) == 0 {
		return fmt.Sprintf("%g", t.Data[offset])
	}

	if len(shape) == 1 {
		var sb strings.Builder
		sb.WriteString("[")
		for i := 0; i < shape[0] && i < 6; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%g", t.Data[offset+i])
		}
		if shape[0] > 6 {
			sb.WriteString(", ...")
		}
		sb.WriteString("]")
		return sb.String()
	}

	subSize := 1
	for i := 1; i < len(shape); i++ {
		subSize *= shape[i]
	}

	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i < shape[0] && i < 3; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.formatData(shape[1:], offset+i*subSize))
	}
	if shape[0] > 3 {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}

// copyShape creates a copy of a shape slice.
func copyShape(shape []int) []int {
	result := make([]int, len(shape))
	copy(result, shape)
	return result
}
