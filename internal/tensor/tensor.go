// Package tensor provides the dense float64 tensors the training and
// inference loops are built on.
//
// Every tensor participating in one batch computation lives on the same
// Device. The only implemented device is the CPU; the Device value is still
// threaded explicitly through model and trainer construction so that no
// package-global state decides where a computation runs.
package tensor

import "fmt"

// Device identifies the compute device a tensor lives on.
type Device int

// Supported devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// Tensor is a dense float64 tensor with row-major layout.
//
// Tensors are mutable: optimizers update parameter tensors in place, and
// state-dict loading copies into existing storage so that pointers held by
// the autodiff tape and the optimizer stay valid.
type Tensor struct {
	data   []float64
	shape  Shape
	device Device
}

// New creates a zero-filled tensor with the given shape.
func New(shape Shape, device Device) *Tensor {
	return &Tensor{
		data:   make([]float64, shape.NumElements()),
		shape:  shape.Clone(),
		device: device,
	}
}

// FromSlice creates a tensor from a Go slice. The slice is used directly,
// not copied.
func FromSlice(data []float64, shape Shape, device Device) (*Tensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	return &Tensor{data: data, shape: shape.Clone(), device: device}, nil
}

// Full creates a tensor with every element set to value.
func Full(shape Shape, value float64, device Device) *Tensor {
	t := New(shape, device)
	for i := range t.data {
		t.data[i] = value
	}
	return t
}

// Scalar creates a 1-element tensor holding value.
func Scalar(value float64, device Device) *Tensor {
	t := New(Shape{1}, device)
	t.data[0] = value
	return t
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape }

// Device returns the tensor's compute device.
func (t *Tensor) Device() Device { return t.device }

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int { return len(t.data) }

// Data returns the underlying storage.
//
// WARNING: modifications to the returned slice modify the tensor.
func (t *Tensor) Data() []float64 { return t.data }

// Rows returns the size of the first dimension of a 2-D tensor.
func (t *Tensor) Rows() int {
	t.mustBe2D()
	return t.shape[0]
}

// Cols returns the size of the second dimension of a 2-D tensor.
func (t *Tensor) Cols() int {
	t.mustBe2D()
	return t.shape[1]
}

// At returns the element at row i, column j of a 2-D tensor.
func (t *Tensor) At(i, j int) float64 {
	t.mustBe2D()
	return t.data[i*t.shape[1]+j]
}

// Set assigns the element at row i, column j of a 2-D tensor.
func (t *Tensor) Set(i, j int, v float64) {
	t.mustBe2D()
	t.data[i*t.shape[1]+j] = v
}

// Item returns the value of a 1-element tensor.
// Panics if the tensor holds more than one element.
func (t *Tensor) Item() float64 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("Item() only works for scalar tensors, got shape %v", t.shape))
	}
	return t.data[0]
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := New(t.shape, t.device)
	copy(c.data, t.data)
	return c
}

// CopyFrom copies the contents of src into t. The shapes must match exactly.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return fmt.Errorf("cannot copy tensor %v into tensor %v", src.shape, t.shape)
	}
	copy(t.data, src.data)
	return nil
}

// String returns a human-readable representation of the tensor.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v on %s", t.shape, t.device)
}

func (t *Tensor) mustBe2D() {
	if len(t.shape) != 2 {
		panic(fmt.Sprintf("expected 2-D tensor, got shape %v", t.shape))
	}
}
