package nn

import (
	"fmt"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/autodiff"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// GRUCell implements a single-timestep gated recurrent unit.
//
// Given input x [batch, input_size] and hidden state h [batch,
// hidden_size], it computes:
//
//	r  = sigmoid(x @ W_ir + h @ W_hr + b_r)
//	z  = sigmoid(x @ W_iz + h @ W_hz + b_z)
//	n  = tanh(x @ W_in + r * (h @ W_hn + b_n))
//	h' = (1 - z) * n + z * h
//
// Sequences are processed by calling Forward once per timestep,
// threading the returned hidden state.
type GRUCell struct {
	inputSize  int
	hiddenSize int

	wIR, wIZ, wIN *Parameter // [input_size, hidden_size]
	wHR, wHZ, wHN *Parameter // [hidden_size, hidden_size]
	bR, bZ, bN    *Parameter // [1, hidden_size]
}

// NewGRUCell creates a GRUCell with Xavier-initialized weights and
// zero biases.
func NewGRUCell(rng *rand.Rand, inputSize, hiddenSize int, device tensor.Device) *GRUCell {
	in := func(name string) *Parameter {
		return NewParameter(name, Xavier(rng, inputSize, hiddenSize, tensor.Shape{inputSize, hiddenSize}, device))
	}
	hid := func(name string) *Parameter {
		return NewParameter(name, Xavier(rng, hiddenSize, hiddenSize, tensor.Shape{hiddenSize, hiddenSize}, device))
	}
	bias := func(name string) *Parameter {
		return NewParameter(name, Zeros(tensor.Shape{1, hiddenSize}, device))
	}
	return &GRUCell{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		wIR:        in("w_ir"), wIZ: in("w_iz"), wIN: in("w_in"),
		wHR: hid("w_hr"), wHZ: hid("w_hz"), wHN: hid("w_hn"),
		bR: bias("b_r"), bZ: bias("b_z"), bN: bias("b_n"),
	}
}

// Forward advances the cell one timestep and returns the new hidden
// state with shape [batch, hidden_size].
func (c *GRUCell) Forward(o *autodiff.Ops, x, h *tensor.Tensor) *tensor.Tensor {
	if x.Cols() != c.inputSize {
		panic(fmt.Sprintf("GRUCell.Forward: expected input with %d features, got %d", c.inputSize, x.Cols()))
	}
	if h.Cols() != c.hiddenSize {
		panic(fmt.Sprintf("GRUCell.Forward: expected hidden with %d features, got %d", c.hiddenSize, h.Cols()))
	}

	r := o.Sigmoid(o.AddRow(o.Add(o.MatMul(x, c.wIR.Tensor()), o.MatMul(h, c.wHR.Tensor())), c.bR.Tensor()))
	z := o.Sigmoid(o.AddRow(o.Add(o.MatMul(x, c.wIZ.Tensor()), o.MatMul(h, c.wHZ.Tensor())), c.bZ.Tensor()))
	n := o.Tanh(o.Add(
		o.MatMul(x, c.wIN.Tensor()),
		o.Mul(r, o.AddRow(o.MatMul(h, c.wHN.Tensor()), c.bN.Tensor())),
	))
	return o.Add(o.Mul(o.OneMinus(z), n), o.Mul(z, h))
}

// Parameters returns the cell parameters grouped gate by gate.
func (c *GRUCell) Parameters() []*Parameter {
	return []*Parameter{c.wIR, c.wIZ, c.wIN, c.wHR, c.wHZ, c.wHN, c.bR, c.bZ, c.bN}
}

// HiddenSize returns the hidden state size.
func (c *GRUCell) HiddenSize() int { return c.hiddenSize }

// InputSize returns the expected input feature count.
func (c *GRUCell) InputSize() int { return c.inputSize }
