package nn

import (
	"fmt"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/autodiff"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// LSTMCell implements a single-timestep long short-term memory cell.
//
// Given input x [batch, input_size], hidden state h and cell state c
// [batch, hidden_size], it computes:
//
//	i  = sigmoid(x @ W_ii + h @ W_hi + b_i)
//	f  = sigmoid(x @ W_if + h @ W_hf + b_f)
//	g  = tanh(x @ W_ig + h @ W_hg + b_g)
//	o  = sigmoid(x @ W_io + h @ W_ho + b_o)
//	c' = f * c + i * g
//	h' = o * tanh(c')
type LSTMCell struct {
	inputSize  int
	hiddenSize int

	wII, wIF, wIG, wIO *Parameter // [input_size, hidden_size]
	wHI, wHF, wHG, wHO *Parameter // [hidden_size, hidden_size]
	bI, bF, bG, bO     *Parameter // [1, hidden_size]
}

// NewLSTMCell creates an LSTMCell with Xavier-initialized weights and
// zero biases.
func NewLSTMCell(rng *rand.Rand, inputSize, hiddenSize int, device tensor.Device) *LSTMCell {
	in := func(name string) *Parameter {
		return NewParameter(name, Xavier(rng, inputSize, hiddenSize, tensor.Shape{inputSize, hiddenSize}, device))
	}
	hid := func(name string) *Parameter {
		return NewParameter(name, Xavier(rng, hiddenSize, hiddenSize, tensor.Shape{hiddenSize, hiddenSize}, device))
	}
	bias := func(name string) *Parameter {
		return NewParameter(name, Zeros(tensor.Shape{1, hiddenSize}, device))
	}
	return &LSTMCell{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		wII:        in("w_ii"), wIF: in("w_if"), wIG: in("w_ig"), wIO: in("w_io"),
		wHI: hid("w_hi"), wHF: hid("w_hf"), wHG: hid("w_hg"), wHO: hid("w_ho"),
		bI: bias("b_i"), bF: bias("b_f"), bG: bias("b_g"), bO: bias("b_o"),
	}
}

// Forward advances the cell one timestep. It returns the new hidden
// state and the new cell state, both [batch, hidden_size].
func (c *LSTMCell) Forward(o *autodiff.Ops, x, h, cell *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	if x.Cols() != c.inputSize {
		panic(fmt.Sprintf("LSTMCell.Forward: expected input with %d features, got %d", c.inputSize, x.Cols()))
	}
	if h.Cols() != c.hiddenSize || cell.Cols() != c.hiddenSize {
		panic(fmt.Sprintf("LSTMCell.Forward: expected state with %d features, got h=%d c=%d",
			c.hiddenSize, h.Cols(), cell.Cols()))
	}

	gate := func(wi, wh, b *Parameter) *tensor.Tensor {
		return o.AddRow(o.Add(o.MatMul(x, wi.Tensor()), o.MatMul(h, wh.Tensor())), b.Tensor())
	}
	i := o.Sigmoid(gate(c.wII, c.wHI, c.bI))
	f := o.Sigmoid(gate(c.wIF, c.wHF, c.bF))
	g := o.Tanh(gate(c.wIG, c.wHG, c.bG))
	out := o.Sigmoid(gate(c.wIO, c.wHO, c.bO))

	newCell := o.Add(o.Mul(f, cell), o.Mul(i, g))
	newHidden := o.Mul(out, o.Tanh(newCell))
	return newHidden, newCell
}

// Parameters returns the cell parameters grouped gate by gate.
func (c *LSTMCell) Parameters() []*Parameter {
	return []*Parameter{
		c.wII, c.wIF, c.wIG, c.wIO,
		c.wHI, c.wHF, c.wHG, c.wHO,
		c.bI, c.bF, c.bG, c.bO,
	}
}

// HiddenSize returns the hidden state size.
func (c *LSTMCell) HiddenSize() int { return c.hiddenSize }

// InputSize returns the expected input feature count.
func (c *LSTMCell) InputSize() int { return c.inputSize }
