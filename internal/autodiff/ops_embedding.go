package autodiff

import (
	"fmt"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Rows gathers rows of weight [v, e] by index, producing [len(ids), e].
// This is the embedding lookup; gradients scatter-add back into the
// indexed rows of the weight.
func (o *Ops) Rows(weight *tensor.Tensor, ids []int) *tensor.Tensor {
	v, e := weight.Rows(), weight.Cols()
	out := o.newLike(tensor.Shape{len(ids), e})
	wd, od := weight.Data(), out.Data()
	for i, id := range ids {
		if id < 0 || id >= v {
			panic(fmt.Sprintf("Rows: index %d out of bounds for %d rows", id, v))
		}
		copy(od[i*e:(i+1)*e], wd[id*e:(id+1)*e])
	}
	idsCopy := make([]int, len(ids))
	copy(idsCopy, ids)
	o.tape.Record(&rowsOp{weight: weight, ids: idsCopy, out: out, device: o.device})
	return out
}

// Dropout applies inverted dropout with probability p, drawing the mask
// from rng. When training is false or p is zero the input passes through
// untouched (and nothing is recorded, the gradient path is the identity).
func (o *Ops) Dropout(a *tensor.Tensor, p float64, rng *rand.Rand, training bool) *tensor.Tensor {
	if !training || p <= 0 {
		return a
	}
	keep := 1 - p
	mask := make([]float64, a.NumElements())
	for i := range mask {
		if rng.Float64() < keep {
			mask[i] = 1 / keep
		}
	}
	out := o.newLike(a.Shape())
	ad, od := a.Data(), out.Data()
	for i := range od {
		od[i] = ad[i] * mask[i]
	}
	o.tape.Record(&dropoutOp{a: a, mask: mask, out: out, device: o.device})
	return out
}

// rowsOp scatter-adds the output gradient into the gathered weight rows.
type rowsOp struct {
	weight *tensor.Tensor
	ids    []int
	out    *tensor.Tensor
	device tensor.Device
}

func (op *rowsOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.weight} }
func (op *rowsOp) Output() *tensor.Tensor   { return op.out }

func (op *rowsOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	e := op.weight.Cols()
	dw := tensor.New(op.weight.Shape(), op.device)
	gd, dwd := g.Data(), dw.Data()
	for i, id := range op.ids {
		for j := 0; j < e; j++ {
			dwd[id*e+j] += gd[i*e+j]
		}
	}
	return []*tensor.Tensor{dw}
}

// dropoutOp replays the forward mask on the gradient.
type dropoutOp struct {
	a, out *tensor.Tensor
	mask   []float64
	device tensor.Device
}

func (op *dropoutOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a} }
func (op *dropoutOp) Output() *tensor.Tensor   { return op.out }

func (op *dropoutOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	da := tensor.New(op.a.Shape(), op.device)
	gd, dad := g.Data(), da.Data()
	for i := range gd {
		dad[i] = gd[i] * op.mask[i]
	}
	return []*tensor.Tensor{da}
}
