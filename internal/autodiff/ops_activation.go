package autodiff

import (
	"fmt"
	"math"

	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Sigmoid applies the logistic function element-wise.
func (o *Ops) Sigmoid(a *tensor.Tensor) *tensor.Tensor {
	out := o.newLike(a.Shape())
	ad, od := a.Data(), out.Data()
	for i := range od {
		od[i] = sigmoid(ad[i])
	}
	o.tape.Record(&sigmoidOp{a: a, out: out, device: o.device})
	return out
}

// Tanh applies the hyperbolic tangent element-wise.
func (o *Ops) Tanh(a *tensor.Tensor) *tensor.Tensor {
	out := o.newLike(a.Shape())
	ad, od := a.Data(), out.Data()
	for i := range od {
		od[i] = math.Tanh(ad[i])
	}
	o.tape.Record(&tanhOp{a: a, out: out, device: o.device})
	return out
}

// GLU applies a gated linear unit to a [m, 2n]: the first half of the
// columns gated by the sigmoid of the second half.
func (o *Ops) GLU(a *tensor.Tensor) *tensor.Tensor {
	m, cols := a.Rows(), a.Cols()
	if cols%2 != 0 {
		panic(fmt.Sprintf("GLU: input must have an even number of columns, got %d", cols))
	}
	n := cols / 2
	out := o.newLike(tensor.Shape{m, n})
	ad, od := a.Data(), out.Data()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			od[i*n+j] = ad[i*cols+j] * sigmoid(ad[i*cols+n+j])
		}
	}
	o.tape.Record(&gluOp{a: a, out: out, device: o.device})
	return out
}

// SoftmaxRows applies a numerically stable softmax to each row of a [m, n].
func (o *Ops) SoftmaxRows(a *tensor.Tensor) *tensor.Tensor {
	m, n := a.Rows(), a.Cols()
	out := o.newLike(a.Shape())
	ad, od := a.Data(), out.Data()
	for i := 0; i < m; i++ {
		softmaxInto(od[i*n:(i+1)*n], ad[i*n:(i+1)*n])
	}
	o.tape.Record(&softmaxRowsOp{a: a, out: out, device: o.device})
	return out
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// softmaxInto writes softmax(src) into dst using the max-shift trick.
func softmaxInto(dst, src []float64) {
	maxV := src[0]
	for _, v := range src[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum := 0.0
	for i, v := range src {
		dst[i] = math.Exp(v - maxV)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}

// sigmoidOp: dy/dx = y(1-y), using the stored output.
type sigmoidOp struct {
	a, out *tensor.Tensor
	device tensor.Device
}

func (op *sigmoidOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a} }
func (op *sigmoidOp) Output() *tensor.Tensor   { return op.out }

func (op *sigmoidOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	da := tensor.New(op.a.Shape(), op.device)
	gd, od, dad := g.Data(), op.out.Data(), da.Data()
	for i := range gd {
		dad[i] = gd[i] * od[i] * (1 - od[i])
	}
	return []*tensor.Tensor{da}
}

// tanhOp: dy/dx = 1 - y².
type tanhOp struct {
	a, out *tensor.Tensor
	device tensor.Device
}

func (op *tanhOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a} }
func (op *tanhOp) Output() *tensor.Tensor   { return op.out }

func (op *tanhOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	da := tensor.New(op.a.Shape(), op.device)
	gd, od, dad := g.Data(), op.out.Data(), da.Data()
	for i := range gd {
		dad[i] = gd[i] * (1 - od[i]*od[i])
	}
	return []*tensor.Tensor{da}
}

// gluOp: with a = [u | v], y = u ⊙ σ(v):
// dy/du = σ(v), dy/dv = u ⊙ σ(v)(1-σ(v)).
type gluOp struct {
	a, out *tensor.Tensor
	device tensor.Device
}

func (op *gluOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a} }
func (op *gluOp) Output() *tensor.Tensor   { return op.out }

func (op *gluOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	m, cols := op.a.Rows(), op.a.Cols()
	n := cols / 2
	da := tensor.New(op.a.Shape(), op.device)
	gd, ad, dad := g.Data(), op.a.Data(), da.Data()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			u := ad[i*cols+j]
			s := sigmoid(ad[i*cols+n+j])
			dad[i*cols+j] = gd[i*n+j] * s
			dad[i*cols+n+j] = gd[i*n+j] * u * s * (1 - s)
		}
	}
	return []*tensor.Tensor{da}
}

// softmaxRowsOp: dx_j = y_j (g_j - Σ_k g_k y_k), per row.
type softmaxRowsOp struct {
	a, out *tensor.Tensor
	device tensor.Device
}

func (op *softmaxRowsOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a} }
func (op *softmaxRowsOp) Output() *tensor.Tensor   { return op.out }

func (op *softmaxRowsOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	m, n := op.a.Rows(), op.a.Cols()
	da := tensor.New(op.a.Shape(), op.device)
	gd, od, dad := g.Data(), op.out.Data(), da.Data()
	for i := 0; i < m; i++ {
		dot := 0.0
		for j := 0; j < n; j++ {
			dot += gd[i*n+j] * od[i*n+j]
		}
		for j := 0; j < n; j++ {
			dad[i*n+j] = od[i*n+j] * (gd[i*n+j] - dot)
		}
	}
	return []*tensor.Tensor{da}
}
