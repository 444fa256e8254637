package autodiff

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// MatMul computes a @ b for a [m, k] and b [k, n].
//
// The multiplication itself is delegated to gonum, wrapping the tensors'
// storage without copying.
func (o *Ops) MatMul(a, b *tensor.Tensor) *tensor.Tensor {
	m, k := a.Rows(), a.Cols()
	k2, n := b.Rows(), b.Cols()
	if k != k2 {
		panic(fmt.Sprintf("MatMul: inner dimensions %d and %d do not match", k, k2))
	}
	out := o.newLike(tensor.Shape{m, n})
	dst := mat.NewDense(m, n, out.Data())
	dst.Mul(asDense(a), asDense(b))
	o.tape.Record(&matMulOp{a: a, b: b, out: out, device: o.device})
	return out
}

// asDense wraps a 2-D tensor's storage as a gonum matrix (no copy).
func asDense(t *tensor.Tensor) *mat.Dense {
	return mat.NewDense(t.Rows(), t.Cols(), t.Data())
}

// matMulOp: d(A@B)/dA = G @ Bᵀ, d(A@B)/dB = Aᵀ @ G.
type matMulOp struct {
	a, b, out *tensor.Tensor
	device    tensor.Device
}

func (op *matMulOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a, op.b} }
func (op *matMulOp) Output() *tensor.Tensor   { return op.out }

func (op *matMulOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	da := tensor.New(op.a.Shape(), op.device)
	db := tensor.New(op.b.Shape(), op.device)

	gm := mat.NewDense(op.out.Rows(), op.out.Cols(), g.Data())

	dam := mat.NewDense(op.a.Rows(), op.a.Cols(), da.Data())
	dam.Mul(gm, asDense(op.b).T())

	dbm := mat.NewDense(op.b.Rows(), op.b.Cols(), db.Data())
	dbm.Mul(asDense(op.a).T(), gm)

	return []*tensor.Tensor{da, db}
}
