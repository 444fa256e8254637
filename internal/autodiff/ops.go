package autodiff

import (
	"fmt"

	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Ops performs tensor operations and records them on a gradient tape.
//
// Every method computes the forward result eagerly and, when the tape is
// recording, appends an Operation that can later push gradients back to the
// inputs. Shape mismatches are programmer errors and panic.
type Ops struct {
	tape   *GradientTape
	device tensor.Device
}

// NewOps creates an Ops recording onto tape, allocating results on device.
func NewOps(tape *GradientTape, device tensor.Device) *Ops {
	return &Ops{tape: tape, device: device}
}

// Tape returns the gradient tape operations are recorded on.
func (o *Ops) Tape() *GradientTape { return o.tape }

// Device returns the device results are allocated on.
func (o *Ops) Device() tensor.Device { return o.device }

func (o *Ops) newLike(shape tensor.Shape) *tensor.Tensor {
	return tensor.New(shape, o.device)
}

func mustSameShape(op string, a, b *tensor.Tensor) {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("%s: shape mismatch %v vs %v", op, a.Shape(), b.Shape()))
	}
}

// Add performs element-wise addition of two same-shaped tensors.
func (o *Ops) Add(a, b *tensor.Tensor) *tensor.Tensor {
	mustSameShape("Add", a, b)
	out := o.newLike(a.Shape())
	ad, bd, od := a.Data(), b.Data(), out.Data()
	for i := range od {
		od[i] = ad[i] + bd[i]
	}
	o.tape.Record(&addOp{a: a, b: b, out: out})
	return out
}

// AddRow adds a row vector b of shape [n] (stored as [1, n]) to every row
// of a [m, n]. This is the bias broadcast used by Linear.
func (o *Ops) AddRow(a, b *tensor.Tensor) *tensor.Tensor {
	m, n := a.Rows(), a.Cols()
	if b.NumElements() != n {
		panic(fmt.Sprintf("AddRow: row vector has %d elements, want %d", b.NumElements(), n))
	}
	out := o.newLike(a.Shape())
	ad, bd, od := a.Data(), b.Data(), out.Data()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			od[i*n+j] = ad[i*n+j] + bd[j]
		}
	}
	o.tape.Record(&addRowOp{a: a, b: b, out: out, device: o.device})
	return out
}

// Mul performs element-wise multiplication of two same-shaped tensors.
func (o *Ops) Mul(a, b *tensor.Tensor) *tensor.Tensor {
	mustSameShape("Mul", a, b)
	out := o.newLike(a.Shape())
	ad, bd, od := a.Data(), b.Data(), out.Data()
	for i := range od {
		od[i] = ad[i] * bd[i]
	}
	o.tape.Record(&mulOp{a: a, b: b, out: out, device: o.device})
	return out
}

// MulCol scales every row i of b [m, n] by the scalar s[i], where s has
// shape [m, 1]. Used to weight encoder states by attention scores.
func (o *Ops) MulCol(s, b *tensor.Tensor) *tensor.Tensor {
	m, n := b.Rows(), b.Cols()
	if s.NumElements() != m {
		panic(fmt.Sprintf("MulCol: column vector has %d elements, want %d", s.NumElements(), m))
	}
	out := o.newLike(b.Shape())
	sd, bd, od := s.Data(), b.Data(), out.Data()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			od[i*n+j] = sd[i] * bd[i*n+j]
		}
	}
	o.tape.Record(&mulColOp{s: s, b: b, out: out, device: o.device})
	return out
}

// OneMinus computes 1 - a element-wise. Used by the GRU update gate.
func (o *Ops) OneMinus(a *tensor.Tensor) *tensor.Tensor {
	out := o.newLike(a.Shape())
	ad, od := a.Data(), out.Data()
	for i := range od {
		od[i] = 1 - ad[i]
	}
	o.tape.Record(&oneMinusOp{a: a, out: out, device: o.device})
	return out
}

// Scale multiplies every element of a by the constant c.
func (o *Ops) Scale(a *tensor.Tensor, c float64) *tensor.Tensor {
	out := o.newLike(a.Shape())
	ad, od := a.Data(), out.Data()
	for i := range od {
		od[i] = c * ad[i]
	}
	o.tape.Record(&scaleOp{a: a, c: c, out: out, device: o.device})
	return out
}

// Concat concatenates 2-D tensors with equal row counts along columns.
func (o *Ops) Concat(xs ...*tensor.Tensor) *tensor.Tensor {
	if len(xs) == 0 {
		panic("Concat: no inputs")
	}
	m := xs[0].Rows()
	total := 0
	for _, x := range xs {
		if x.Rows() != m {
			panic(fmt.Sprintf("Concat: row mismatch %d vs %d", x.Rows(), m))
		}
		total += x.Cols()
	}
	out := o.newLike(tensor.Shape{m, total})
	od := out.Data()
	offset := 0
	for _, x := range xs {
		n := x.Cols()
		xd := x.Data()
		for i := 0; i < m; i++ {
			copy(od[i*total+offset:i*total+offset+n], xd[i*n:(i+1)*n])
		}
		offset += n
	}
	o.tape.Record(&concatOp{xs: xs, out: out, device: o.device})
	return out
}

// ConcatRows stacks 2-D tensors with equal column counts along rows.
// Used to gather per-step logits into one loss computation.
func (o *Ops) ConcatRows(xs ...*tensor.Tensor) *tensor.Tensor {
	if len(xs) == 0 {
		panic("ConcatRows: no inputs")
	}
	n := xs[0].Cols()
	total := 0
	for _, x := range xs {
		if x.Cols() != n {
			panic(fmt.Sprintf("ConcatRows: column mismatch %d vs %d", x.Cols(), n))
		}
		total += x.Rows()
	}
	out := o.newLike(tensor.Shape{total, n})
	od := out.Data()
	offset := 0
	for _, x := range xs {
		copy(od[offset:offset+x.NumElements()], x.Data())
		offset += x.NumElements()
	}
	o.tape.Record(&concatRowsOp{xs: xs, out: out, device: o.device})
	return out
}

// Col extracts column j of a [m, n] as an [m, 1] tensor.
func (o *Ops) Col(a *tensor.Tensor, j int) *tensor.Tensor {
	m, n := a.Rows(), a.Cols()
	if j < 0 || j >= n {
		panic(fmt.Sprintf("Col: index %d out of bounds for %d columns", j, n))
	}
	out := o.newLike(tensor.Shape{m, 1})
	ad, od := a.Data(), out.Data()
	for i := 0; i < m; i++ {
		od[i] = ad[i*n+j]
	}
	o.tape.Record(&colOp{a: a, j: j, out: out, device: o.device})
	return out
}
