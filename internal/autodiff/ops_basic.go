package autodiff

import "github.com/Jean-Baptiste-Camps/boudams/internal/tensor"

// addOp: d(a+b)/da = 1, d(a+b)/db = 1.
type addOp struct {
	a, b, out *tensor.Tensor
}

func (op *addOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a, op.b} }
func (op *addOp) Output() *tensor.Tensor   { return op.out }

func (op *addOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	// Both inputs receive independent copies so accumulation never
	// aliases the upstream gradient.
	return []*tensor.Tensor{g.Clone(), g.Clone()}
}

// addRowOp broadcasts a row vector over the rows of a matrix.
// The row vector's gradient is the column-wise sum of the output gradient.
type addRowOp struct {
	a, b, out *tensor.Tensor
	device    tensor.Device
}

func (op *addRowOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a, op.b} }
func (op *addRowOp) Output() *tensor.Tensor   { return op.out }

func (op *addRowOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	m, n := op.a.Rows(), op.a.Cols()
	db := tensor.New(op.b.Shape(), op.device)
	gd, dbd := g.Data(), db.Data()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			dbd[j] += gd[i*n+j]
		}
	}
	return []*tensor.Tensor{g.Clone(), db}
}

// mulOp: d(a*b)/da = b, d(a*b)/db = a.
type mulOp struct {
	a, b, out *tensor.Tensor
	device    tensor.Device
}

func (op *mulOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a, op.b} }
func (op *mulOp) Output() *tensor.Tensor   { return op.out }

func (op *mulOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	da := tensor.New(op.a.Shape(), op.device)
	db := tensor.New(op.b.Shape(), op.device)
	gd, ad, bd := g.Data(), op.a.Data(), op.b.Data()
	dad, dbd := da.Data(), db.Data()
	for i := range gd {
		dad[i] = gd[i] * bd[i]
		dbd[i] = gd[i] * ad[i]
	}
	return []*tensor.Tensor{da, db}
}

// mulColOp scales rows of b by a column vector s.
type mulColOp struct {
	s, b, out *tensor.Tensor
	device    tensor.Device
}

func (op *mulColOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.s, op.b} }
func (op *mulColOp) Output() *tensor.Tensor   { return op.out }

func (op *mulColOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	m, n := op.b.Rows(), op.b.Cols()
	ds := tensor.New(op.s.Shape(), op.device)
	db := tensor.New(op.b.Shape(), op.device)
	gd, sd, bd := g.Data(), op.s.Data(), op.b.Data()
	dsd, dbd := ds.Data(), db.Data()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			dsd[i] += gd[i*n+j] * bd[i*n+j]
			dbd[i*n+j] = sd[i] * gd[i*n+j]
		}
	}
	return []*tensor.Tensor{ds, db}
}

// oneMinusOp: d(1-a)/da = -1.
type oneMinusOp struct {
	a, out *tensor.Tensor
	device tensor.Device
}

func (op *oneMinusOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a} }
func (op *oneMinusOp) Output() *tensor.Tensor   { return op.out }

func (op *oneMinusOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	da := tensor.New(op.a.Shape(), op.device)
	gd, dad := g.Data(), da.Data()
	for i := range gd {
		dad[i] = -gd[i]
	}
	return []*tensor.Tensor{da}
}

// scaleOp: d(c*a)/da = c.
type scaleOp struct {
	a, out *tensor.Tensor
	c      float64
	device tensor.Device
}

func (op *scaleOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a} }
func (op *scaleOp) Output() *tensor.Tensor   { return op.out }

func (op *scaleOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	da := tensor.New(op.a.Shape(), op.device)
	gd, dad := g.Data(), da.Data()
	for i := range gd {
		dad[i] = op.c * gd[i]
	}
	return []*tensor.Tensor{da}
}

// concatOp splits the output gradient back into column blocks.
type concatOp struct {
	xs     []*tensor.Tensor
	out    *tensor.Tensor
	device tensor.Device
}

func (op *concatOp) Inputs() []*tensor.Tensor { return op.xs }
func (op *concatOp) Output() *tensor.Tensor   { return op.out }

func (op *concatOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	m, total := op.out.Rows(), op.out.Cols()
	gd := g.Data()
	grads := make([]*tensor.Tensor, len(op.xs))
	offset := 0
	for k, x := range op.xs {
		n := x.Cols()
		dx := tensor.New(x.Shape(), op.device)
		dxd := dx.Data()
		for i := 0; i < m; i++ {
			copy(dxd[i*n:(i+1)*n], gd[i*total+offset:i*total+offset+n])
		}
		grads[k] = dx
		offset += n
	}
	return grads
}

// concatRowsOp splits the output gradient back into row blocks.
type concatRowsOp struct {
	xs     []*tensor.Tensor
	out    *tensor.Tensor
	device tensor.Device
}

func (op *concatRowsOp) Inputs() []*tensor.Tensor { return op.xs }
func (op *concatRowsOp) Output() *tensor.Tensor   { return op.out }

func (op *concatRowsOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	gd := g.Data()
	grads := make([]*tensor.Tensor, len(op.xs))
	offset := 0
	for k, x := range op.xs {
		dx := tensor.New(x.Shape(), op.device)
		copy(dx.Data(), gd[offset:offset+x.NumElements()])
		grads[k] = dx
		offset += x.NumElements()
	}
	return grads
}

// colOp scatters the [m, 1] gradient back into column j.
type colOp struct {
	a, out *tensor.Tensor
	j      int
	device tensor.Device
}

func (op *colOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.a} }
func (op *colOp) Output() *tensor.Tensor   { return op.out }

func (op *colOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	m, n := op.a.Rows(), op.a.Cols()
	da := tensor.New(op.a.Shape(), op.device)
	gd, dad := g.Data(), da.Data()
	for i := 0; i < m; i++ {
		dad[i*n+op.j] = gd[i]
	}
	return []*tensor.Tensor{da}
}
