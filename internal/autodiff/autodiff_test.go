package autodiff

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

func newOps() (*Ops, *GradientTape) {
	tape := NewGradientTape()
	tape.StartRecording()
	return NewOps(tape, tensor.CPU), tape
}

func fromSlice(t *testing.T, data []float64, shape tensor.Shape) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.FromSlice(data, shape, tensor.CPU)
	require.NoError(t, err)
	return tt
}

// sumAll reduces a tensor to a scalar through recorded operations so that
// Backward can be seeded with a 1-element gradient.
func sumAll(o *Ops, x *tensor.Tensor) *tensor.Tensor {
	ones := tensor.Full(tensor.Shape{x.Cols(), 1}, 1, tensor.CPU)
	colSum := o.MatMul(x, ones) // [m, 1]
	onesRow := tensor.Full(tensor.Shape{1, x.Rows()}, 1, tensor.CPU)
	return o.MatMul(onesRow, colSum) // [1, 1]
}

// numericGrad estimates d(f)/d(x[i]) with central differences, rebuilding
// the graph for each probe.
func numericGrad(x *tensor.Tensor, i int, f func() float64) float64 {
	const eps = 1e-6
	orig := x.Data()[i]
	x.Data()[i] = orig + eps
	plus := f()
	x.Data()[i] = orig - eps
	minus := f()
	x.Data()[i] = orig
	return (plus - minus) / (2 * eps)
}

func TestAddBackward(t *testing.T) {
	o, tape := newOps()
	a := fromSlice(t, []float64{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := fromSlice(t, []float64{5, 6, 7, 8}, tensor.Shape{2, 2})

	out := sumAll(o, o.Add(a, b))
	grads := tape.Backward(tensor.Scalar(1, tensor.CPU))

	require.Contains(t, grads, a)
	require.Contains(t, grads, b)
	for _, g := range grads[a].Data() {
		assert.InDelta(t, 1.0, g, 1e-12)
	}
	assert.InDelta(t, 36.0, out.Item(), 1e-12)
}

func TestGradAccumulatesWhenInputReused(t *testing.T) {
	o, tape := newOps()
	a := fromSlice(t, []float64{2, 3}, tensor.Shape{1, 2})

	// y = a*a; dy/da = 2a.
	_ = sumAll(o, o.Mul(a, a))
	grads := tape.Backward(tensor.Scalar(1, tensor.CPU))

	require.Contains(t, grads, a)
	assert.InDelta(t, 4.0, grads[a].Data()[0], 1e-12)
	assert.InDelta(t, 6.0, grads[a].Data()[1], 1e-12)
}

func TestMatMulGradientNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	aData := make([]float64, 6)
	bData := make([]float64, 12)
	for i := range aData {
		aData[i] = rng.NormFloat64()
	}
	for i := range bData {
		bData[i] = rng.NormFloat64()
	}
	a := fromSlice(t, aData, tensor.Shape{2, 3})
	b := fromSlice(t, bData, tensor.Shape{3, 4})

	eval := func() float64 {
		tape := NewGradientTape()
		o := NewOps(tape, tensor.CPU)
		sum := 0.0
		for _, v := range o.MatMul(a, b).Data() {
			sum += v
		}
		return sum
	}

	o, tape := newOps()
	_ = sumAll(o, o.MatMul(a, b))
	grads := tape.Backward(tensor.Scalar(1, tensor.CPU))

	for i := range aData {
		want := numericGrad(a, i, eval)
		assert.InDelta(t, want, grads[a].Data()[i], 1e-5, "dA[%d]", i)
	}
	for i := range bData {
		want := numericGrad(b, i, eval)
		assert.InDelta(t, want, grads[b].Data()[i], 1e-5, "dB[%d]", i)
	}
}

func TestActivationGradientsNumeric(t *testing.T) {
	cases := []struct {
		name  string
		apply func(o *Ops, x *tensor.Tensor) *tensor.Tensor
	}{
		{"sigmoid", func(o *Ops, x *tensor.Tensor) *tensor.Tensor { return o.Sigmoid(x) }},
		{"tanh", func(o *Ops, x *tensor.Tensor) *tensor.Tensor { return o.Tanh(x) }},
		{"softmax", func(o *Ops, x *tensor.Tensor) *tensor.Tensor { return o.SoftmaxRows(x) }},
		{"glu", func(o *Ops, x *tensor.Tensor) *tensor.Tensor { return o.GLU(x) }},
		{"oneminus", func(o *Ops, x *tensor.Tensor) *tensor.Tensor { return o.OneMinus(x) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(11))
			data := make([]float64, 8)
			weights := make([]float64, 0, 8)
			for i := range data {
				data[i] = rng.NormFloat64()
				weights = append(weights, rng.NormFloat64())
			}
			x := fromSlice(t, data, tensor.Shape{2, 4})

			// Weighted sum keeps the softmax gradient non-trivial.
			eval := func() float64 {
				tape := NewGradientTape()
				o := NewOps(tape, tensor.CPU)
				out := tc.apply(o, x)
				sum := 0.0
				for i, v := range out.Data() {
					sum += weights[i%len(weights)] * v
				}
				return sum
			}

			o, tape := newOps()
			out := tc.apply(o, x)
			seed := tensor.New(out.Shape(), tensor.CPU)
			for i := range seed.Data() {
				seed.Data()[i] = weights[i%len(weights)]
			}
			grads := tape.Backward(seed)

			require.Contains(t, grads, x)
			for i := range data {
				want := numericGrad(x, i, eval)
				assert.InDelta(t, want, grads[x].Data()[i], 1e-5, "dx[%d]", i)
			}
		})
	}
}

func TestRowsScatterAdd(t *testing.T) {
	o, tape := newOps()
	w := fromSlice(t, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{3, 2})

	// Row 1 gathered twice: its gradient must be the sum of both uses.
	_ = sumAll(o, o.Rows(w, []int{1, 1, 0}))
	grads := tape.Backward(tensor.Scalar(1, tensor.CPU))

	require.Contains(t, grads, w)
	dw := grads[w].Data()
	assert.Equal(t, []float64{1, 1, 2, 2, 0, 0}, dw)
}

func TestCrossEntropyIgnoreIndex(t *testing.T) {
	const ignore = 9

	logits := fromSlice(t, []float64{
		2, 0, 1,
		0, 3, 0,
		1, 1, 1,
	}, tensor.Shape{3, 3})
	targets := []int{0, 1, ignore}

	o, tape := newOps()
	loss := o.CrossEntropy(logits, targets, ignore)

	// Perturbing the logits of an ignored row must not change the loss.
	perturbed := logits.Clone()
	perturbed.Data()[6] += 100
	perturbed.Data()[8] -= 50
	o2, _ := newOps()
	lossPerturbed := o2.CrossEntropy(perturbed, targets, ignore)
	assert.InDelta(t, loss.Item(), lossPerturbed.Item(), 1e-12)

	// And the ignored row receives zero gradient.
	grads := tape.Backward(tensor.Scalar(1, tensor.CPU))
	require.Contains(t, grads, logits)
	dl := grads[logits].Data()
	for j := 6; j < 9; j++ {
		assert.Zero(t, dl[j])
	}

	// Numeric check on the counted rows.
	eval := func() float64 {
		tape := NewGradientTape()
		o := NewOps(tape, tensor.CPU)
		return o.CrossEntropy(logits, targets, ignore).Item()
	}
	for i := 0; i < 6; i++ {
		want := numericGrad(logits, i, eval)
		assert.InDelta(t, want, dl[i], 1e-5, "dlogits[%d]", i)
	}
}

func TestCrossEntropyValue(t *testing.T) {
	// Uniform logits over 4 classes: loss = ln(4) per row.
	logits := fromSlice(t, make([]float64, 8), tensor.Shape{2, 4})
	o, _ := newOps()
	loss := o.CrossEntropy(logits, []int{2, 0}, -1)
	assert.InDelta(t, math.Log(4), loss.Item(), 1e-12)
}

func TestDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := tensor.Full(tensor.Shape{4, 8}, 1, tensor.CPU)

	o, tape := newOps()
	// Eval mode and p=0 are identity and record nothing.
	assert.Same(t, x, o.Dropout(x, 0.5, rng, false))
	assert.Same(t, x, o.Dropout(x, 0, rng, true))
	assert.Zero(t, tape.NumOps())

	out := o.Dropout(x, 0.5, rng, true)
	require.NotSame(t, x, out)
	for _, v := range out.Data() {
		assert.True(t, v == 0 || v == 2, "inverted dropout keeps 0 or 1/(1-p), got %f", v)
	}
}

func TestConcatAndColRoundTrip(t *testing.T) {
	o, tape := newOps()
	a := fromSlice(t, []float64{1, 2, 3, 4}, tensor.Shape{2, 2})
	b := fromSlice(t, []float64{5, 6}, tensor.Shape{2, 1})

	cat := o.Concat(a, b)
	require.Equal(t, tensor.Shape{2, 3}, cat.Shape())
	assert.Equal(t, 5.0, cat.At(0, 2))

	col := o.Col(cat, 2)
	_ = sumAll(o, col)
	grads := tape.Backward(tensor.Scalar(1, tensor.CPU))

	// Only b feeds column 2, so a's gradient is all zeros.
	require.Contains(t, grads, a)
	require.Contains(t, grads, b)
	for _, v := range grads[a].Data() {
		assert.Zero(t, v)
	}
	for _, v := range grads[b].Data() {
		assert.InDelta(t, 1.0, v, 1e-12)
	}
}

func TestTapeClearAndRecordingState(t *testing.T) {
	o, tape := newOps()
	a := tensor.Full(tensor.Shape{1, 2}, 1, tensor.CPU)
	o.Add(a, a)
	require.Equal(t, 1, tape.NumOps())

	tape.Clear()
	assert.Zero(t, tape.NumOps())
	assert.True(t, tape.IsRecording())

	tape.StopRecording()
	o.Add(a, a)
	assert.Zero(t, tape.NumOps())
}
