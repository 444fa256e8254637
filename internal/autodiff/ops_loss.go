package autodiff

import (
	"fmt"
	"math"

	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// CrossEntropy computes token-level cross-entropy loss over logits [n, c]
// against class indices targets [n], averaged over the rows whose target
// is not ignoreIndex. Rows with the ignored target contribute neither to
// the loss nor to the gradient, which is what keeps padding out of the
// objective.
//
// Returns a 1-element tensor. Panics if every target is ignored or the
// logits are empty; callers guard against empty epochs.
func (o *Ops) CrossEntropy(logits *tensor.Tensor, targets []int, ignoreIndex int) *tensor.Tensor {
	n, c := logits.Rows(), logits.Cols()
	if len(targets) != n {
		panic(fmt.Sprintf("CrossEntropy: %d targets for %d rows", len(targets), n))
	}

	ld := logits.Data()
	total := 0.0
	counted := 0
	for i, target := range targets {
		if target == ignoreIndex {
			continue
		}
		if target < 0 || target >= c {
			panic(fmt.Sprintf("CrossEntropy: target %d out of bounds for %d classes", target, c))
		}
		total += -logSoftmaxAt(ld[i*c:(i+1)*c], target)
		counted++
	}
	if counted == 0 {
		panic("CrossEntropy: no non-ignored targets")
	}

	out := tensor.Scalar(total/float64(counted), o.device)
	tCopy := make([]int, len(targets))
	copy(tCopy, targets)
	o.tape.Record(&crossEntropyOp{
		logits:      logits,
		targets:     tCopy,
		ignoreIndex: ignoreIndex,
		counted:     counted,
		out:         out,
		device:      o.device,
	})
	return out
}

// logSoftmaxAt returns log(softmax(z))[target] using the log-sum-exp trick.
func logSoftmaxAt(z []float64, target int) float64 {
	maxZ := z[0]
	for _, v := range z[1:] {
		if v > maxZ {
			maxZ = v
		}
	}
	sumExp := 0.0
	for _, v := range z {
		sumExp += math.Exp(v - maxZ)
	}
	return z[target] - maxZ - math.Log(sumExp)
}

// crossEntropyOp: d(loss)/d(logits) = (softmax(row) - onehot) / counted for
// counted rows, zero for ignored rows.
type crossEntropyOp struct {
	logits      *tensor.Tensor
	targets     []int
	ignoreIndex int
	counted     int
	out         *tensor.Tensor
	device      tensor.Device
}

func (op *crossEntropyOp) Inputs() []*tensor.Tensor { return []*tensor.Tensor{op.logits} }
func (op *crossEntropyOp) Output() *tensor.Tensor   { return op.out }

func (op *crossEntropyOp) Backward(g *tensor.Tensor) []*tensor.Tensor {
	c := op.logits.Cols()
	scale := g.Item() / float64(op.counted)
	dl := tensor.New(op.logits.Shape(), op.device)
	ld, dld := op.logits.Data(), dl.Data()
	probs := make([]float64, c)
	for i, target := range op.targets {
		if target == op.ignoreIndex {
			continue
		}
		softmaxInto(probs, ld[i*c:(i+1)*c])
		for j := 0; j < c; j++ {
			dld[i*c+j] = probs[j] * scale
		}
		dld[i*c+target] -= scale
	}
	return []*tensor.Tensor{dl}
}
