// Package autodiff implements reverse-mode automatic differentiation for
// the seq2seq models.
//
// Architecture:
//   - Ops: performs tensor operations and records them on a GradientTape
//   - GradientTape: records Operations during the forward pass
//   - Operation: each op knows how to push gradients back to its inputs
//
// A training step clears the tape, runs the forward pass through an Ops
// value, then walks the tape in reverse to accumulate a gradient for every
// tensor that contributed to the loss:
//
//	tape.Clear()
//	tape.StartRecording()
//	loss := model.Gradient(...)
//	grads := tape.Backward(tensor.Scalar(1, device))
package autodiff

import "github.com/Jean-Baptiste-Camps/boudams/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
// Each operation keeps its inputs and output from the forward pass and
// computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for the inputs given the output gradient.
	// The returned slice corresponds to Inputs(); a nil entry means the
	// input is not differentiable (for example integer indices).
	Backward(outputGrad *tensor.Tensor) []*tensor.Tensor

	// Inputs returns the input tensors of this operation.
	Inputs() []*tensor.Tensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.Tensor
}

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass.
type GradientTape struct {
	operations []Operation
	recording  bool
}

// NewGradientTape creates a new, empty gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]Operation, 0, 64),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() { t.recording = true }

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() { t.recording = false }

// IsRecording reports whether the tape currently records operations.
func (t *GradientTape) IsRecording() bool { return t.recording }

// Record adds an operation to the tape if recording is enabled.
func (t *GradientTape) Record(op Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear resets the tape, removing all recorded operations.
// The recording state is preserved.
func (t *GradientTape) Clear() {
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int { return len(t.operations) }

// Backward walks the tape in reverse and accumulates a gradient for every
// tensor reached from the final output.
//
// outputGrad seeds the gradient of the last recorded operation's output;
// for a scalar loss this is a 1-element tensor holding 1. Gradients for
// tensors used multiple times are summed.
func (t *GradientTape) Backward(outputGrad *tensor.Tensor) map[*tensor.Tensor]*tensor.Tensor {
	grads := make(map[*tensor.Tensor]*tensor.Tensor)
	if len(t.operations) == 0 {
		return grads
	}

	// The backward pass must not append to the tape it is walking.
	wasRecording := t.recording
	t.recording = false
	defer func() { t.recording = wasRecording }()

	last := t.operations[len(t.operations)-1]
	grads[last.Output()] = outputGrad

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		outGrad, ok := grads[op.Output()]
		if !ok {
			// Nothing downstream consumed this operation's output.
			continue
		}
		inputGrads := op.Backward(outGrad)
		inputs := op.Inputs()
		for j, input := range inputs {
			if j >= len(inputGrads) || inputGrads[j] == nil {
				continue
			}
			if existing, exists := grads[input]; exists {
				accumulate(existing, inputGrads[j])
			} else {
				grads[input] = inputGrads[j]
			}
		}
	}

	return grads
}

// accumulate adds src into dst element-wise.
func accumulate(dst, src *tensor.Tensor) {
	d, s := dst.Data(), src.Data()
	for i := range d {
		d[i] += s[i]
	}
}
