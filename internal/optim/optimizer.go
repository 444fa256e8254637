// Package optim implements optimization algorithms for training the
// segmentation models.
//
// This package provides:
//   - Optimizer interface: base interface for all optimizers
//   - Adam: Adaptive Moment Estimation
//   - ClipGradNorm: global gradient norm clipping
//
// Design inspired by PyTorch's torch.optim.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 0.001})
//
//	for batch := range batches {
//	    loss, grads := trainStep(model, batch)
//	    optim.ClipGradNorm(model.Parameters(), grads, 1.0)
//	    optimizer.Step(grads)
//	}
package optim

import (
	"math"

	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers update model parameters in-place based on the gradient
// map produced by the tape's backward pass. The map is keyed by the
// parameter tensors themselves; parameters absent from the map did not
// participate in the forward pass and are skipped.
type Optimizer interface {
	// Step applies one gradient update to all parameters.
	Step(grads map[*tensor.Tensor]*tensor.Tensor)

	// LR returns the current learning rate.
	LR() float64

	// SetLR updates the learning rate. Used by the plateau scheduler.
	SetLR(lr float64)
}

// ClipGradNorm rescales the gradients of params in-place so that their
// global L2 norm does not exceed maxNorm. It returns the norm measured
// before clipping.
//
// Gradients for parameters missing from the map are ignored. A zero or
// negative maxNorm disables clipping but still reports the norm.
func ClipGradNorm(params []*nn.Parameter, grads map[*tensor.Tensor]*tensor.Tensor, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		g, ok := grads[p.Tensor()]
		if !ok {
			continue
		}
		for _, v := range g.Data() {
			total += v * v
		}
	}
	total = math.Sqrt(total)

	if maxNorm <= 0 || total <= maxNorm {
		return total
	}
	scale := maxNorm / (total + 1e-6)
	for _, p := range params {
		g, ok := grads[p.Tensor()]
		if !ok {
			continue
		}
		data := g.Data()
		for i := range data {
			data[i] *= scale
		}
	}
	return total
}
