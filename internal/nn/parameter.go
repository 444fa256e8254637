package nn

import (
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors that receive gradients during the backward
// pass. The tensor pointer doubles as the parameter's identity: the
// gradient tape keys its gradient map by it, and the optimizer keeps
// per-parameter moments under the same key, so the underlying tensor
// must never be replaced after construction. Loading saved weights
// copies into it instead (see tensor.CopyFrom).
type Parameter struct {
	name   string
	tensor *tensor.Tensor
}

// NewParameter creates a new trainable parameter.
//
// The tensor should be initialized before creating the Parameter.
// Names are hierarchical, e.g. "encoder.rnn.0.w_ih".
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Prefixed renames nested module parameters under a parent scope.
// The returned parameters share the original tensors, so gradient and
// optimizer state keyed by tensor pointer is unaffected.
func Prefixed(prefix string, params []*Parameter) []*Parameter {
	out := make([]*Parameter, len(params))
	for i, p := range params {
		out[i] = &Parameter{name: prefix + "." + p.name, tensor: p.tensor}
	}
	return out
}
