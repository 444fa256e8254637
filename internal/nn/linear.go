package nn

import (
	"fmt"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/autodiff"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation y = x @ W + b where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [in_features, out_features]
//   - b is the bias row with shape [1, out_features]
//   - y is the output tensor with shape [batch_size, out_features]
//
// Weights are initialized with Xavier/Glorot, biases with zeros.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [in_features, out_features]
	bias        *Parameter // [1, out_features], nil when built without bias
}

// NewLinear creates a new Linear layer with a bias term.
func NewLinear(rng *rand.Rand, inFeatures, outFeatures int, device tensor.Device) *Linear {
	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", Xavier(rng, inFeatures, outFeatures, tensor.Shape{inFeatures, outFeatures}, device)),
		bias:        NewParameter("bias", Zeros(tensor.Shape{1, outFeatures}, device)),
	}
}

// Forward computes y = x @ W + b.
//
// Input shape: [batch_size, in_features]
// Output shape: [batch_size, out_features]
func (l *Linear) Forward(o *autodiff.Ops, input *tensor.Tensor) *tensor.Tensor {
	if input.Cols() != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, input.Cols()))
	}
	out := o.MatMul(input, l.weight.Tensor())
	if l.bias != nil {
		out = o.AddRow(out, l.bias.Tensor())
	}
	return out
}

// Parameters returns [weight, bias].
func (l *Linear) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter { return l.weight }

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter { return l.bias }

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int { return l.inFeatures }

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int { return l.outFeatures }
