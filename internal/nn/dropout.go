package nn

import (
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/autodiff"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// Dropout randomly zeroes elements of the input with probability p
// during training, scaling the survivors by 1/(1-p) so that the
// expected activation is unchanged (inverted dropout).
//
// In evaluation mode Forward is the identity and records nothing on
// the tape.
type Dropout struct {
	p float64
}

// NewDropout creates a Dropout module with drop probability p.
func NewDropout(p float64) *Dropout {
	return &Dropout{p: p}
}

// Forward applies dropout when training is true.
func (d *Dropout) Forward(o *autodiff.Ops, input *tensor.Tensor, rng *rand.Rand, training bool) *tensor.Tensor {
	return o.Dropout(input, d.p, rng, training)
}

// Parameters returns an empty slice; Dropout has no trainable state.
func (d *Dropout) Parameters() []*Parameter {
	return nil
}
