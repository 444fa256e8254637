package model

import (
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// padMaskValue is added to attention scores over padding positions so
// that the softmax assigns them no weight.
const padMaskValue = -1e9

// attention implements the additive scoring block shared by the
// attentive decoders: score_t = v . tanh(W q + U k_t), softmaxed over
// the non-pad source positions.
type attention struct {
	query *nn.Linear // dec hidden -> attn dim
	key   *nn.Linear // enc output -> attn dim
	score *nn.Linear // attn dim -> 1
}

func newAttention(rng *rand.Rand, encOutDim, decHidDim int, device tensor.Device) *attention {
	return &attention{
		query: nn.NewLinear(rng, decHidDim, decHidDim, device),
		key:   nn.NewLinear(rng, encOutDim, decHidDim, device),
		score: nn.NewLinear(rng, decHidDim, 1, device),
	}
}

// keysFor precomputes the key projection of every encoder output so
// that decoder steps only pay for the query side.
func (a *attention) keysFor(rc *runCtx, encOuts []*tensor.Tensor) []*tensor.Tensor {
	keys := make([]*tensor.Tensor, len(encOuts))
	for t, enc := range encOuts {
		keys[t] = a.key.Forward(rc.o, enc)
	}
	return keys
}

// attend returns the attention-weighted context for one decoder step.
func (a *attention) attend(rc *runCtx, hidden *tensor.Tensor, encOuts, keys []*tensor.Tensor, mask *tensor.Tensor) *tensor.Tensor {
	q := a.query.Forward(rc.o, hidden)
	scores := make([]*tensor.Tensor, len(keys))
	for t := range keys {
		scores[t] = a.score.Forward(rc.o, rc.o.Tanh(rc.o.Add(q, keys[t])))
	}
	weights := rc.o.SoftmaxRows(rc.o.Add(rc.o.Concat(scores...), mask))

	context := rc.o.MulCol(rc.o.Col(weights, 0), encOuts[0])
	for t := 1; t < len(encOuts); t++ {
		context = rc.o.Add(context, rc.o.MulCol(rc.o.Col(weights, t), encOuts[t]))
	}
	return context
}

func (a *attention) parameters() []*nn.Parameter {
	var params []*nn.Parameter
	params = append(params, nn.Prefixed("attention.query", a.query.Parameters())...)
	params = append(params, nn.Prefixed("attention.key", a.key.Parameters())...)
	params = append(params, nn.Prefixed("attention.score", a.score.Parameters())...)
	return params
}

// padMask builds the additive attention mask for a source grid.
func padMask(src [][]int, pad int, device tensor.Device) *tensor.Tensor {
	mask := tensor.New(tensor.Shape{len(src), len(src[0])}, device)
	for row := range src {
		for t, id := range src[row] {
			if id == pad {
				mask.Set(row, t, padMaskValue)
			}
		}
	}
	return mask
}
