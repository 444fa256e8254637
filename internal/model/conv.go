package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// convNet is the gated convolutional encoder paired with an attentive
// GRU decoder.
//
// Each encoder layer slides a centered window of kernelSize positions
// over the sequence, projects the concatenated window to twice the
// hidden size, gates it with a GLU and adds a residual scaled by
// sqrt(0.5). Out-of-range window positions read as zeros.
type convNet struct {
	device     tensor.Device
	pad        int
	hidDim     int
	kernelSize int

	embEnc     *nn.Embedding
	encDropout *nn.Dropout
	inProj     *nn.Linear   // emb dim -> hidden
	convs      []*nn.Linear // kernel*hidden -> 2*hidden, one per layer

	bridge *nn.Linear // hidden -> dec hidden
	attn   *attention

	embDec     *nn.Embedding
	decCell    *nn.GRUCell
	decDropout *nn.Dropout
	out        *nn.Linear
}

func newConvNet(cfg Config, tok Tokens, device tensor.Device, rng *rand.Rand) *convNet {
	n := &convNet{
		device:     device,
		pad:        tok.Pad,
		hidDim:     cfg.EncHidDim,
		kernelSize: cfg.EncKernelSize,
		embEnc:     nn.NewEmbedding(rng, tok.VocabSize, cfg.EmbEncDim, device),
		encDropout: nn.NewDropout(cfg.EncDropout),
		inProj:     nn.NewLinear(rng, cfg.EmbEncDim, cfg.EncHidDim, device),
		bridge:     nn.NewLinear(rng, cfg.EncHidDim, cfg.DecHidDim, device),
		attn:       newAttention(rng, cfg.EncHidDim, cfg.DecHidDim, device),
		embDec:     nn.NewEmbedding(rng, tok.VocabSize, cfg.EmbDecDim, device),
		decCell:    nn.NewGRUCell(rng, cfg.EmbDecDim+cfg.EncHidDim, cfg.DecHidDim, device),
		decDropout: nn.NewDropout(cfg.DecDropout),
		out:        nn.NewLinear(rng, cfg.DecHidDim+cfg.EncHidDim+cfg.EmbDecDim, tok.VocabSize, device),
	}
	for i := 0; i < cfg.EncLayers; i++ {
		n.convs = append(n.convs, nn.NewLinear(rng, cfg.EncKernelSize*cfg.EncHidDim, 2*cfg.EncHidDim, device))
	}
	return n
}

type convState struct {
	hidden  *tensor.Tensor
	encOuts []*tensor.Tensor
	keys    []*tensor.Tensor
	mask    *tensor.Tensor
}

func (n *convNet) start(rc *runCtx, src [][]int, srcLen []int) decoderState {
	batchSize := len(src)
	width := len(src[0])
	residualScale := math.Sqrt(0.5)

	hs := make([]*tensor.Tensor, width)
	for t := 0; t < width; t++ {
		emb := n.encDropout.Forward(rc.o, n.embEnc.Forward(rc.o, column(src, t)), rc.rng, rc.training)
		hs[t] = n.inProj.Forward(rc.o, emb)
	}

	zero := zeroInput(n.device, batchSize, n.hidDim)
	half := (n.kernelSize - 1) / 2
	for _, conv := range n.convs {
		next := make([]*tensor.Tensor, width)
		for t := 0; t < width; t++ {
			window := make([]*tensor.Tensor, 0, n.kernelSize)
			for k := t - half; k < t-half+n.kernelSize; k++ {
				if k < 0 || k >= width {
					window = append(window, zero)
				} else {
					window = append(window, hs[k])
				}
			}
			gated := rc.o.GLU(conv.Forward(rc.o, rc.o.Concat(window...)))
			next[t] = rc.o.Scale(rc.o.Add(gated, hs[t]), residualScale)
		}
		hs = next
	}

	// Mean-pool the encoder outputs to seed the decoder hidden state.
	pooled := hs[0]
	for t := 1; t < width; t++ {
		pooled = rc.o.Add(pooled, hs[t])
	}
	h0 := rc.o.Tanh(n.bridge.Forward(rc.o, rc.o.Scale(pooled, 1/float64(width))))

	return &convState{
		hidden:  h0,
		encOuts: hs,
		keys:    n.attn.keysFor(rc, hs),
		mask:    padMask(src, n.pad, n.device),
	}
}

func (n *convNet) step(rc *runCtx, st decoderState, input []int) (*tensor.Tensor, decoderState) {
	s := st.(*convState)
	emb := n.decDropout.Forward(rc.o, n.embDec.Forward(rc.o, input), rc.rng, rc.training)

	context := n.attn.attend(rc, s.hidden, s.encOuts, s.keys, s.mask)
	h := n.decCell.Forward(rc.o, rc.o.Concat(emb, context), s.hidden)
	logits := n.out.Forward(rc.o, rc.o.Concat(h, context, emb))
	return logits, &convState{hidden: h, encOuts: s.encOuts, keys: s.keys, mask: s.mask}
}

func (n *convNet) parameters() []*nn.Parameter {
	var params []*nn.Parameter
	params = append(params, nn.Prefixed("encoder.embedding", n.embEnc.Parameters())...)
	params = append(params, nn.Prefixed("encoder.proj", n.inProj.Parameters())...)
	for i, conv := range n.convs {
		params = append(params, nn.Prefixed(fmt.Sprintf("encoder.conv.%d", i), conv.Parameters())...)
	}
	params = append(params, nn.Prefixed("bridge", n.bridge.Parameters())...)
	params = append(params, n.attn.parameters()...)
	params = append(params, nn.Prefixed("decoder.embedding", n.embDec.Parameters())...)
	params = append(params, nn.Prefixed("decoder.rnn", n.decCell.Parameters())...)
	params = append(params, nn.Prefixed("decoder.out", n.out.Parameters())...)
	return params
}
