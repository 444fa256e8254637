package model

import (
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// bigruNet is the bidirectional GRU encoder with additive attention.
// The decoder consumes, at every step, its previous hidden state, the
// embedded previous token and an attention-weighted context over the
// encoder outputs.
type bigruNet struct {
	device tensor.Device
	pad    int

	embEnc     *nn.Embedding
	encFwd     *nn.GRUCell
	encBwd     *nn.GRUCell
	encDropout *nn.Dropout

	bridge *nn.Linear // [2*enc hidden] -> dec hidden
	attn   *attention

	embDec     *nn.Embedding
	decCell    *nn.GRUCell
	decDropout *nn.Dropout
	out        *nn.Linear
}

func newBiGRUNet(cfg Config, tok Tokens, device tensor.Device, rng *rand.Rand) *bigruNet {
	encOut := 2 * cfg.EncHidDim
	return &bigruNet{
		device:     device,
		pad:        tok.Pad,
		embEnc:     nn.NewEmbedding(rng, tok.VocabSize, cfg.EmbEncDim, device),
		encFwd:     nn.NewGRUCell(rng, cfg.EmbEncDim, cfg.EncHidDim, device),
		encBwd:     nn.NewGRUCell(rng, cfg.EmbEncDim, cfg.EncHidDim, device),
		encDropout: nn.NewDropout(cfg.EncDropout),
		bridge:     nn.NewLinear(rng, encOut, cfg.DecHidDim, device),
		attn:       newAttention(rng, encOut, cfg.DecHidDim, device),
		embDec:     nn.NewEmbedding(rng, tok.VocabSize, cfg.EmbDecDim, device),
		decCell:    nn.NewGRUCell(rng, cfg.EmbDecDim+encOut, cfg.DecHidDim, device),
		decDropout: nn.NewDropout(cfg.DecDropout),
		out:        nn.NewLinear(rng, cfg.DecHidDim+encOut+cfg.EmbDecDim, tok.VocabSize, device),
	}
}

type bigruState struct {
	hidden  *tensor.Tensor   // [batch, dec hidden]
	encOuts []*tensor.Tensor // per source position, [batch, 2*enc hidden]
	keys    []*tensor.Tensor // attention key projections, precomputed
	mask    *tensor.Tensor   // [batch, src width] additive pad mask
}

func (n *bigruNet) start(rc *runCtx, src [][]int, srcLen []int) decoderState {
	batchSize := len(src)
	width := len(src[0])

	embs := make([]*tensor.Tensor, width)
	for t := 0; t < width; t++ {
		embs[t] = n.encDropout.Forward(rc.o, n.embEnc.Forward(rc.o, column(src, t)), rc.rng, rc.training)
	}

	fwd := make([]*tensor.Tensor, width)
	h := zeroInput(n.device, batchSize, n.encFwd.HiddenSize())
	for t := 0; t < width; t++ {
		h = n.encFwd.Forward(rc.o, embs[t], h)
		fwd[t] = h
	}
	bwd := make([]*tensor.Tensor, width)
	h = zeroInput(n.device, batchSize, n.encBwd.HiddenSize())
	for t := width - 1; t >= 0; t-- {
		h = n.encBwd.Forward(rc.o, embs[t], h)
		bwd[t] = h
	}

	encOuts := make([]*tensor.Tensor, width)
	for t := 0; t < width; t++ {
		encOuts[t] = rc.o.Concat(fwd[t], bwd[t])
	}

	h0 := rc.o.Tanh(n.bridge.Forward(rc.o, rc.o.Concat(fwd[width-1], bwd[0])))
	return &bigruState{
		hidden:  h0,
		encOuts: encOuts,
		keys:    n.attn.keysFor(rc, encOuts),
		mask:    padMask(src, n.pad, n.device),
	}
}

func (n *bigruNet) step(rc *runCtx, st decoderState, input []int) (*tensor.Tensor, decoderState) {
	s := st.(*bigruState)
	emb := n.decDropout.Forward(rc.o, n.embDec.Forward(rc.o, input), rc.rng, rc.training)

	context := n.attn.attend(rc, s.hidden, s.encOuts, s.keys, s.mask)
	h := n.decCell.Forward(rc.o, rc.o.Concat(emb, context), s.hidden)
	logits := n.out.Forward(rc.o, rc.o.Concat(h, context, emb))
	return logits, &bigruState{hidden: h, encOuts: s.encOuts, keys: s.keys, mask: s.mask}
}

func (n *bigruNet) parameters() []*nn.Parameter {
	var params []*nn.Parameter
	params = append(params, nn.Prefixed("encoder.embedding", n.embEnc.Parameters())...)
	params = append(params, nn.Prefixed("encoder.fwd", n.encFwd.Parameters())...)
	params = append(params, nn.Prefixed("encoder.bwd", n.encBwd.Parameters())...)
	params = append(params, nn.Prefixed("bridge", n.bridge.Parameters())...)
	params = append(params, n.attn.parameters()...)
	params = append(params, nn.Prefixed("decoder.embedding", n.embDec.Parameters())...)
	params = append(params, nn.Prefixed("decoder.rnn", n.decCell.Parameters())...)
	params = append(params, nn.Prefixed("decoder.out", n.out.Parameters())...)
	return params
}
