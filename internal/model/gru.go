package model

import (
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// gruNet is the plain GRU encoder-decoder without attention. The
// encoder's final hidden state, passed through a tanh bridge, seeds
// the decoder.
type gruNet struct {
	device tensor.Device

	embEnc     *nn.Embedding
	encCell    *nn.GRUCell
	encDropout *nn.Dropout

	bridge *nn.Linear // enc hidden -> dec hidden

	embDec     *nn.Embedding
	decCell    *nn.GRUCell
	decDropout *nn.Dropout
	out        *nn.Linear
}

func newGRUNet(cfg Config, tok Tokens, device tensor.Device, rng *rand.Rand) *gruNet {
	return &gruNet{
		device:     device,
		embEnc:     nn.NewEmbedding(rng, tok.VocabSize, cfg.EmbEncDim, device),
		encCell:    nn.NewGRUCell(rng, cfg.EmbEncDim, cfg.EncHidDim, device),
		encDropout: nn.NewDropout(cfg.EncDropout),
		bridge:     nn.NewLinear(rng, cfg.EncHidDim, cfg.DecHidDim, device),
		embDec:     nn.NewEmbedding(rng, tok.VocabSize, cfg.EmbDecDim, device),
		decCell:    nn.NewGRUCell(rng, cfg.EmbDecDim, cfg.DecHidDim, device),
		decDropout: nn.NewDropout(cfg.DecDropout),
		out:        nn.NewLinear(rng, cfg.DecHidDim, tok.VocabSize, device),
	}
}

type gruState struct {
	hidden *tensor.Tensor // [batch, dec hidden]
}

func (n *gruNet) start(rc *runCtx, src [][]int, srcLen []int) decoderState {
	batchSize := len(src)
	h := nn.Zeros(tensor.Shape{batchSize, n.encCell.HiddenSize()}, n.device)
	for t := 0; t < len(src[0]); t++ {
		emb := n.encDropout.Forward(rc.o, n.embEnc.Forward(rc.o, column(src, t)), rc.rng, rc.training)
		h = n.encCell.Forward(rc.o, emb, h)
	}
	return &gruState{hidden: rc.o.Tanh(n.bridge.Forward(rc.o, h))}
}

func (n *gruNet) step(rc *runCtx, st decoderState, input []int) (*tensor.Tensor, decoderState) {
	s := st.(*gruState)
	emb := n.decDropout.Forward(rc.o, n.embDec.Forward(rc.o, input), rc.rng, rc.training)
	h := n.decCell.Forward(rc.o, emb, s.hidden)
	return n.out.Forward(rc.o, h), &gruState{hidden: h}
}

func (n *gruNet) parameters() []*nn.Parameter {
	var params []*nn.Parameter
	params = append(params, nn.Prefixed("encoder.embedding", n.embEnc.Parameters())...)
	params = append(params, nn.Prefixed("encoder.rnn", n.encCell.Parameters())...)
	params = append(params, nn.Prefixed("bridge", n.bridge.Parameters())...)
	params = append(params, nn.Prefixed("decoder.embedding", n.embDec.Parameters())...)
	params = append(params, nn.Prefixed("decoder.rnn", n.decCell.Parameters())...)
	params = append(params, nn.Prefixed("decoder.out", n.out.Parameters())...)
	return params
}

// zeroInput returns a constant zero block used to pad convolution
// windows and empty contexts.
func zeroInput(device tensor.Device, rows, cols int) *tensor.Tensor {
	return nn.Zeros(tensor.Shape{rows, cols}, device)
}

