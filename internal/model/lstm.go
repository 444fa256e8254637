package model

import (
	"fmt"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// lstmNet is the stacked LSTM encoder-decoder. Decoder layer i starts
// from encoder layer i's final hidden and cell state; extra decoder
// layers start from zeros.
type lstmNet struct {
	device     tensor.Device
	hiddenSize int

	embEnc     *nn.Embedding
	encCells   []*nn.LSTMCell
	encDropout *nn.Dropout

	embDec     *nn.Embedding
	decCells   []*nn.LSTMCell
	decDropout *nn.Dropout
	out        *nn.Linear
}

func newLSTMNet(cfg Config, tok Tokens, device tensor.Device, rng *rand.Rand) *lstmNet {
	n := &lstmNet{
		device:     device,
		hiddenSize: cfg.HiddenSize,
		embEnc:     nn.NewEmbedding(rng, tok.VocabSize, cfg.EmbEncDim, device),
		encDropout: nn.NewDropout(cfg.EncDropout),
		embDec:     nn.NewEmbedding(rng, tok.VocabSize, cfg.EmbDecDim, device),
		decDropout: nn.NewDropout(cfg.DecDropout),
		out:        nn.NewLinear(rng, cfg.HiddenSize, tok.VocabSize, device),
	}
	for i := 0; i < cfg.EncLayers; i++ {
		in := cfg.HiddenSize
		if i == 0 {
			in = cfg.EmbEncDim
		}
		n.encCells = append(n.encCells, nn.NewLSTMCell(rng, in, cfg.HiddenSize, device))
	}
	for i := 0; i < cfg.DecLayers; i++ {
		in := cfg.HiddenSize
		if i == 0 {
			in = cfg.EmbDecDim
		}
		n.decCells = append(n.decCells, nn.NewLSTMCell(rng, in, cfg.HiddenSize, device))
	}
	return n
}

type lstmState struct {
	hidden []*tensor.Tensor // per decoder layer, [batch, hidden]
	cell   []*tensor.Tensor
}

func (n *lstmNet) start(rc *runCtx, src [][]int, srcLen []int) decoderState {
	batchSize := len(src)
	hs := make([]*tensor.Tensor, len(n.encCells))
	cs := make([]*tensor.Tensor, len(n.encCells))
	for i := range n.encCells {
		hs[i] = zeroInput(n.device, batchSize, n.hiddenSize)
		cs[i] = zeroInput(n.device, batchSize, n.hiddenSize)
	}

	for t := 0; t < len(src[0]); t++ {
		x := n.encDropout.Forward(rc.o, n.embEnc.Forward(rc.o, column(src, t)), rc.rng, rc.training)
		for i, cell := range n.encCells {
			hs[i], cs[i] = cell.Forward(rc.o, x, hs[i], cs[i])
			x = hs[i]
		}
	}

	st := &lstmState{
		hidden: make([]*tensor.Tensor, len(n.decCells)),
		cell:   make([]*tensor.Tensor, len(n.decCells)),
	}
	for i := range n.decCells {
		if i < len(hs) {
			st.hidden[i], st.cell[i] = hs[i], cs[i]
		} else {
			st.hidden[i] = zeroInput(n.device, batchSize, n.hiddenSize)
			st.cell[i] = zeroInput(n.device, batchSize, n.hiddenSize)
		}
	}
	return st
}

func (n *lstmNet) step(rc *runCtx, st decoderState, input []int) (*tensor.Tensor, decoderState) {
	s := st.(*lstmState)
	next := &lstmState{
		hidden: make([]*tensor.Tensor, len(n.decCells)),
		cell:   make([]*tensor.Tensor, len(n.decCells)),
	}
	x := n.decDropout.Forward(rc.o, n.embDec.Forward(rc.o, input), rc.rng, rc.training)
	for i, cell := range n.decCells {
		next.hidden[i], next.cell[i] = cell.Forward(rc.o, x, s.hidden[i], s.cell[i])
		x = next.hidden[i]
	}
	return n.out.Forward(rc.o, x), next
}

func (n *lstmNet) parameters() []*nn.Parameter {
	var params []*nn.Parameter
	params = append(params, nn.Prefixed("encoder.embedding", n.embEnc.Parameters())...)
	for i, cell := range n.encCells {
		params = append(params, nn.Prefixed(fmt.Sprintf("encoder.rnn.%d", i), cell.Parameters())...)
	}
	params = append(params, nn.Prefixed("decoder.embedding", n.embDec.Parameters())...)
	for i, cell := range n.decCells {
		params = append(params, nn.Prefixed(fmt.Sprintf("decoder.rnn.%d", i), cell.Parameters())...)
	}
	params = append(params, nn.Prefixed("decoder.out", n.out.Parameters())...)
	return params
}
