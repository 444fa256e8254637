// Package model implements the encoder-decoder network variants used
// for character-level word segmentation.
//
// Four architectures are available, selected by name:
//   - "gru": unidirectional GRU encoder and decoder
//   - "lstm": stacked LSTM encoder and decoder
//   - "bi-gru": bidirectional GRU encoder with additive attention
//   - "conv": gated convolutional encoder with an attentive GRU decoder
//
// All variants share the same training and inference loop: the
// decoder is advanced one position at a time, optionally fed the true
// previous target token (teacher forcing), and per-position logits are
// stacked into a single cross-entropy computation that ignores padding.
package model

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/Jean-Baptiste-Camps/boudams/internal/autodiff"
	"github.com/Jean-Baptiste-Camps/boudams/internal/nn"
	"github.com/Jean-Baptiste-Camps/boudams/internal/score"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

// ErrUnknownSystem is returned when the architecture selector does not
// name one of the implemented variants.
var ErrUnknownSystem = errors.New("model: unknown system")

// Architecture selector values.
const (
	SystemGRU   = "gru"
	SystemLSTM  = "lstm"
	SystemBiGRU = "bi-gru"
	SystemConv  = "conv"
)

// Systems lists the valid architecture selectors.
func Systems() []string {
	return []string{SystemGRU, SystemLSTM, SystemBiGRU, SystemConv}
}

// Tokens carries the special ids and the vocabulary size the network
// is built against.
type Tokens struct {
	Pad       int
	SOS       int
	EOS       int
	VocabSize int
}

// Config holds the architecture hyperparameters. The fields mirror
// the settings stored in a model archive.
type Config struct {
	System              string
	HiddenSize          int
	EncHidDim           int
	DecHidDim           int
	EmbEncDim           int
	EmbDecDim           int
	EncLayers           int
	DecLayers           int
	EncDropout          float64
	DecDropout          float64
	EncKernelSize       int
	DecKernelSize       int
	OutMaxLength        int
	TeacherForcingRatio float64
}

// DefaultConfig returns the hyperparameters used when nothing is
// overridden.
func DefaultConfig(system string) Config {
	return Config{
		System:              system,
		HiddenSize:          256,
		EncHidDim:           256,
		DecHidDim:           256,
		EmbEncDim:           256,
		EmbDecDim:           256,
		EncLayers:           10,
		DecLayers:           10,
		EncDropout:          0.5,
		DecDropout:          0.5,
		EncKernelSize:       3,
		DecKernelSize:       3,
		OutMaxLength:        150,
		TeacherForcingRatio: 0.5,
	}
}

// runCtx bundles what a network forward pass needs besides its inputs.
type runCtx struct {
	o        *autodiff.Ops
	rng      *rand.Rand
	training bool
}

// decoderState is the opaque per-variant decoding state threaded
// through step calls.
type decoderState interface{}

// network is the capability contract each architecture variant
// implements: encode the source once, then advance the decoder one
// position per step call.
type network interface {
	start(rc *runCtx, src [][]int, srcLen []int) decoderState
	step(rc *runCtx, st decoderState, input []int) (*tensor.Tensor, decoderState)
	parameters() []*nn.Parameter
}

// Model wraps one network variant with the tape, the random source and
// the train/eval mode flag.
type Model struct {
	cfg      Config
	tok      Tokens
	device   tensor.Device
	tape     *autodiff.GradientTape
	rng      *rand.Rand
	net      network
	params   []*nn.Parameter
	training bool
}

// New builds the network variant named by cfg.System. An unrecognized
// selector is an error, never a silent fallback.
func New(cfg Config, tok Tokens, device tensor.Device, rng *rand.Rand) (*Model, error) {
	if tok.VocabSize <= 0 {
		return nil, fmt.Errorf("model: vocabulary size must be positive, got %d", tok.VocabSize)
	}
	var net network
	switch cfg.System {
	case SystemGRU:
		net = newGRUNet(cfg, tok, device, rng)
	case SystemLSTM:
		net = newLSTMNet(cfg, tok, device, rng)
	case SystemBiGRU:
		net = newBiGRUNet(cfg, tok, device, rng)
	case SystemConv:
		net = newConvNet(cfg, tok, device, rng)
	default:
		return nil, fmt.Errorf("%w: %q (valid: %v)", ErrUnknownSystem, cfg.System, Systems())
	}
	return &Model{
		cfg:    cfg,
		tok:    tok,
		device: device,
		tape:   autodiff.NewGradientTape(),
		rng:    rng,
		net:    net,
		params: net.parameters(),
	}, nil
}

// Config returns the architecture hyperparameters.
func (m *Model) Config() Config { return m.cfg }

// Tokens returns the special ids the model was built with.
func (m *Model) Tokens() Tokens { return m.tok }

// Device returns the device the model computes on.
func (m *Model) Device() tensor.Device { return m.device }

// Tape returns the model's gradient tape.
func (m *Model) Tape() *autodiff.GradientTape { return m.tape }

// Parameters returns all trainable parameters in a stable order.
func (m *Model) Parameters() []*nn.Parameter { return m.params }

// Train puts the model in training mode (dropout active).
func (m *Model) Train() { m.training = true }

// Eval puts the model in evaluation mode.
func (m *Model) Eval() { m.training = false }

// MaxLength returns the inference output length cap.
func (m *Model) MaxLength() int { return m.cfg.OutMaxLength }

// InitWeights refills every parameter with U(-0.08, 0.08) from the
// model's random source.
func (m *Model) InitWeights() {
	for _, p := range m.params {
		data := p.Tensor().Data()
		for i := range data {
			data[i] = (m.rng.Float64()*2 - 1) * 0.08
		}
	}
}

// Gradient runs one batch through the network and computes the masked
// cross-entropy loss over target positions 1..T-1.
//
// When evaluate is false the tape records the pass, so the caller can
// back-propagate through the returned loss tensor; when evaluate is
// true the tape is off and the tensor only carries the value. In both
// cases the predicted, true and source id rows of the batch are
// registered into sc (which may be nil when scoring is not wanted).
func (m *Model) Gradient(src [][]int, srcLen []int, trg [][]int, sc *score.Scorer, evaluate bool) (float64, *tensor.Tensor, error) {
	if len(src) == 0 || len(trg) == 0 {
		return 0, nil, errors.New("model: empty batch")
	}
	if len(trg[0]) < 2 {
		return 0, nil, fmt.Errorf("model: target width %d too short to decode", len(trg[0]))
	}

	if evaluate {
		m.tape.StopRecording()
	} else {
		m.tape.Clear()
		m.tape.StartRecording()
	}
	rc := &runCtx{
		o:        autodiff.NewOps(m.tape, m.device),
		rng:      m.rng,
		training: m.training && !evaluate,
	}

	batchSize := len(src)
	width := len(trg[0])
	st := m.net.start(rc, src, srcLen)

	input := column(trg, 0) // start tokens
	stepLogits := make([]*tensor.Tensor, 0, width-1)
	preds := make([][]int, batchSize)
	for row := range preds {
		preds[row] = make([]int, 0, width)
		preds[row] = append(preds[row], trg[row][0])
	}

	for t := 1; t < width; t++ {
		var logits *tensor.Tensor
		logits, st = m.net.step(rc, st, input)
		stepLogits = append(stepLogits, logits)

		best := argmaxRows(logits)
		for row := range preds {
			preds[row] = append(preds[row], best[row])
		}

		if rc.training && m.rng.Float64() < m.cfg.TeacherForcingRatio {
			input = column(trg, t)
		} else {
			input = best
		}
	}

	all := rc.o.ConcatRows(stepLogits...)
	targets := make([]int, 0, (width-1)*batchSize)
	for t := 1; t < width; t++ {
		targets = append(targets, column(trg, t)...)
	}
	loss := rc.o.CrossEntropy(all, targets, m.tok.Pad)

	if sc != nil {
		sc.RegisterBatch(preds, trg, src)
	}
	return loss.Item(), loss, nil
}

// Predict decodes the batch greedily with no target: each step feeds
// the previous argmax back in, up to the configured output cap or
// until a row emits the end id. Rows are returned without padding,
// starting with the start id.
func (m *Model) Predict(src [][]int, srcLen []int) [][]int {
	m.tape.StopRecording()
	rc := &runCtx{o: autodiff.NewOps(m.tape, m.device), rng: m.rng, training: false}

	batchSize := len(src)
	st := m.net.start(rc, src, srcLen)

	input := make([]int, batchSize)
	for i := range input {
		input[i] = m.tok.SOS
	}
	out := make([][]int, batchSize)
	done := make([]bool, batchSize)
	for row := range out {
		out[row] = []int{m.tok.SOS}
	}

	for t := 1; t < m.cfg.OutMaxLength; t++ {
		var logits *tensor.Tensor
		logits, st = m.net.step(rc, st, input)
		best := argmaxRows(logits)

		allDone := true
		for row := range out {
			if done[row] {
				continue
			}
			out[row] = append(out[row], best[row])
			if best[row] == m.tok.EOS {
				done[row] = true
			} else {
				allDone = false
			}
		}
		if allDone {
			break
		}
		input = best
	}
	return out
}

// column extracts one position across all rows of an id grid.
func column(grid [][]int, t int) []int {
	out := make([]int, len(grid))
	for row := range grid {
		out[row] = grid[row][t]
	}
	return out
}

// argmaxRows returns the best-scoring class per row.
func argmaxRows(logits *tensor.Tensor) []int {
	rows, cols := logits.Rows(), logits.Cols()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		best, bestV := 0, logits.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := logits.At(i, j); v > bestV {
				best, bestV = j, v
			}
		}
		out[i] = best
	}
	return out
}
