package model

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jean-Baptiste-Camps/boudams/internal/score"
	"github.com/Jean-Baptiste-Camps/boudams/internal/tensor"
)

func tinyConfig(system string) Config {
	return Config{
		System:              system,
		HiddenSize:          8,
		EncHidDim:           8,
		DecHidDim:           8,
		EmbEncDim:           6,
		EmbDecDim:           6,
		EncLayers:           2,
		DecLayers:           2,
		EncDropout:          0,
		DecDropout:          0,
		EncKernelSize:       3,
		DecKernelSize:       3,
		OutMaxLength:        12,
		TeacherForcingRatio: 0.5,
	}
}

func tinyTokens() Tokens {
	return Tokens{Pad: 0, SOS: 1, EOS: 2, VocabSize: 10}
}

// Two examples, the second padded on both sides.
func tinyBatch() (src [][]int, srcLen []int, trg [][]int) {
	src = [][]int{
		{1, 4, 5, 6, 2},
		{1, 7, 8, 2, 0},
	}
	srcLen = []int{5, 4}
	trg = [][]int{
		{1, 4, 9, 5, 6, 2},
		{1, 7, 8, 2, 0, 0},
	}
	return src, srcLen, trg
}

func TestNewRejectsUnknownSystem(t *testing.T) {
	cfg := tinyConfig("transformer")
	_, err := New(cfg, tinyTokens(), tensor.CPU, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSystem))
	assert.Contains(t, err.Error(), "transformer")
}

func TestNewRejectsEmptyVocabulary(t *testing.T) {
	_, err := New(tinyConfig(SystemGRU), Tokens{}, tensor.CPU, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestGradientFlowsToAllParameters(t *testing.T) {
	for _, system := range Systems() {
		t.Run(system, func(t *testing.T) {
			m, err := New(tinyConfig(system), tinyTokens(), tensor.CPU, rand.New(rand.NewSource(1)))
			require.NoError(t, err)
			m.Train()

			src, srcLen, trg := tinyBatch()
			loss, lossT, err := m.Gradient(src, srcLen, trg, nil, false)
			require.NoError(t, err)
			require.False(t, math.IsNaN(loss))
			require.False(t, math.IsInf(loss, 0))
			assert.InDelta(t, loss, lossT.Item(), 1e-12)

			grads := m.Tape().Backward(tensor.Scalar(1, tensor.CPU))
			for _, p := range m.Parameters() {
				assert.Contains(t, grads, p.Tensor(), "%s: no gradient for %s", system, p.Name())
			}
		})
	}
}

func TestGradientEvaluateIsDeterministic(t *testing.T) {
	for _, system := range Systems() {
		t.Run(system, func(t *testing.T) {
			m, err := New(tinyConfig(system), tinyTokens(), tensor.CPU, rand.New(rand.NewSource(2)))
			require.NoError(t, err)
			m.Eval()

			src, srcLen, trg := tinyBatch()
			first, _, err := m.Gradient(src, srcLen, trg, nil, true)
			require.NoError(t, err)
			second, _, err := m.Gradient(src, srcLen, trg, nil, true)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestGradientEvaluateRecordsNothing(t *testing.T) {
	m, err := New(tinyConfig(SystemGRU), tinyTokens(), tensor.CPU, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	m.Eval()

	src, srcLen, trg := tinyBatch()
	_, _, err = m.Gradient(src, srcLen, trg, nil, true)
	require.NoError(t, err)
	assert.Zero(t, m.Tape().NumOps())
}

func TestGradientRegistersScorerRows(t *testing.T) {
	m, err := New(tinyConfig(SystemBiGRU), tinyTokens(), tensor.CPU, rand.New(rand.NewSource(4)))
	require.NoError(t, err)
	m.Eval()

	sc := score.NewScorer(idDecoder{})
	src, srcLen, trg := tinyBatch()
	_, _, err = m.Gradient(src, srcLen, trg, sc, true)
	require.NoError(t, err)
	assert.Equal(t, 2, sc.Len())
}

func TestGradientRejectsDegenerateBatches(t *testing.T) {
	m, err := New(tinyConfig(SystemGRU), tinyTokens(), tensor.CPU, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	_, _, err = m.Gradient(nil, nil, nil, nil, true)
	assert.Error(t, err)

	_, _, err = m.Gradient([][]int{{1, 2}}, []int{2}, [][]int{{1}}, nil, true)
	assert.Error(t, err)
}

func TestPredict(t *testing.T) {
	for _, system := range Systems() {
		t.Run(system, func(t *testing.T) {
			m, err := New(tinyConfig(system), tinyTokens(), tensor.CPU, rand.New(rand.NewSource(6)))
			require.NoError(t, err)
			m.Eval()

			src, srcLen, _ := tinyBatch()
			out := m.Predict(src, srcLen)
			require.Len(t, out, 2)
			for _, row := range out {
				assert.Equal(t, 1, row[0], "rows start with the start id")
				assert.LessOrEqual(t, len(row), m.MaxLength())
				// At most one end id, and only as the last element.
				for i, id := range row {
					if id == 2 {
						assert.Equal(t, len(row)-1, i)
					}
				}
			}
		})
	}
}

func TestInitWeightsIsSeeded(t *testing.T) {
	build := func(seed int64) *Model {
		m, err := New(tinyConfig(SystemGRU), tinyTokens(), tensor.CPU, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		m.InitWeights()
		return m
	}
	a, b := build(42), build(42)

	pa, pb := a.Parameters(), b.Parameters()
	require.Equal(t, len(pa), len(pb))
	for i := range pa {
		assert.Equal(t, pa[i].Tensor().Data(), pb[i].Tensor().Data(), pa[i].Name())
	}
	for _, p := range pa {
		for _, v := range p.Tensor().Data() {
			assert.LessOrEqual(t, math.Abs(v), 0.08)
		}
	}
}

// idDecoder is a trivial score.Decoder for tests.
type idDecoder struct{}

func (idDecoder) DecodeWithSource(ids, src []int) string {
	out := make([]rune, 0, len(ids))
	for _, id := range ids {
		if id > 3 {
			out = append(out, rune('a'+id))
		}
	}
	return string(out)
}

func (idDecoder) PadIndex() int { return 0 }
